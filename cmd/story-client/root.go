package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/story-service/internal/app"
	"github.com/book-expert/story-service/internal/config"
	"github.com/spf13/cobra"
)

const logFileName = "story-client.log"

// commandContext lazily resolves the configuration, credentials and logger
// shared by every subcommand.
type commandContext struct {
	configFlag  *string
	envFileFlag *string

	once  sync.Once
	cfg   *config.Config
	creds app.Credentials
	log   *logger.Logger
	err   error
}

func newRootCommand() *cobra.Command {
	var configFlag string

	var envFileFlag string

	ctx := &commandContext{configFlag: &configFlag, envFileFlag: &envFileFlag}

	rootCmd := &cobra.Command{
		Use:           "story-client",
		Short:         "Caption an image, narrate a story about it and speak it aloud",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (defaults only when empty)")
	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", "", "dotenv file holding API credentials (defaults to .env)")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newHealthCommand(ctx))

	return rootCmd
}

func (c *commandContext) ensure() (*config.Config, app.Credentials, *logger.Logger, error) {
	c.once.Do(func() {
		c.cfg, c.err = loadConfig(strings.TrimSpace(*c.configFlag))
		if c.err != nil {
			return
		}

		c.err = c.cfg.EnsureDirectories()
		if c.err != nil {
			return
		}

		var envFiles []string
		if path := strings.TrimSpace(*c.envFileFlag); path != "" {
			envFiles = append(envFiles, path)
		}

		c.creds, c.err = app.LoadCredentials(c.cfg, envFiles...)
		if c.err != nil {
			c.err = fmt.Errorf("failed to load credentials: %w", c.err)

			return
		}

		c.log, c.err = logger.New(c.cfg.Paths.BaseLogsDir, logFileName)
		if c.err != nil {
			c.err = fmt.Errorf("failed to initialize logger: %w", c.err)

			return
		}

		c.creds.WarnMissing(c.cfg, c.log)
	})

	return c.cfg, c.creds, c.log, c.err
}

// close releases the logger. Subcommands defer it because cobra skips
// post-run hooks when RunE fails.
func (c *commandContext) close() {
	if c.log != nil {
		_ = c.log.Close()
		c.log = nil
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}

	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}
