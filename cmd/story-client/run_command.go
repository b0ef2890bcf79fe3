package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/book-expert/story-service/internal/app"
	"github.com/book-expert/story-service/internal/artifact"
	"github.com/book-expert/story-service/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	errImageRequired = errors.New("--image must be provided")
	errImageIsDir    = errors.New("--image must point to a file")
)

type runFlags struct {
	image  string
	output string
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Caption an image, write a story about it and synthesize speech",
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := validateRunFlags(flags)
			if err != nil {
				return err
			}

			cfg, creds, log, err := ctx.ensure()
			defer ctx.close()

			if err != nil {
				return err
			}

			if flags.output != "" {
				cfg.Paths.ArtifactPath = flags.output
			}

			image, err := os.ReadFile(flags.image)
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}

			store, err := artifact.NewFileStore(cfg.Paths.ArtifactPath)
			if err != nil {
				return fmt.Errorf("failed to create artifact store: %w", err)
			}

			out := cmd.OutOrStdout()
			runner := app.NewPipeline(app.NewStages(cfg, creds, log), store, log,
				pipeline.WithObserver(progressPrinter(cmd.ErrOrStderr())))

			result := runner.Run(cmd.Context(), image)

			fmt.Fprintln(out, renderTable(out, [2]string{"Field", "Value"}, resultRows(result)))

			if !result.Succeeded() {
				return fmt.Errorf("%s failed: %w", result.FailedStage, result.Err)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&flags.image, "image", "i", "", "JPEG image to narrate")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Audio output path (overrides paths.artifact_path)")

	return cmd
}

func validateRunFlags(flags runFlags) error {
	if strings.TrimSpace(flags.image) == "" {
		return errImageRequired
	}

	info, err := os.Stat(flags.image)
	if err != nil {
		return fmt.Errorf("cannot read image %q: %w", flags.image, err)
	}

	if info.IsDir() {
		return errImageIsDir
	}

	return nil
}

// progressPrinter reports each state change as the run proceeds.
func progressPrinter(writer io.Writer) pipeline.Observer {
	return func(_, to pipeline.State, _ pipeline.Result) {
		fmt.Fprintf(writer, "-> %s\n", to)
	}
}

func resultRows(result pipeline.Result) [][2]string {
	rows := [][2]string{{"State", result.State.String()}}

	if result.Scenario != "" {
		rows = append(rows, [2]string{"Scenario", result.Scenario})
	}

	if result.Story != "" {
		rows = append(rows, [2]string{"Story", result.Story})
	}

	if result.Artifact != nil {
		rows = append(rows,
			[2]string{"Audio", result.Artifact.Location},
			[2]string{"Format", result.Artifact.Format},
			[2]string{"Size", strconv.Itoa(result.Artifact.Size) + " bytes"},
		)
	}

	if result.Err != nil {
		rows = append(rows,
			[2]string{"Failed stage", result.FailedStage},
			[2]string{"Error", result.Err.Error()},
		)
	}

	return rows
}
