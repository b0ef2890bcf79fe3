package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/story-service/internal/app"
	"github.com/spf13/cobra"
)

const healthTimeout = 10 * time.Second

var errUnhealthy = errors.New("one or more model endpoints are unhealthy")

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

type endpoint struct {
	name    string
	checker healthChecker
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the captioning and speech endpoints are reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, creds, log, err := ctx.ensure()
			defer ctx.close()

			if err != nil {
				return err
			}

			stages := app.NewStages(cfg, creds, log)

			rows, healthy := checkEndpoints(cmd.Context(), []endpoint{
				{name: "caption", checker: stages.Captioner},
				{name: "synthesize", checker: stages.Synthesizer},
			})

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(out, [2]string{"Endpoint", "Status"}, rows))

			if !healthy {
				log.Error("Health check failed")

				return errUnhealthy
			}

			return nil
		},
	}
}

// checkEndpoints probes each endpoint in order and reports whether all passed.
func checkEndpoints(ctx context.Context, endpoints []endpoint) ([][2]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	healthy := true
	rows := make([][2]string, 0, len(endpoints))

	for _, target := range endpoints {
		status := "ok"

		err := target.checker.HealthCheck(ctx)
		if err != nil {
			healthy = false
			status = err.Error()
		}

		rows = append(rows, [2]string{target.name, status})
	}

	return rows, healthy
}
