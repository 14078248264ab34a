package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/intake/internal/query"
	"github.com/roach88/intake/internal/supervisor"
)

// HealthOptions holds flags for the health command.
type HealthOptions struct {
	*RootOptions
	Timeout time.Duration
}

// HealthResult is the output of the health command.
type HealthResult struct {
	Database string `json:"database"`
	Healthy  bool   `json:"healthy"`
}

func (r HealthResult) String() string {
	if r.Healthy {
		return "healthy: " + r.Database
	}
	return "unhealthy: " + r.Database
}

// NewHealthCommand creates the health command.
func NewHealthCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HealthOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the database answers on every connection mode",
		Long: `Start one writer and one reader on the configured database and run a
trivial statement on each.

Exit codes:
  0 - healthy
  1 - a worker failed to answer
  2 - the database could not be opened`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 5*time.Second, "time allowed for the check")

	return cmd
}

func runHealth(cmd *cobra.Command, opts *HealthOptions) error {
	cfg, err := opts.load(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	sup, err := supervisor.Spawn(ctx, cfg.Database.Path,
		supervisor.WithWorkers(query.Default, 1),
		supervisor.WithWorkers(query.Background, 1),
		supervisor.WithStoreOptions(storeOptions(cfg)...),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start database workers", err)
	}
	defer sup.Despawn()

	out := opts.formatter(cmd)
	result := HealthResult{Database: cfg.Database.Path}
	if err := sup.AssertHealthy(ctx); err != nil {
		out.Error(CodeUnhealthy, err.Error(), result)
		return WrapExitError(ExitFailure, "database is unhealthy", err)
	}
	result.Healthy = true
	return out.Success(result)
}
