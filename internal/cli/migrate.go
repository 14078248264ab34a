package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/intake/internal/migrate"
	"github.com/roach88/intake/internal/store"
)

// MigrateOptions holds flags for the migrate commands.
type MigrateOptions struct {
	*RootOptions
	Dir string
}

// PlanResult describes a migration plan.
type PlanResult struct {
	Strategy  string   `json:"strategy,omitempty"`
	Pending   []string `json:"pending,omitempty"`
	Failure   string   `json:"failure,omitempty"`
	Migration string   `json:"migration,omitempty"`
	Applied   bool     `json:"applied"`
}

func (r PlanResult) String() string {
	if r.Failure != "" {
		if r.Migration != "" {
			return fmt.Sprintf("%s: %s", r.Failure, r.Migration)
		}
		return r.Failure
	}
	var b strings.Builder
	b.WriteString(r.Strategy)
	if r.Applied {
		b.WriteString(" (applied)")
	}
	for _, name := range r.Pending {
		fmt.Fprintf(&b, "\n  %s", name)
	}
	return b.String()
}

func planResult(p migrate.Plan) PlanResult {
	switch p := p.(type) {
	case *migrate.Strategy:
		r := PlanResult{Strategy: p.Kind.String()}
		for _, m := range p.Pending {
			r.Pending = append(r.Pending, m.Name)
		}
		return r
	case *migrate.Failure:
		r := PlanResult{Failure: p.Kind.String()}
		if p.Migration != nil {
			r.Migration = p.Migration.Name
		}
		return r
	default:
		return PlanResult{Failure: fmt.Sprintf("unknown plan %T", p)}
	}
}

// NewMigrateCommand creates the migrate command with its plan and apply
// subcommands.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Plan or apply schema migrations",
		Long: `Compare the migration ledger of the configured database with the
migrations in --dir (the built-in migrations when unset).

Example:
  intake migrate plan
  intake migrate apply --dir ./migration`,
	}
	cmd.PersistentFlags().StringVar(&opts.Dir, "dir", "", "directory of <id>_<name>.sql migrations")

	cmd.AddCommand(&cobra.Command{
		Use:           "plan",
		Short:         "Show pending migrations without applying them",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, opts, false)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "apply",
		Short:         "Apply pending migrations",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, opts, true)
		},
	})

	return cmd
}

func runMigrate(cmd *cobra.Command, opts *MigrateOptions, apply bool) error {
	cfg, err := opts.load(cmd)
	if err != nil {
		return err
	}
	dir := opts.Dir
	if dir == "" {
		dir = cfg.Database.Migrations
	}

	found, err := migrations(dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read migrations", err)
	}

	db, err := store.Open(cfg.Database.Path, storeOptions(cfg)...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer db.Close()

	planner := migrate.NewPlanner(db)
	plan, err := planner.Plan(cmd.Context(), found)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to plan migrations", err)
	}

	out := opts.formatter(cmd)
	result := planResult(plan)

	s, ok := migrate.Peek(plan)
	if !ok {
		out.Error(CodePlan, "migration plan is not viable", result)
		return NewExitError(ExitFailure, "migration plan is not viable: "+result.String())
	}
	if apply {
		if err := planner.Act(cmd.Context(), s); err != nil {
			out.Error(CodeAct, "migration failed", err.Error())
			return WrapExitError(ExitFailure, "migration failed", err)
		}
		result.Applied = true
	}
	return out.Success(result)
}
