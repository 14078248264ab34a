package cli

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/intake/internal/config"
	"github.com/roach88/intake/internal/migrate"
	"github.com/roach88/intake/internal/store"
	"github.com/roach88/intake/migration"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // path of the config file, "" for ./intake.yaml if present
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the intake CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "intake",
		Short: "intake - device database submission service",
		Long: `Collects device database submissions from Home Assistant installations
into SQLite, and serves signed snapshot downloads of the collected data.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "config file (default ./intake.yaml)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewVoucherCommand(opts))
	cmd.AddCommand(NewBackupCommand(opts))
	cmd.AddCommand(NewHealthCommand(opts))

	return cmd
}

// load resolves the configuration and installs the default logger on
// stderr. --verbose forces debug logging.
func (o *RootOptions) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	level := cfg.Level()
	if o.Verbose {
		level = slog.LevelDebug
	}
	setupLogging(cmd.ErrOrStderr(), level)
	return cfg, nil
}

func setupLogging(w io.Writer, level slog.Level) {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

// storeOptions returns the connection options implied by cfg.
func storeOptions(cfg *config.Config) []store.Option {
	var opts []store.Option
	if cfg.Database.ExternalCheckpoint {
		opts = append(opts, store.WithExternalCheckpoint())
	}
	return opts
}

// migrations discovers migrations in dir, or the embedded ones when dir
// is empty.
func migrations(dir string) ([]migrate.Migration, error) {
	var fsys fs.FS = migration.FS
	if dir != "" {
		fsys = os.DirFS(dir)
	}
	return migrate.Discover(fsys)
}
