package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/intake/internal/callback/slack"
	"github.com/roach88/intake/internal/config"
	"github.com/roach88/intake/internal/ingress"
	"github.com/roach88/intake/internal/metrics"
	"github.com/roach88/intake/internal/migrate"
	"github.com/roach88/intake/internal/query"
	"github.com/roach88/intake/internal/signal"
	"github.com/roach88/intake/internal/store"
	"github.com/roach88/intake/internal/submission"
	"github.com/roach88/intake/internal/supervisor"
	"github.com/roach88/intake/internal/voucher"
	"github.com/roach88/intake/internal/web"
)

// healthInterval is how often serve checks that every worker answers.
const healthInterval = 30 * time.Second

// shutdownTimeout bounds how long in-flight requests may take once serve
// is asked to stop.
const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string

	// OnListen, if set, is called with the bound address before requests
	// are accepted.
	OnListen func(addr net.Addr)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept submissions over HTTP",
		Long: `Open the configured database, apply pending migrations (unless
database.migrate is false) and serve the HTTP API until interrupted.

Example:
  intake serve
  INTAKE_SIGNING_VOUCHER=secret intake serve --listen :8080`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (default http.host:http.port)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := opts.load(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireSigning(); err != nil {
		return WrapExitError(ExitCommandError, "missing configuration", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer ossignal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.Database.Migrate {
		if err := migrateOnStart(ctx, cfg); err != nil {
			return err
		}
	}

	sup, err := supervisor.Spawn(ctx, cfg.Database.Path,
		supervisor.WithWorkers(query.Default, cfg.Database.Workers),
		supervisor.WithWorkers(query.Background, cfg.Database.BackgroundWorkers),
		supervisor.WithStoreOptions(append(storeOptions(cfg), store.WithObserver(metrics.QueryObserver{}))...),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start database workers", err)
	}
	defer func() {
		if err := sup.Despawn(); err != nil {
			slog.Error("error stopping database workers", "error", err)
		}
	}()

	// Opened after the writer so the database is already in WAL mode.
	db, err := store.Open(cfg.Database.Path, append(storeOptions(cfg), store.WithMode(query.Read))...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer db.Close()

	if err := metrics.RegisterFilesystem(prometheus.DefaultRegisterer, db); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			slog.Warn("filesystem metrics unavailable", "error", err)
		}
	}

	handler, err := buildRouter(cfg, sup, db)
	if err != nil {
		return err
	}

	addr := opts.Listen
	if addr == "" {
		addr = cfg.HTTP.Address()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	if opts.OnListen != nil {
		opts.OnListen(ln.Addr())
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("listening", "addr", ln.Addr().String(), "database", cfg.Database.Path)
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := sup.AssertHealthy(gctx); err != nil && gctx.Err() == nil {
					slog.Error("database unhealthy", "error", err)
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer done()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// migrateOnStart brings the schema up to date, failing when the ledger
// and the known migrations disagree.
func migrateOnStart(ctx context.Context, cfg *config.Config) error {
	found, err := migrations(cfg.Database.Migrations)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read migrations", err)
	}

	db, err := store.Open(cfg.Database.Path, storeOptions(cfg)...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer db.Close()

	s, err := migrate.NewPlanner(db).Migrate(ctx, found)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to migrate database", err)
	}
	slog.Info("database migrated", "strategy", s.Kind, "applied", len(s.Pending))
	return nil
}

// buildRouter wires the HTTP APIs enabled by cfg.
func buildRouter(cfg *config.Config, sup *supervisor.Supervisor, db *store.Database) (http.Handler, error) {
	codec := voucher.NewCodec([]byte(cfg.Signing.Voucher))

	var providers []signal.Provider
	if hook := cfg.Vendor.Slack.Webhook.Submission; hook != "" {
		providers = append(providers, signal.NewSlack(map[signal.Kind]string{signal.KindSubmission: hook}, nil))
	}

	svc, err := submission.NewService(sup, codec, submission.WithSignal(signal.New(providers...)))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load submission schema", err)
	}

	apis := []web.API{
		web.NewSystemAPI(sup, db, codec, cfg.Signing.TTL),
		web.NewSubmissionAPI(svc),
	}

	if key := cfg.Vendor.Slack.Callback.SigningKey; key != "" {
		if err := cfg.RequireExternal(); err != nil {
			return nil, WrapExitError(ExitCommandError, "slack callback needs a public address", err)
		}
		in, err := ingress.New(cfg.External.Authority, cfg.External.Secure, codec)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid external authority %q", cfg.External.Authority), err)
		}
		apis = append(apis, web.NewSlackAPI(slack.New(key, in)))
	}

	return web.NewRouter(apis...), nil
}
