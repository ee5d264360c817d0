package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/danielhendel/oli-sub001/internal/auth"
	"github.com/danielhendel/oli-sub001/internal/config"
	"github.com/danielhendel/oli-sub001/internal/httpapi"
	"github.com/danielhendel/oli-sub001/internal/ingest"
	"github.com/danielhendel/oli-sub001/internal/logging"
	"github.com/danielhendel/oli-sub001/internal/metrics"
	"github.com/danielhendel/oli-sub001/internal/normalize"
	"github.com/danielhendel/oli-sub001/internal/pagination"
	"github.com/danielhendel/oli-sub001/internal/ratelimit"
	"github.com/danielhendel/oli-sub001/internal/store"
	"github.com/danielhendel/oli-sub001/internal/trigger"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve runs the HTTP API until SIGINT or SIGTERM.

Configuration comes from defaults, the YAML file named by HEALTHLEDGER_CONFIG
and HEALTHLEDGER_* environment variables. The --db flag overrides db_path.
With trigger_mode nats the process also consumes run requests.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			if cmd.Flags().Changed("db") {
				cfg.DBPath = rootOpts.Database
			}

			ctx, stop := signal.NotifyContext(orBackground(cmd.Context()), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	logging.SetDefault(logger)
	m := metrics.NewManager()

	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer s.Close()
	a := newApp(s, logger, m)

	publisher, cleanup, err := newPublisher(cfg, a, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	limiter, err := newLimiter(ctx, cfg)
	if err != nil {
		return err
	}
	defer limiter.Close()

	schemas, err := ingest.LoadSchemas()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load payload schemas", err)
	}
	tokens, err := auth.NewTokens(cfg.JWTSecret)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid jwt secret", err)
	}

	svc := ingest.NewService(s, s, schemas,
		ingest.WithNormalizer(normalize.New(s, nil)),
		ingest.WithPublisher(publisher),
		ingest.WithFailureRecorder(a.failures),
		ingest.WithLogger(logger),
		ingest.WithMetrics(m),
	)
	srv := httpapi.NewServer(httpapi.Deps{
		Store:            s,
		Ingest:           svc,
		Builder:          a.builder,
		Replay:           a.reader,
		Tokens:           tokens,
		Cursors:          pagination.NewCodec([]byte(cfg.CursorSecret)),
		Limiter:          limiter,
		Metrics:          m,
		Logger:           logger,
		PageDefaultLimit: cfg.PageDefaultLimit,
		PageMaxLimit:     cfg.PageMaxLimit,
	})

	logger.Info("healthledger starting",
		"addr", cfg.Addr,
		"db", cfg.DBPath,
		"trigger_mode", cfg.TriggerMode,
		"rate_limit", cfg.RateLimitEnabled,
	)
	if err := httpapi.Serve(ctx, cfg.Addr, srv.Handler(), cfg.ShutdownTimeout, logger); err != nil {
		return WrapExitError(ExitFailure, "server failed", err)
	}
	return nil
}

// newPublisher returns the run trigger for cfg.TriggerMode. In nats mode
// the process both publishes and consumes.
func newPublisher(cfg *config.Config, a *app, logger *logging.Logger) (trigger.Publisher, func(), error) {
	switch cfg.TriggerMode {
	case trigger.ModeNone:
		return trigger.Discard{}, func() {}, nil
	case trigger.ModeNATS:
		natsCfg := trigger.DefaultConfig()
		natsCfg.URL = cfg.NATSURL
		conn, err := trigger.Connect(natsCfg, logger)
		if err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "failed to connect to nats", err)
		}
		consumer := trigger.NewNATSConsumer(conn, a.builder, logger, 0)
		if err := consumer.Start(); err != nil {
			conn.Close()
			return nil, nil, WrapExitError(ExitCommandError, "failed to start run consumer", err)
		}
		cleanup := func() {
			if err := consumer.Stop(); err != nil {
				logger.Warn("run consumer stop", logging.Error(err))
			}
			if err := conn.Drain(); err != nil {
				logger.Warn("nats drain", logging.Error(err))
			}
		}
		return trigger.NewNATSPublisher(conn), cleanup, nil
	default:
		return trigger.NewInline(a.builder, logger), func() {}, nil
	}
}

func newLimiter(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, error) {
	if !cfg.RateLimitEnabled {
		return ratelimit.Disabled{}, nil
	}
	l, err := ratelimit.Dial(ctx, cfg.RedisURL, cfg.RateLimitRequests, cfg.RateLimitWindow)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("rate limiter at %s", cfg.RedisURL), err)
	}
	return l, nil
}
