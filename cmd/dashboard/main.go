package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"exchange-dashboard/internal/api"
	"exchange-dashboard/internal/app"
	"exchange-dashboard/internal/config"
	"exchange-dashboard/internal/logging"
	"exchange-dashboard/internal/metrics"
)

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "dashboard",
		Short:         "Multi-exchange account dashboard backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "config yaml path")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the api_keys schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := bootstrap(configPath)
			if err != nil {
				return err
			}
			return migrate(cmd.Context(), cfg, log)
		},
	})
	return root
}

func bootstrap(path string) (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stderr)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	if cfg.Database.DSN == "" {
		return config.Config{}, zerolog.Nop(), errors.New("database.dsn is required")
	}
	return cfg, log, nil
}

func migrate(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	st, err := app.OpenStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}
	log.Info().Msg("schema up to date")
	return nil
}

func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	st, err := app.OpenStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("close store failed")
		}
	}()

	cache, closeCache, err := app.OpenCache(ctx, cfg.Cache, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeCache(); err != nil {
			log.Warn().Err(err).Msg("close cache failed")
		}
	}()

	rec := metrics.New()
	client, err := app.NewClient(cfg, log, rec)
	if err != nil {
		return err
	}

	srv := api.New(api.Options{
		Store:         st,
		Caller:        client,
		Cache:         cache,
		Limiters:      app.Limiters(cfg.Exchanges),
		Breaker:       app.Breaker(cfg.Exchanges.CircuitBreaker, log),
		Metrics:       rec,
		Logger:        log.With().Str("component", "api").Logger(),
		SessionHeader: cfg.Server.SessionHeader,
		Ready:         st.Ping,
	})
	err = srv.ListenAndServe(ctx, api.ServeOptions{
		Addr:            cfg.Server.Listen,
		ReadTimeout:     time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout:    time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeoutSec) * time.Second,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("stopped")
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
