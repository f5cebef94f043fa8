package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"expedients/internal/app"
	"expedients/internal/platform/config"
	"expedients/internal/platform/httpserver"
	"expedients/internal/platform/logger"
)

var cfgFile string

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:           "expedients",
		Short:         "Expedients API with in-process event fan-out",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "json", "log format: json or text")
	_ = v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log.format", root.PersistentFlags().Lookup("log-format"))

	root.AddCommand(serveCmd(v))
	return root
}

func initConfig(v *viper.Viper) error {
	config.SetDefaults(v)
	config.BindEnv(v)
	if cfgFile == "" {
		return nil
	}
	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", cfgFile, err)
	}
	return nil
}

func serveCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().String("addr", ":3000", "listen address")
	cmd.Flags().String("store", config.StoreMemory, "store driver: memory, redis or postgres")
	cmd.Flags().String("redis-url", "", "redis URL for store=redis")
	cmd.Flags().String("postgres-dsn", "", "postgres DSN for store=postgres")
	cmd.Flags().StringSlice("kafka-brokers", nil, "kafka seed brokers for the event notifier")
	_ = v.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("store.driver", cmd.Flags().Lookup("store"))
	_ = v.BindPFlag("redis.url", cmd.Flags().Lookup("redis-url"))
	_ = v.BindPFlag("postgres.dsn", cmd.Flags().Lookup("postgres-dsn"))
	_ = v.BindPFlag("kafka.brokers", cmd.Flags().Lookup("kafka-brokers"))
	return cmd
}

// serve runs until ctx is cancelled, then stops accepting requests, drains
// the event bus and closes external clients, in that order.
func serve(ctx context.Context, cfg config.Config) error {
	log := logger.New(cfg.Log)

	a, err := app.New(ctx, cfg, app.Options{Logger: log})
	if err != nil {
		return fmt.Errorf("wire application: %w", err)
	}

	srv := httpserver.New(cfg.Addr, a.Handler)
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting expedients server", "addr", cfg.Addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		log.Error("server error", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if serveErr == nil {
		serveErr = <-errCh
	}
	if serveErr != nil {
		errs = append(errs, serveErr)
	}
	log.Info("expedients server stopped")
	return errors.Join(errs...)
}
