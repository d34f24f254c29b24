package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hubenschmidt/blogrec"
	"github.com/hubenschmidt/blogrec/config"
	"github.com/hubenschmidt/blogrec/logging"
)

var (
	// version is set at build time
	version = "dev"

	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "blogrec",
		Short:         "Blog recommendation service",
		Long:          "blogrec embeds blog posts into a vector index and serves similarity and hybrid recommendations",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default $CONFIG_PATH or ./config.yaml)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Ensure the collection exists and serve the HTTP API",
		RunE:  runServe,
	}

	ensureCmd := &cobra.Command{
		Use:   "ensure-collection",
		Short: "Create the vector collection if it does not exist",
		RunE:  runEnsureCollection,
	}

	rootCmd.AddCommand(serveCmd, ensureCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads .env, configuration and logging, then wires the app.
func setup() (*blogrec.App, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.LoggingConfig())

	return blogrec.New(cfg, logging.Logger())
}

func runEnsureCollection(cmd *cobra.Command, args []string) error {
	app, err := setup()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	if err := app.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	log := logging.Logger()
	log.Info().
		Str("backend", app.Config.Vector.Backend).
		Str("collection", app.Config.Vector.Collection).
		Int("dimension", app.Config.Embedding.Dimension).
		Msg("collection ready")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := setup()
	if err != nil {
		return err
	}
	defer app.Close()

	log := logging.Logger()
	cfg := app.Config

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = app.EnsureCollection(bootCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Str("backend", cfg.Vector.Backend).
			Str("embedding", cfg.Embedding.Provider).
			Msg("starting blogrec server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}
