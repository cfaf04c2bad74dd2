package admin

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/tutorion/internal/api/handlers"
	"github.com/cloo-solutions/tutorion/internal/config"
	"github.com/cloo-solutions/tutorion/internal/jobs"
	"github.com/cloo-solutions/tutorion/internal/server"
	"github.com/cloo-solutions/tutorion/internal/service"
	"github.com/cloo-solutions/tutorion/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the tutorion API server and the background rebuild worker",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	shutdownTelemetry := initTelemetry(cfg)
	defer shutdownTelemetry()

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	rt, err := newRuntime(ctx, cfg, runtimeOptions{Migrate: !noMigrate})
	if err != nil {
		return err
	}
	defer rt.Close()

	rebuildProcessor := jobs.NewRebuildWorker(rt.Queue, rt.Service)
	rebuildWorker := jobs.NewWorker(rebuildProcessor, cfg.RebuildPollInterval)
	svc := rt.Service.WithRebuildQueue(rt.Queue, rebuildWorker, &service.DefaultUUIDGenerator{})
	go rebuildWorker.Start(ctx)
	log.Println("rebuild worker started")

	router := server.NewRouter(server.RouterConfig{
		CorpusHandler: handlers.NewCorpusHandler(svc),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("starting server on port %s (storage backend: %s)", cfg.Port, cfg.StorageBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	rebuildWorker.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// initTelemetry starts Sentry when a DSN is configured and returns its flush
// function.
func initTelemetry(cfg *config.Config) func() {
	if cfg.SentryDSN == "" {
		return func() {}
	}

	// Default to 10% sampling in production, 100% in development
	sampleRate := 0.1
	if cfg.Environment == "development" {
		sampleRate = 1.0
	}

	shutdown, err := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: sampleRate,
		Debug:            cfg.Debug,
	})
	if err != nil {
		log.Printf("telemetry init failed (continuing without tracing): %v", err)
		return func() {}
	}
	return shutdown
}
