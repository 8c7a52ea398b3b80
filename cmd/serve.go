package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/lens-cleaner/internal/batch"
	"github.com/kozaktomas/lens-cleaner/internal/config"
	"github.com/kozaktomas/lens-cleaner/internal/database/postgres"
	"github.com/kozaktomas/lens-cleaner/internal/embedding"
	"github.com/kozaktomas/lens-cleaner/internal/web"
	"github.com/kozaktomas/lens-cleaner/internal/web/handlers"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Lens Cleaner web server.
The server exposes the ingest, embedding, clustering, batch analysis and
review endpoints. In-flight batch jobs are resumed on startup.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	fmt.Printf("Connecting to PostgreSQL database...\n")
	if err := postgres.Initialize(&cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	repo := postgres.GetGlobalPool()
	defer repo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobEvents := handlers.NewJobEvents()
	orchestrator, err := newOrchestrator(ctx, cfg, repo,
		batch.WithUpdateListener(jobEvents.Publish))
	if err != nil {
		return err
	}
	defer orchestrator.Close()

	// Restart pollers for jobs that were running when the last process died.
	if err := orchestrator.Resume(ctx); err != nil {
		return fmt.Errorf("resuming batch jobs: %w", err)
	}

	embedder := embedding.NewClient(cfg.Embedding.URL, embedding.WithExpectedDim(cfg.Embedding.Dim))
	port, host := resolveServeHostPort(cmd)

	server := web.NewServer(cfg, port, host, repo, embedder, orchestrator, jobEvents)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Lens Cleaner on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
