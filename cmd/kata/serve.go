package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/kata/internal/server"
	"github.com/michaelbrown/kata/internal/storage/sqlite"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the kata web server",
	Long: `Start the kata HTTP server with REST API and WebSocket support.

The exercise widget is available at the root URL. API endpoints are under /api.

Examples:
  kata serve
  kata serve --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := sqlite.Open(a.cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	catalog, err := a.catalog()
	if err != nil {
		return err
	}
	a.logger.Info("exercises loaded", zap.Int("count", len(catalog.List())), zap.String("dir", a.cfg.Exercises.Dir))

	if err := a.startPool(a.cfg.Pool.Size); err != nil {
		return fmt.Errorf("starting sandbox pool: %w", err)
	}

	port := a.cfg.Server.Port
	if portFlag > 0 {
		port = portFlag
	}

	grader, closeGrader, err := a.grader(catalog, store, fmt.Sprintf("http://localhost:%d", port))
	if err != nil {
		return err
	}
	defer closeGrader()

	sessions := server.NewSessionManager(a.pool, catalog, grader, store, a.cfg.Execution.Timeout, a.logger)
	srv := server.New(store, catalog, sessions, a.logger)

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		srv.Shutdown(context.Background())
	}()

	return srv.Start(port)
}
