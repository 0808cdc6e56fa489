package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/kata/internal/grading"
	"github.com/michaelbrown/kata/internal/storage/sqlite"
)

var natsURLFlag string

var graderCmd = &cobra.Command{
	Use:   "grader",
	Short: "Serve grading requests from NATS",
	Long: `Run a grading worker. It answers submission and paste requests published
on NATS by kata servers running with grading.mode: nats, grading them in its
own sandbox pool. Start several workers to share the load.

Examples:
  kata grader
  kata grader --nats nats://grader-bus:4222`,
	Args: cobra.NoArgs,
	RunE: runGrader,
}

func init() {
	graderCmd.Flags().StringVar(&natsURLFlag, "nats", "", "NATS server URL (overrides grading.nats_url)")
	rootCmd.AddCommand(graderCmd)
}

func runGrader(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	url := a.cfg.Grading.NATSURL
	if natsURLFlag != "" {
		url = natsURLFlag
	}

	store, err := sqlite.Open(a.cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	catalog, err := a.catalog()
	if err != nil {
		return err
	}
	if err := a.startPool(a.cfg.Pool.Size); err != nil {
		return fmt.Errorf("starting sandbox pool: %w", err)
	}

	nc, err := nats.Connect(url,
		nats.Name("kata-grader"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			a.logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			a.logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to nats: %w", err)
	}
	defer nc.Drain()

	local := grading.NewLocalGrader(a.pool, catalog, store, grading.LocalOptions{
		Timeout: a.cfg.Execution.Timeout,
		BaseURL: fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port),
		Logger:  a.logger,
	})
	if _, err := grading.ServeNATS(nc, local, a.cfg.Execution.Timeout, a.logger); err != nil {
		return err
	}
	a.logger.Info("grader ready",
		zap.String("url", url),
		zap.Strings("subjects", []string{grading.SubjectSubmit, grading.SubjectPaste}),
		zap.Int("exercises", len(catalog.List())))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	a.logger.Info("grader stopping")
	return nil
}
