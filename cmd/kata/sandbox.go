package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/kata/internal/logger"
	"github.com/michaelbrown/kata/internal/runner"
)

var (
	flushIntervalFlag time.Duration
	batchSizeFlag     int
)

var sandboxCmd = &cobra.Command{
	Use:    "sandbox",
	Short:  "Run the sandbox runner on stdin/stdout",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runSandbox,
}

func init() {
	sandboxCmd.Flags().DurationVar(&flushIntervalFlag, "flush-interval", 0, "Output batch flush interval")
	sandboxCmd.Flags().IntVar(&batchSizeFlag, "batch-size", 0, "Output items per batch before an early flush")
	rootCmd.AddCommand(sandboxCmd)
}

// runSandbox serves the protocol on the original stdin and stdout. Anything
// else that writes to os.Stdout lands on stderr instead.
func runSandbox(cmd *cobra.Command, args []string) error {
	in, out := os.Stdin, os.Stdout

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return err
	}
	defer devNull.Close()
	os.Stdin = devNull
	os.Stdout = os.Stderr

	log, err := logger.New(logger.Config{Level: "warn", Format: "json", Output: "stderr"})
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Sync()

	r := runner.New(in, out, runner.Options{
		FlushInterval: flushIntervalFlag,
		BatchSize:     batchSizeFlag,
		Logger:        log,
	})
	if err := r.Serve(cmd.Context()); err != nil && !errors.Is(err, runner.ErrStopped) {
		return err
	}
	return nil
}
