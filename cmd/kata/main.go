package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "kata",
	Short: "kata - Go programming exercises in a sandbox",
	Long: `kata runs, tests and grades student Go programs in isolated sandboxes.

Use it from the terminal, or start the web server to embed exercise widgets
in a course page.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: ./kata.yaml or ~/.kata/kata.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
