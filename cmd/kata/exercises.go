package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/kata/internal/archive"
	"github.com/michaelbrown/kata/internal/config"
)

var exercisesCmd = &cobra.Command{
	Use:     "exercises",
	Aliases: []string{"ex"},
	Short:   "List available exercises",
	Args:    cobra.NoArgs,
	RunE:    runExercises,
}

func init() {
	rootCmd.AddCommand(exercisesCmd)
}

func runExercises(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	list, err := archive.LoadAll(cfg.Exercises.Dir)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Printf("No exercises in %s.\n", cfg.Exercises.Dir)
		return nil
	}

	fmt.Printf("%-20s %-40s %s\n", "SLUG", "TITLE", "TESTS")
	fmt.Println(strings.Repeat("─", 70))
	for _, ex := range list {
		tests := "no"
		if ex.HasTests() {
			tests = "yes"
		}
		fmt.Printf("%-20s %-40s %s\n", ex.Slug, truncate(ex.Title, 38), tests)
	}
	return nil
}
