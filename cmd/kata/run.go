package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/kata/internal/archive"
	"github.com/michaelbrown/kata/internal/exercise"
	"github.com/michaelbrown/kata/internal/grading"
	"github.com/michaelbrown/kata/internal/storage/sqlite"
)

var (
	exerciseFlag string
	pasteFlag    bool
)

var runCmd = &cobra.Command{
	Use:   "run [file.go]",
	Short: "Run a program in the sandbox",
	Long: `Run a Go program in a sandbox, answering its input requests from the
terminal. Ctrl+C stops the program.

Examples:
  kata run hello.go
  kata run --exercise hello`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var testCmd = &cobra.Command{
	Use:   "test [file.go]",
	Short: "Run an exercise's tests against a program",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTest,
}

var submitCmd = &cobra.Command{
	Use:   "submit [file.go]",
	Short: "Submit a program for grading",
	Long: `Submit a program for grading with the configured grader, or share it as
a paste with --paste.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSubmit,
}

func init() {
	for _, c := range []*cobra.Command{runCmd, testCmd, submitCmd} {
		c.Flags().StringVarP(&exerciseFlag, "exercise", "e", "", "Exercise slug")
		rootCmd.AddCommand(c)
	}
	testCmd.MarkFlagRequired("exercise")
	submitCmd.MarkFlagRequired("exercise")
	submitCmd.Flags().BoolVar(&pasteFlag, "paste", false, "Share the code as a paste instead of grading it")
}

// openTerminal loads the config, the exercise and the code for a command.
func openTerminal(args []string) (*terminal, string, error) {
	a, err := newApp()
	if err != nil {
		return nil, "", err
	}

	t := &terminal{app: a, out: os.Stdout}
	var code string
	if exerciseFlag != "" {
		catalog, err := a.catalog()
		if err != nil {
			a.Close()
			return nil, "", err
		}
		ex, ok := catalog.Get(exerciseFlag)
		if !ok {
			a.Close()
			return nil, "", fmt.Errorf("%w: %q", grading.ErrUnknownExercise, exerciseFlag)
		}
		t.exercise = ex
		code = ex.Template
	}
	if len(args) == 1 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			a.Close()
			return nil, "", err
		}
		code = string(data)
	}
	if code == "" {
		a.Close()
		return nil, "", errors.New("nothing to run: pass a file or --exercise")
	}

	if err := a.startPool(1); err != nil {
		a.Close()
		return nil, "", fmt.Errorf("starting sandbox: %w", err)
	}
	return t, code, nil
}

func (t *terminal) Close() {
	t.close()
	t.app.Close()
}

func runRun(cmd *cobra.Command, args []string) error {
	t, code, err := openTerminal(args)
	if err != nil {
		return err
	}
	defer t.Close()

	snap, err := t.drive(code, (*exercise.Session).Run)
	if err != nil {
		return err
	}
	return outcome(snap)
}

func runTest(cmd *cobra.Command, args []string) error {
	t, code, err := openTerminal(args)
	if err != nil {
		return err
	}
	defer t.Close()

	if !t.exercise.HasTests() {
		return fmt.Errorf("exercise %q has no tests", t.exercise.Slug)
	}

	snap, err := t.drive(code, (*exercise.Session).Test)
	if err != nil {
		return err
	}
	if snap.State != exercise.ShowTestResults {
		return outcome(snap)
	}

	fmt.Fprintln(t.out)
	if failed := t.printResults(snap.Results); failed > 0 {
		return fmt.Errorf("%d of %d tests failed", failed, len(snap.Results))
	}
	passColor.Fprintln(t.out, "All tests passed.")
	return nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	t, code, err := openTerminal(args)
	if err != nil {
		return err
	}
	defer t.Close()

	store, err := sqlite.Open(t.app.cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	catalog := archive.NewCatalog([]*archive.Exercise{t.exercise})
	baseURL := fmt.Sprintf("http://localhost:%d", t.app.cfg.Server.Port)
	grader, closeGrader, err := t.app.grader(catalog, store, baseURL)
	if err != nil {
		return err
	}
	defer closeGrader()
	t.grader = grader

	if pasteFlag {
		snap, err := t.drive(code, (*exercise.Session).Paste)
		if err != nil {
			return err
		}
		if snap.PasteURL == "" {
			return errors.New("paste failed")
		}
		fmt.Fprintln(t.out, snap.PasteURL)
		return nil
	}

	snap, err := t.drive(code, (*exercise.Session).Submit)
	if err != nil {
		return err
	}
	if snap.Submission == nil {
		return errors.New("no submission result")
	}
	failed := t.printResults(snap.Submission.Results)
	if !snap.Submission.AllPassed {
		return fmt.Errorf("submission failed: %d of %d cases failed", failed, len(snap.Submission.Results))
	}
	passColor.Fprintln(t.out, "Submission passed.")
	return nil
}
