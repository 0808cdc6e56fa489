package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/michaelbrown/kata/internal/archive"
	"github.com/michaelbrown/kata/internal/editor"
	"github.com/michaelbrown/kata/internal/exercise"
	"github.com/michaelbrown/kata/internal/grading"
	"github.com/michaelbrown/kata/internal/protocol"
)

var (
	errorColor = color.New(color.FgRed)
	warnColor  = color.New(color.FgYellow)
	faintColor = color.New(color.FgHiBlack)
	passColor  = color.New(color.FgGreen)
	inputColor = color.New(color.FgCyan)
)

// terminal drives a headless exercise.Session from the command line.
type terminal struct {
	app      *app
	exercise *archive.Exercise
	grader   grading.Grader
	out      io.Writer
	rl       *readline.Instance
}

// drive starts a session over code, calls act once it is idle and blocks
// until the action settles. Input requests are answered from the terminal.
// Ctrl+C stops a running program.
func (t *terminal) drive(code string, act func(*exercise.Session)) (exercise.Snapshot, error) {
	buf := editor.NewBuffer(code)
	buf.SetReady(true)

	es := exercise.New(exercise.Options{
		Pool:     t.app.pool,
		Editor:   buf,
		Exercise: t.exercise,
		Grader:   t.grader,
		Timeout:  t.app.cfg.Execution.Timeout,
		Logger:   t.app.logger,
	})
	states := make(chan exercise.State, 32)
	es.OnStateChange = func(_, to exercise.State) { states <- to }
	es.OnOutput = t.printEntry
	es.Start()
	defer es.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	defer func() {
		signal.Stop(sigCh)
		close(sigCh)
	}()
	go func() {
		for range sigCh {
			es.Stop()
		}
	}()

	es.EditorReady()
	if st := <-states; st != exercise.Idle {
		return exercise.Snapshot{}, fmt.Errorf("session did not become idle (state %s)", st)
	}
	act(es)

	busy := false
	for st := range states {
		switch {
		case st == exercise.WaitingInput:
			line, err := t.readLine()
			if err != nil {
				es.Stop()
				continue
			}
			es.SendInput(line)
		case exercise.IsWorkerActive(st), st == exercise.Submitting, st == exercise.SubmittingToPaste:
			busy = true
		case busy:
			return es.Snapshot(), nil
		}
	}
	return exercise.Snapshot{}, errors.New("session closed")
}

func (t *terminal) readLine() (string, error) {
	if t.rl == nil {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          "",
			InterruptPrompt: "^C",
			EOFPrompt:       "",
		})
		if err != nil {
			return "", fmt.Errorf("readline: %w", err)
		}
		t.rl = rl
	}
	return t.rl.Readline()
}

func (t *terminal) close() {
	if t.rl != nil {
		t.rl.Close()
	}
}

func (t *terminal) printEntry(e exercise.OutputEntry) {
	switch e.Kind {
	case exercise.KindOutput:
		if e.Text == exercise.InfiniteLoopMessage {
			warnColor.Fprintln(t.out, "\n"+e.Text)
			return
		}
		fmt.Fprint(t.out, e.Text)
	case exercise.KindError:
		errorColor.Fprintln(t.out, e.Text)
		for _, line := range e.Traceback {
			faintColor.Fprintln(t.out, "  "+line)
		}
	case exercise.KindInput:
		// Echoed by the terminal as it was typed.
	}
}

// printResults prints one line per test case and returns how many failed.
func (t *terminal) printResults(results []protocol.TestCaseResult) int {
	failed := 0
	for _, r := range results {
		if r.Passed {
			passColor.Fprintf(t.out, "  ✓ %s\n", r.TestName)
			continue
		}
		failed++
		errorColor.Fprintf(t.out, "  ✗ %s\n", r.TestName)
		if fb := strings.TrimSpace(r.Feedback); fb != "" {
			faintColor.Fprintf(t.out, "    %s\n", fb)
		}
	}
	return failed
}

// outcome turns a settled snapshot into the command's error.
func outcome(snap exercise.Snapshot) error {
	if snap.State == exercise.RunAborted {
		return errors.New("run aborted")
	}
	if n := len(snap.Output); n > 0 && snap.Output[n-1].Kind == exercise.KindError {
		return errors.New("program failed")
	}
	return nil
}
