package grading

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelbrown/kata/internal/archive"
	"github.com/michaelbrown/kata/internal/pool"
	"github.com/michaelbrown/kata/internal/protocol"
	"github.com/michaelbrown/kata/internal/storage"
)

// DefaultTimeout bounds one grading run.
const DefaultTimeout = 10 * time.Second

// PasteStore persists pastes.
type PasteStore interface {
	CreatePaste(ctx context.Context, p *storage.Paste) error
}

// LocalOptions configures a LocalGrader.
type LocalOptions struct {
	Timeout time.Duration
	// BaseURL prefixes paste links, e.g. "http://localhost:8080".
	BaseURL string
	Logger  *zap.Logger
}

// LocalGrader grades by running the exercise's tests in the sandbox pool.
// Test sources come from the catalog, never from the submission.
type LocalGrader struct {
	pool    *pool.Pool
	catalog *archive.Catalog
	pastes  PasteStore
	timeout time.Duration
	baseURL string
	logger  *zap.Logger
}

// NewLocalGrader creates a LocalGrader. pastes may be nil, in which case
// SubmitToPaste fails.
func NewLocalGrader(p *pool.Pool, catalog *archive.Catalog, pastes PasteStore, opts LocalOptions) *LocalGrader {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &LocalGrader{
		pool:    p,
		catalog: catalog,
		pastes:  pastes,
		timeout: opts.Timeout,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		logger:  opts.Logger.With(zap.String("component", "grader")),
	}
}

func (g *LocalGrader) SubmitExercise(ctx context.Context, sub Submission) (*Result, error) {
	ex, ok := g.catalog.Get(sub.Exercise)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExercise, sub.Exercise)
	}
	if !ex.HasTests() {
		return nil, fmt.Errorf("%s: %w", ex.Slug, ErrNoTests)
	}
	code, ok := sub.Files[ex.MainFile]
	if !ok {
		return nil, fmt.Errorf("submission is missing %s", ex.MainFile)
	}

	results, err := g.runTests(ctx, archive.TestProgram(ex.TestSource, code))
	if err != nil {
		return nil, err
	}
	res := NewResult(results)
	g.logger.Info("graded submission",
		zap.String("exercise", ex.Slug),
		zap.Int("cases", len(results)),
		zap.Bool("passed", res.AllPassed))
	return res, nil
}

// runTests runs bundle to completion. A program that fails, asks for input
// or runs too long yields a single failing case rather than an error.
func (g *LocalGrader) runTests(ctx context.Context, bundle string) ([]protocol.TestCaseResult, error) {
	msgs := make(chan protocol.SandboxMessage, 16)
	done := make(chan struct{})
	defer close(done)

	inst, err := g.pool.Acquire(ctx, func(e pool.Envelope) {
		select {
		case msgs <- e.Message:
		case <-done:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("acquiring sandbox: %w", err)
	}
	if err := inst.Post(protocol.RunTests{Code: bundle}); err != nil {
		g.pool.Terminate(inst)
		return nil, fmt.Errorf("dispatching tests: %w", err)
	}

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	var results []protocol.TestCaseResult
	for {
		select {
		case <-ctx.Done():
			g.pool.Terminate(inst)
			return nil, ctx.Err()
		case <-timer.C:
			g.pool.Terminate(inst)
			return []protocol.TestCaseResult{failure("Timeout",
				"Your program did not finish in time. It may contain an infinite loop.")}, nil
		case m := <-msgs:
			switch m := m.(type) {
			case protocol.TestResults:
				results = m.Results
			case protocol.PrintDone:
				g.pool.Release(inst, true)
				return results, nil
			case protocol.InputRequired:
				g.pool.Terminate(inst)
				return []protocol.TestCaseResult{failure("Input",
					"Your program asked for input while being graded.")}, nil
			case protocol.Error:
				g.pool.Release(inst, false)
				feedback := m.Message
				if len(m.Traceback) > 0 {
					feedback += "\n" + strings.Join(m.Traceback, "\n")
				}
				return []protocol.TestCaseResult{failure("Error", feedback)}, nil
			}
		}
	}
}

func (g *LocalGrader) SubmitToPaste(ctx context.Context, sub Submission) (string, error) {
	if g.pastes == nil {
		return "", fmt.Errorf("pastes are not enabled")
	}
	p := &storage.Paste{
		ID:       uuid.NewString(),
		Exercise: sub.Exercise,
		Files:    sub.Files,
	}
	if err := g.pastes.CreatePaste(ctx, p); err != nil {
		return "", fmt.Errorf("storing paste: %w", err)
	}
	return g.baseURL + "/api/pastes/" + p.ID, nil
}
