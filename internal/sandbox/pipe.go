package sandbox

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/michaelbrown/kata/internal/runner"
)

// PipeLauncher runs the runner inside the host process, connected through
// in-memory pipes. It provides no isolation: Kill only severs the pipes, so a
// program that never returns keeps its goroutine. Use it for tests and local
// development.
type PipeLauncher struct {
	opts runner.Options
}

// PipeOption configures a PipeLauncher.
type PipeOption func(*runner.Options)

// WithRunnerOptions sets the options passed to every in-process runner.
func WithRunnerOptions(opts runner.Options) PipeOption {
	return func(o *runner.Options) { *o = opts }
}

// NewPipeLauncher creates an in-process launcher.
func NewPipeLauncher(opts ...PipeOption) *PipeLauncher {
	l := &PipeLauncher{}
	for _, o := range opts {
		o(&l.opts)
	}
	return l
}

func (l *PipeLauncher) Launch(ctx context.Context) (*Process, error) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	r := runner.New(inR, outW, l.opts)
	go func() {
		err := r.Serve(runCtx)
		if errors.Is(err, runner.ErrStopped) {
			err = nil
		}
		outW.Close()
		done <- err
	}()

	logger := l.opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Process{
		Stdin:  inW,
		Stdout: outR,
		kill: func() error {
			cancel()
			inR.CloseWithError(io.ErrClosedPipe)
			outW.CloseWithError(io.ErrClosedPipe)
			logger.Debug("in-process sandbox killed")
			return nil
		},
		wait: func() error {
			return <-done
		},
	}, nil
}
