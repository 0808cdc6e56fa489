// Package runner is the runtime that lives inside a sandbox instance. It reads
// host messages from its input, interprets student programs and reports
// output, input requests, errors and test results back to the host.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/michaelbrown/kata/internal/protocol"
)

// ErrStopped is returned by Serve when the host sends stop.
var ErrStopped = errors.New("stopped by host")

// Options configures a Runner.
type Options struct {
	FlushInterval time.Duration
	BatchSize     int
	Logger        *zap.Logger
}

// Runner executes one program at a time on behalf of the host.
type Runner struct {
	in     *protocol.Reader
	out    *protocol.Sender
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	active *Rendezvous
	busy   bool
}

// New creates a Runner reading host messages from r and writing sandbox
// messages to w.
func New(r io.Reader, w io.Writer, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		in:     protocol.NewReader(r),
		out:    protocol.NewSender(w),
		opts:   opts,
		logger: logger.With(zap.String("component", "runner")),
	}
}

// Serve announces readiness and processes host messages until the input ends
// (nil), the host sends stop (ErrStopped) or the stream breaks.
func (r *Runner) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.send(protocol.Ready{})

	for {
		msg, err := r.in.ReadHost()
		if err == io.EOF {
			r.out.Close()
			return nil
		}
		if errors.Is(err, protocol.ErrUnknownType) {
			r.logger.Warn("ignoring message", zap.Error(err))
			continue
		}
		if err != nil {
			return fmt.Errorf("reading host message: %w", err)
		}

		switch m := msg.(type) {
		case protocol.Run:
			r.start(ctx, m.Code, false)
		case protocol.RunTests:
			r.start(ctx, m.Code, true)
		case protocol.Input:
			r.resolve(m.Value)
		case protocol.Stop:
			return ErrStopped
		}
	}
}

func (r *Runner) send(m protocol.SandboxMessage) {
	if err := r.out.Send(m); err != nil {
		r.logger.Error("sending message", zap.String("type", string(m.Type())), zap.Error(err))
	}
}

func (r *Runner) resolve(value string) {
	r.mu.Lock()
	rv := r.active
	r.mu.Unlock()

	if rv == nil || !rv.Resolve(value) {
		r.logger.Debug("input with no outstanding request")
	}
}

func (r *Runner) start(ctx context.Context, code string, tests bool) {
	batcher := NewBatcher(r.opts.FlushInterval, r.opts.BatchSize, func(items []string) {
		r.send(protocol.PrintBatch{Items: items})
	})
	rv := NewRendezvous(func() {
		batcher.Flush()
		r.send(protocol.InputRequired{})
	})

	r.mu.Lock()
	if r.busy {
		r.mu.Unlock()
		r.logger.Warn("run requested while another is in progress")
		return
	}
	r.busy = true
	r.active = rv
	r.mu.Unlock()

	go r.execute(ctx, code, tests, batcher, rv)
}

func (r *Runner) execute(ctx context.Context, code string, tests bool, batcher *Batcher, rv *Rendezvous) {
	var parser *TestParser
	frames := &frameWriter{w: batcher}
	s := streams{stdin: rv, stdout: batcher, stderr: frames}
	if tests {
		parser = NewTestParser()
		s.stdout = parser
	}

	batcher.Start()
	err := r.eval(ctx, code, tests, s)
	batcher.Stop()
	rv.Close()

	r.mu.Lock()
	r.busy = false
	r.active = nil
	r.mu.Unlock()

	if err != nil {
		r.logger.Debug("run failed", zap.Error(err))
		r.send(errorMessage(err, frames.traceback()))
		return
	}
	if tests {
		r.send(protocol.TestResults{Results: parser.Results()})
	}
	r.send(protocol.PrintDone{})
}

func (r *Runner) eval(ctx context.Context, code string, tests bool, s streams) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	if tests {
		return evalBundle(ctx, code, s)
	}
	return evalProgram(ctx, code, s)
}
