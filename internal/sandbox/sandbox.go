// Package sandbox starts isolated instances of the kata runner. Every instance
// speaks the JSON-lines protocol on its stdin and stdout.
package sandbox

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Process is one running sandbox instance.
type Process struct {
	// Stdin carries host messages to the instance.
	Stdin io.WriteCloser
	// Stdout carries sandbox messages from the instance.
	Stdout io.ReadCloser

	kill     func() error
	wait     func() error
	killOnce sync.Once
	killErr  error
}

// NewProcess wraps an instance started by a custom Launcher. kill must stop
// the instance without waiting for it; wait may be nil.
func NewProcess(stdin io.WriteCloser, stdout io.ReadCloser, kill, wait func() error) *Process {
	return &Process{Stdin: stdin, Stdout: stdout, kill: kill, wait: wait}
}

// Kill terminates the instance immediately. It is safe to call more than once.
func (p *Process) Kill() error {
	p.killOnce.Do(func() {
		p.Stdin.Close()
		p.killErr = p.kill()
	})
	return p.killErr
}

// Wait blocks until the instance has exited.
func (p *Process) Wait() error {
	if p.wait == nil {
		return nil
	}
	return p.wait()
}

// Launcher starts sandbox instances.
type Launcher interface {
	Launch(ctx context.Context) (*Process, error)
}

// NewLauncher returns the launcher selected by the policy's mode.
func NewLauncher(policy Policy, opts ...PipeOption) (Launcher, error) {
	switch policy.Mode {
	case ModeProcess, "":
		return NewProcessLauncher(policy), nil
	case ModeDocker:
		return NewDockerLauncher(policy)
	case ModeInProcess:
		return NewPipeLauncher(opts...), nil
	default:
		return nil, fmt.Errorf("unknown sandbox mode %q", policy.Mode)
	}
}
