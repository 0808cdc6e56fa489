package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// ProcessLauncher starts each instance as a child process of the host.
type ProcessLauncher struct {
	Policy Policy
}

// NewProcessLauncher creates a launcher with the given policy.
func NewProcessLauncher(policy Policy) *ProcessLauncher {
	return &ProcessLauncher{Policy: policy}
}

func (l *ProcessLauncher) Launch(ctx context.Context) (*Process, error) {
	bin, err := l.Policy.binary()
	if err != nil {
		return nil, err
	}

	// Each instance starts in an empty directory of its own.
	dir, err := os.MkdirTemp("", "kata-sandbox-")
	if err != nil {
		return nil, fmt.Errorf("creating sandbox directory: %w", err)
	}

	// Not bound to ctx: the instance outlives the request that created it.
	cmd := exec.Command(bin, l.Policy.args()...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), l.Policy.Env...)
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = sysProcAttr()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("starting sandbox process: %w", err)
	}

	return &Process{
		Stdin:  stdin,
		Stdout: stdout,
		kill: func() error {
			return killProcessGroup(cmd.Process.Pid)
		},
		wait: func() error {
			err := cmd.Wait()
			os.RemoveAll(dir)
			return err
		},
	}, nil
}
