package sandbox

import (
	"fmt"
	"os"
	"strings"

	"github.com/docker/go-units"
)

// Launch modes.
const (
	ModeProcess   = "process"
	ModeDocker    = "docker"
	ModeInProcess = "inprocess"
)

// Policy defines how sandbox instances are started and what they may use.
type Policy struct {
	Mode      string   // process, docker or inprocess
	Binary    string   // kata binary for process mode (default: this executable)
	Args      []string // arguments that start the runner (default: "sandbox")
	Image     string   // Docker image containing the kata binary
	MaxMemory string   // Docker memory limit (e.g. "256m")
	NanoCPUs  int64    // Docker CPU quota in units of 1e-9 CPUs
	Network   bool     // Whether network access is allowed
	Env       []string // Extra environment for the instance
}

// DefaultPolicy returns safe defaults for running student code.
func DefaultPolicy() Policy {
	return Policy{
		Mode:      ModeProcess,
		Args:      []string{"sandbox"},
		Image:     "kata-sandbox:latest",
		MaxMemory: "256m",
		NanoCPUs:  1_000_000_000,
		Network:   false,
	}
}

// binary resolves the executable used in process mode.
func (p Policy) binary() (string, error) {
	if p.Binary != "" {
		return p.Binary, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating kata binary: %w", err)
	}
	return exe, nil
}

func (p Policy) args() []string {
	if len(p.Args) == 0 {
		return []string{"sandbox"}
	}
	return p.Args
}

// MemoryBytes parses MaxMemory. An empty limit is zero, meaning unlimited.
func (p Policy) MemoryBytes() (int64, error) {
	if strings.TrimSpace(p.MaxMemory) == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(p.MaxMemory)
	if err != nil {
		return 0, fmt.Errorf("parsing memory limit %q: %w", p.MaxMemory, err)
	}
	return n, nil
}
