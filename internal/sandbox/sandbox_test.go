package sandbox

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/michaelbrown/kata/internal/protocol"
)

func TestPolicyMemoryBytes(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"256m", 256 * 1024 * 1024, false},
		{"1g", 1024 * 1024 * 1024, false},
		{"", 0, false},
		{"lots", 0, true},
	}

	for _, tt := range tests {
		got, err := Policy{MaxMemory: tt.in}.MemoryBytes()
		if (err != nil) != tt.wantErr {
			t.Errorf("MemoryBytes(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("MemoryBytes(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestDefaultPolicyIsolated(t *testing.T) {
	p := DefaultPolicy()
	if p.Network {
		t.Error("default policy should not allow network")
	}
	if p.Mode != ModeProcess {
		t.Errorf("mode = %q, want %q", p.Mode, ModeProcess)
	}
}

func TestNewLauncherModes(t *testing.T) {
	if _, err := NewLauncher(Policy{Mode: "vm"}); err == nil {
		t.Error("expected error for unknown mode")
	}

	l, err := NewLauncher(Policy{Mode: ModeInProcess})
	if err != nil {
		t.Fatalf("NewLauncher: %v", err)
	}
	if _, ok := l.(*PipeLauncher); !ok {
		t.Errorf("got %T, want *PipeLauncher", l)
	}

	l, err = NewLauncher(Policy{})
	if err != nil {
		t.Fatalf("NewLauncher: %v", err)
	}
	if _, ok := l.(*ProcessLauncher); !ok {
		t.Errorf("got %T, want *ProcessLauncher", l)
	}
}

func TestPipeLauncherSpeaksProtocol(t *testing.T) {
	p, err := NewPipeLauncher().Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	msgs := make(chan protocol.SandboxMessage, 16)
	go func() {
		rd := protocol.NewReader(p.Stdout)
		for {
			m, err := rd.ReadSandbox()
			if err != nil {
				close(msgs)
				return
			}
			msgs <- m
		}
	}()

	select {
	case m := <-msgs:
		if m.Type() != protocol.TypeReady {
			t.Fatalf("first message = %s, want ready", m.Type())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no ready message")
	}

	if err := p.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("second Kill: %v", err)
	}

	select {
	case _, ok := <-msgs:
		if ok {
			t.Error("expected stream to end after Kill")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream still open after Kill")
	}
}

func TestProcessLauncherPipes(t *testing.T) {
	if _, err := os.Stat("/bin/cat"); err != nil {
		t.Skip("/bin/cat not available")
	}

	l := NewProcessLauncher(Policy{Binary: "/bin/cat", Args: []string{"-"}})
	p, err := l.Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	defer p.Kill()

	if _, err := p.Stdin.Write([]byte("{\"type\":\"ready\"}\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	line, err := bufio.NewReader(p.Stdout).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "{\"type\":\"ready\"}\n" {
		t.Errorf("echo = %q", line)
	}

	if err := p.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	p.Wait()
}

func TestProcessLauncherEmptyWorkDir(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}

	l := NewProcessLauncher(Policy{Binary: "/bin/sh", Args: []string{"-c", "pwd; ls -A | wc -l"}})
	p, err := l.Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	rd := bufio.NewReader(p.Stdout)
	dir, err := rd.ReadString('\n')
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	count, err := rd.ReadString('\n')
	if err != nil {
		t.Fatalf("read count: %v", err)
	}
	dir = strings.TrimSpace(dir)
	if !strings.HasPrefix(filepath.Base(dir), "kata-sandbox-") {
		t.Errorf("work dir = %q, want a fresh sandbox directory", dir)
	}
	if strings.TrimSpace(count) != "0" {
		t.Errorf("work dir has %s entries, want 0", strings.TrimSpace(count))
	}

	p.Wait()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("work dir %q still exists after exit: %v", dir, err)
	}
}
