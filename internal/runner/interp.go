package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/michaelbrown/kata/internal/archive"
	"github.com/michaelbrown/kata/internal/protocol"
)

// blockedPackages are standard library packages student code may not import.
// The template packages are listed because their Template methods read files.
var blockedPackages = []string{
	"debug",
	"go/build",
	"html/template",
	"io/ioutil",
	"log/syslog",
	"net",
	"os/exec",
	"os/signal",
	"os/user",
	"plugin",
	"syscall",
	"text/template",
	"unsafe",
}

// hiddenSymbols are exports removed from otherwise importable packages. They
// reach the host filesystem or other host processes.
var hiddenSymbols = map[string][]string{
	"os/os": {
		"Chdir", "Chmod", "Chown", "Chtimes", "CopyFS", "Create", "CreateTemp",
		"DirFS", "FindProcess", "Getwd", "Lchown", "Link", "Lstat", "Mkdir",
		"MkdirAll", "MkdirTemp", "NewFile", "Open", "OpenFile", "OpenInRoot",
		"OpenRoot", "ReadDir", "ReadFile", "Readlink", "Remove", "RemoveAll",
		"Rename", "StartProcess", "Stat", "Symlink", "Truncate", "WriteFile",
	},
	"path/filepath/filepath": {"EvalSymlinks", "Glob", "Walk", "WalkDir"},
	"archive/zip/zip":        {"OpenReader"},
	"crypto/tls/tls":         {"Dial", "DialWithDialer", "Listen", "LoadX509KeyPair"},
	"crypto/x509/x509":       {"SystemCertPool"},
	"go/parser/parser":       {"ParseDir", "ParseFile"},
}

// symbols returns the standard library exports minus blockedPackages and
// hiddenSymbols. The interpreter already routes fmt's Print and Scan families
// through its own streams; bufio readers built on os.Stdin are redirected to
// stdin here.
func symbols(stdin io.Reader) interp.Exports {
	out := make(interp.Exports, len(stdlib.Symbols))
	for key, syms := range stdlib.Symbols {
		// keys look like "net/http/http": import path, then package name
		pkg := key
		if i := strings.LastIndex(key, "/"); i >= 0 {
			pkg = key[:i]
		}
		if isBlocked(pkg) {
			continue
		}
		if hidden, ok := hiddenSymbols[key]; ok {
			syms = without(syms, hidden)
		}
		out[key] = syms
	}

	if orig, ok := out["bufio/bufio"]; ok {
		redirect := func(rd io.Reader) io.Reader {
			if f, ok := rd.(*os.File); ok && f == os.Stdin {
				return stdin
			}
			return rd
		}
		patched := make(map[string]reflect.Value, len(orig))
		for name, v := range orig {
			patched[name] = v
		}
		patched["NewReader"] = reflect.ValueOf(func(rd io.Reader) *bufio.Reader {
			return bufio.NewReader(redirect(rd))
		})
		patched["NewReaderSize"] = reflect.ValueOf(func(rd io.Reader, size int) *bufio.Reader {
			return bufio.NewReaderSize(redirect(rd), size)
		})
		patched["NewScanner"] = reflect.ValueOf(func(rd io.Reader) *bufio.Scanner {
			return bufio.NewScanner(redirect(rd))
		})
		out["bufio/bufio"] = patched
	}
	return out
}

func without(syms map[string]reflect.Value, names []string) map[string]reflect.Value {
	out := make(map[string]reflect.Value, len(syms))
	for name, v := range syms {
		out[name] = v
	}
	for _, name := range names {
		delete(out, name)
	}
	return out
}

func isBlocked(pkg string) bool {
	for _, b := range blockedPackages {
		if pkg == b || strings.HasPrefix(pkg, b+"/") {
			return true
		}
	}
	return false
}

type streams struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// evalProgram runs a complete main package.
func evalProgram(ctx context.Context, code string, s streams) error {
	i := interp.New(interp.Options{
		Stdin:  s.stdin,
		Stdout: s.stdout,
		Stderr: s.stderr,
	})
	if err := i.Use(symbols(s.stdin)); err != nil {
		return fmt.Errorf("loading symbols: %w", err)
	}
	_, err := i.EvalWithContext(ctx, code)
	return err
}

// evalBundle runs the test program of a bundle with the student package on
// its GOPATH.
func evalBundle(ctx context.Context, bundle string, s streams) error {
	fsys, err := archive.ParseBundle(bundle)
	if err != nil {
		return err
	}
	return evalFS(ctx, fsys, s)
}

func evalFS(ctx context.Context, fsys fs.FS, s streams) error {
	src, err := fs.ReadFile(fsys, archive.BundleMain)
	if err != nil {
		return fmt.Errorf("reading test program: %w", err)
	}
	i := interp.New(interp.Options{
		Stdin:                s.stdin,
		Stdout:               s.stdout,
		Stderr:               s.stderr,
		GoPath:               "./" + archive.GoPath,
		SourcecodeFilesystem: fsys,
	})
	if err := i.Use(symbols(s.stdin)); err != nil {
		return fmt.Errorf("loading symbols: %w", err)
	}
	// EvalPathWithContext races with its own eval goroutine on cancellation.
	_, err = i.EvalWithContext(ctx, string(src))
	return err
}

// panicFrame matches the per-frame report the interpreter writes to stderr
// while a panic unwinds, such as "4:2: panic: main.main(...)".
var panicFrame = regexp.MustCompile(`^(?:[^\s:]+:)?\d+:\d+: panic: `)

// frameWriter passes the interpreter's stderr through to w but keeps panic
// frame reports as the program's traceback.
type frameWriter struct {
	w io.Writer

	mu     sync.Mutex
	frames []string
}

func (f *frameWriter) Write(p []byte) (int, error) {
	if !panicFrame.Match(p) {
		return f.w.Write(p)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		f.frames = append(f.frames, line)
	}
	return len(p), nil
}

func (f *frameWriter) traceback() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}

// errorMessage converts an interpreter failure into the error message sent to
// the host. frames is the program's call stack at the panic, innermost first.
func errorMessage(err error, frames []string) protocol.Error {
	var p interp.Panic
	if errors.As(err, &p) {
		return protocol.Error{
			Message:   fmt.Sprintf("panic: %v", p.Value),
			Traceback: frames,
		}
	}
	return protocol.Error{Message: err.Error()}
}
