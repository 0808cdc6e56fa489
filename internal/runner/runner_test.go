package runner

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/traefik/yaegi/stdlib"

	"github.com/michaelbrown/kata/internal/archive"
	"github.com/michaelbrown/kata/internal/protocol"
)

type harness struct {
	t      *testing.T
	host   *protocol.Sender
	msgs   chan protocol.SandboxMessage
	served chan error
}

func startRunner(t *testing.T) *harness {
	t.Helper()
	return startRunnerContext(t, context.Background())
}

func startRunnerContext(t *testing.T, ctx context.Context) *harness {
	t.Helper()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	r := New(inR, outW, Options{FlushInterval: 5 * time.Millisecond})
	h := &harness{
		t:      t,
		host:   protocol.NewSender(inW),
		msgs:   make(chan protocol.SandboxMessage, 256),
		served: make(chan error, 1),
	}

	go func() { h.served <- r.Serve(ctx) }()
	go func() {
		rd := protocol.NewReader(outR)
		for {
			m, err := rd.ReadSandbox()
			if err != nil {
				close(h.msgs)
				return
			}
			h.msgs <- m
		}
	}()

	t.Cleanup(func() {
		inW.Close()
		outW.Close()
	})

	if m := h.next(); m.Type() != protocol.TypeReady {
		t.Fatalf("first message = %s, want ready", m.Type())
	}
	return h
}

func (h *harness) send(m protocol.HostMessage) {
	h.t.Helper()
	if err := h.host.Send(m); err != nil {
		h.t.Fatalf("send: %v", err)
	}
}

func (h *harness) next() protocol.SandboxMessage {
	h.t.Helper()
	select {
	case m, ok := <-h.msgs:
		if !ok {
			h.t.Fatal("sandbox stream closed")
		}
		return m
	case <-time.After(10 * time.Second):
		h.t.Fatal("timed out waiting for sandbox message")
	}
	return nil
}

// until collects printed text until a message of type stop arrives.
func (h *harness) until(stop protocol.MessageType) (string, protocol.SandboxMessage) {
	h.t.Helper()
	var out strings.Builder
	for {
		m := h.next()
		switch v := m.(type) {
		case protocol.PrintBatch:
			for _, item := range v.Items {
				out.WriteString(item)
			}
		case protocol.Print:
			out.WriteString(v.Text)
		}
		if m.Type() == stop || m.Type() == protocol.TypeError {
			return out.String(), m
		}
	}
}

func TestRunPrintsAndFinishes(t *testing.T) {
	h := startRunner(t)

	h.send(protocol.Run{Code: `package main

import "fmt"

func main() {
	fmt.Println("hello")
}
`})

	out, last := h.until(protocol.TypePrintDone)
	if last.Type() != protocol.TypePrintDone {
		t.Fatalf("last = %+v, want print_done", last)
	}
	if out != "hello\n" {
		t.Errorf("output = %q, want %q", out, "hello\n")
	}
}

func TestRunAcceptsAnotherRunAfterDone(t *testing.T) {
	h := startRunner(t)

	for _, word := range []string{"one", "two"} {
		h.send(protocol.Run{Code: `package main

import "fmt"

func main() { fmt.Println("` + word + `") }
`})
		out, last := h.until(protocol.TypePrintDone)
		if last.Type() != protocol.TypePrintDone {
			t.Fatalf("last = %+v, want print_done", last)
		}
		if out != word+"\n" {
			t.Errorf("output = %q, want %q", out, word+"\n")
		}
	}
}

func TestRunInputRoundTrip(t *testing.T) {
	h := startRunner(t)

	h.send(protocol.Run{Code: `package main

import "fmt"

func main() {
	fmt.Print("name? ")
	var name string
	fmt.Scanln(&name)
	fmt.Println("hi " + name)
}
`})

	prompt, last := h.until(protocol.TypeInputRequired)
	if last.Type() != protocol.TypeInputRequired {
		t.Fatalf("last = %+v, want input_required", last)
	}
	if prompt != "name? " {
		t.Errorf("prompt = %q, want it flushed before the request", prompt)
	}

	h.send(protocol.Input{Value: "Ada"})

	out, last := h.until(protocol.TypePrintDone)
	if last.Type() != protocol.TypePrintDone {
		t.Fatalf("last = %+v, want print_done", last)
	}
	if out != "hi Ada\n" {
		t.Errorf("output = %q, want %q", out, "hi Ada\n")
	}
}

func TestRunPanicReportsError(t *testing.T) {
	h := startRunner(t)

	h.send(protocol.Run{Code: `package main

import "fmt"

func main() {
	fmt.Println("before")
	var m map[string]int
	m["x"] = 1
}
`})

	out, last := h.until(protocol.TypePrintDone)
	e, ok := last.(protocol.Error)
	if !ok {
		t.Fatalf("last = %+v, want error", last)
	}
	if e.Message == "" {
		t.Error("error message is empty")
	}
	if out != "before\n" {
		t.Errorf("output = %q, want output before the panic", out)
	}
	if len(e.Traceback) == 0 || !strings.Contains(e.Traceback[len(e.Traceback)-1], "main.main") {
		t.Errorf("traceback = %q, want the program's frames ending in main.main", e.Traceback)
	}
	for _, line := range e.Traceback {
		if strings.Contains(line, "goroutine") || strings.Contains(line, "yaegi") {
			t.Errorf("traceback leaks interpreter internals: %q", line)
		}
	}

	select {
	case m := <-h.msgs:
		if m.Type() == protocol.TypePrintDone {
			t.Error("print_done must not follow an error")
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRunCompileError(t *testing.T) {
	h := startRunner(t)

	h.send(protocol.Run{Code: "package main\n\nfunc main() { undefinedThing() }\n"})

	_, last := h.until(protocol.TypePrintDone)
	if _, ok := last.(protocol.Error); !ok {
		t.Fatalf("last = %+v, want error", last)
	}
}

func TestRunTests(t *testing.T) {
	h := startRunner(t)

	testProgram := `package main

import (
	"fmt"

	"kata/student"
)

func main() {
	fmt.Println("Running TestDouble")
	fmt.Println("Points: [\"1\"]")
	if got := student.Double(2); got != 4 {
		fmt.Printf("Fail: Double(2) = %d, want 4\n", got)
	}
	fmt.Println("Running TestTriple")
	if got := student.Double(3); got != 9 {
		fmt.Printf("Fail: Double(3) = %d, want 9\n", got)
	}
}
`
	studentCode := `package main

func Double(n int) int { return n * 2 }

func main() {}
`
	h.send(protocol.RunTests{Code: archive.TestProgram(testProgram, studentCode)})

	var results []protocol.TestCaseResult
	for {
		m := h.next()
		if e, ok := m.(protocol.Error); ok {
			t.Fatalf("test run failed: %s", e.Message)
		}
		if tr, ok := m.(protocol.TestResults); ok {
			results = tr.Results
		}
		if m.Type() == protocol.TypePrintDone {
			break
		}
	}

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if !results[0].Passed || results[0].TestName != "TestDouble" {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[1].Passed || results[1].Feedback != "Double(3) = 6, want 9" {
		t.Errorf("results[1] = %+v", results[1])
	}
}

func TestServeStops(t *testing.T) {
	h := startRunner(t)
	h.send(protocol.Stop{})

	select {
	case err := <-h.served:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("Serve err = %v, want ErrStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after stop")
	}
}

func TestServeIgnoresStrayInput(t *testing.T) {
	h := startRunner(t)
	h.send(protocol.Input{Value: "nobody asked"})
	h.send(protocol.Run{Code: "package main\n\nimport \"fmt\"\n\nfunc main() { fmt.Println(1) }\n"})

	out, last := h.until(protocol.TypePrintDone)
	if last.Type() != protocol.TypePrintDone || out != "1\n" {
		t.Errorf("out = %q last = %s", out, last.Type())
	}
}

func TestSymbolsBlocksExec(t *testing.T) {
	syms := symbols(strings.NewReader(""))
	if _, ok := syms["os/exec/exec"]; ok {
		t.Error("os/exec should not be importable")
	}
	if _, ok := syms["net/http/http"]; ok {
		t.Error("net/http should not be importable")
	}
	if _, ok := syms["fmt/fmt"]; !ok {
		t.Error("fmt should be importable")
	}
}

func TestSymbolsHideHostFilesystem(t *testing.T) {
	syms := symbols(strings.NewReader(""))

	osSyms := syms["os/os"]
	for _, name := range []string{"Open", "ReadFile", "WriteFile", "Remove", "RemoveAll", "Rename", "DirFS", "StartProcess"} {
		if _, ok := osSyms[name]; ok {
			t.Errorf("os.%s should not be available", name)
		}
	}
	if _, ok := osSyms["Getenv"]; !ok {
		t.Error("os.Getenv should stay available")
	}
	if _, ok := syms["io/ioutil/ioutil"]; ok {
		t.Error("io/ioutil should not be importable")
	}
	if _, ok := syms["path/filepath/filepath"]["WalkDir"]; ok {
		t.Error("filepath.WalkDir should not be available")
	}
	if _, ok := syms["path/filepath/filepath"]["Join"]; !ok {
		t.Error("filepath.Join should stay available")
	}
	if _, ok := stdlib.Symbols["os/os"]["ReadFile"]; !ok {
		t.Error("hiding symbols must not modify the shared stdlib table")
	}
}

func TestRunCannotReadHostFiles(t *testing.T) {
	h := startRunner(t)

	h.send(protocol.Run{Code: `package main

import (
	"fmt"
	"os"
)

func main() {
	b, err := os.ReadFile("/etc/hostname")
	fmt.Println(string(b), err)
}
`})

	out, last := h.until(protocol.TypePrintDone)
	if _, ok := last.(protocol.Error); !ok {
		t.Fatalf("last = %+v, want a compile error", last)
	}
	if out != "" {
		t.Errorf("output = %q, want none", out)
	}
}

func TestCancelledTestRunEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := startRunnerContext(t, ctx)

	testProgram := `package main

import "kata/student"

func main() {
	for {
		student.Spin()
	}
}
`
	studentCode := "package main\n\nfunc Spin() {}\n\nfunc main() {}\n"
	h.send(protocol.RunTests{Code: archive.TestProgram(testProgram, studentCode)})

	time.Sleep(50 * time.Millisecond)
	cancel()

	_, last := h.until(protocol.TypePrintDone)
	if _, ok := last.(protocol.Error); !ok {
		t.Fatalf("last = %+v, want an error for the cancelled run", last)
	}
}
