package grading

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/michaelbrown/kata/internal/archive"
	"github.com/michaelbrown/kata/internal/pool"
	"github.com/michaelbrown/kata/internal/sandbox"
	"github.com/michaelbrown/kata/internal/storage"
)

const sumTests = `package main

import (
	"fmt"

	"kata/student"
)

func main() {
	fmt.Println("Running TestPositive")
	if got := student.Sum(2, 3); got != 5 {
		fmt.Printf("Fail: Sum(2, 3) = %d, want 5\n", got)
	}
	fmt.Println("Running TestNegative")
	if got := student.Sum(-2, -3); got != -5 {
		fmt.Printf("Fail: Sum(-2, -3) = %d, want -5\n", got)
	}
}
`

type memPastes struct {
	mu     sync.Mutex
	pastes []*storage.Paste
}

func (m *memPastes) CreatePaste(ctx context.Context, p *storage.Paste) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pastes = append(m.pastes, p)
	return nil
}

func newLocalGrader(t *testing.T, timeout time.Duration) (*LocalGrader, *memPastes) {
	t.Helper()
	p := pool.New(sandbox.NewPipeLauncher(), pool.Options{Size: 1})
	t.Cleanup(p.Close)

	catalog := archive.NewCatalog([]*archive.Exercise{
		{Slug: "sum", Title: "Sum", MainFile: "main.go", TestSource: sumTests},
		{Slug: "free", Title: "Free", MainFile: "main.go"},
	})
	pastes := &memPastes{}
	return NewLocalGrader(p, catalog, pastes, LocalOptions{Timeout: timeout, BaseURL: "http://kata.test/"}), pastes
}

func submit(code string) Submission {
	return Submission{Exercise: "sum", Files: map[string]string{"main.go": code}}
}

func TestLocalGraderPasses(t *testing.T) {
	g, _ := newLocalGrader(t, 10*time.Second)

	res, err := g.SubmitExercise(context.Background(), submit("package main\n\nfunc Sum(a, b int) int { return a + b }\n"))
	if err != nil {
		t.Fatalf("SubmitExercise: %v", err)
	}
	if !res.AllPassed || len(res.Results) != 2 {
		t.Errorf("result = %+v, want 2 passing cases", res)
	}
}

func TestLocalGraderFails(t *testing.T) {
	g, _ := newLocalGrader(t, 10*time.Second)

	res, err := g.SubmitExercise(context.Background(), submit("package main\n\nfunc Sum(a, b int) int { return 5 }\n"))
	if err != nil {
		t.Fatalf("SubmitExercise: %v", err)
	}
	if res.AllPassed || len(res.Results) != 2 {
		t.Fatalf("result = %+v", res)
	}
	if !res.Results[0].Passed || res.Results[1].Passed {
		t.Errorf("passed = [%v %v], want [true false]", res.Results[0].Passed, res.Results[1].Passed)
	}
}

func TestLocalGraderCompileError(t *testing.T) {
	g, _ := newLocalGrader(t, 10*time.Second)

	res, err := g.SubmitExercise(context.Background(), submit("package main\n\nfunc Sum(a, b int) int { return a + }\n"))
	if err != nil {
		t.Fatalf("SubmitExercise: %v", err)
	}
	if res.AllPassed || len(res.Results) != 1 || res.Results[0].TestName != "Error" {
		t.Errorf("result = %+v, want a single Error case", res)
	}
}

func TestLocalGraderTimeout(t *testing.T) {
	g, _ := newLocalGrader(t, 200*time.Millisecond)

	code := "package main\n\nimport \"time\"\n\nfunc Sum(a, b int) int {\n\tfor {\n\t\ttime.Sleep(time.Millisecond)\n\t}\n}\n"
	res, err := g.SubmitExercise(context.Background(), submit(code))
	if err != nil {
		t.Fatalf("SubmitExercise: %v", err)
	}
	if res.AllPassed || res.Results[0].TestName != "Timeout" {
		t.Errorf("result = %+v, want a Timeout case", res)
	}
}

func TestLocalGraderRejects(t *testing.T) {
	g, _ := newLocalGrader(t, time.Second)
	ctx := context.Background()

	if _, err := g.SubmitExercise(ctx, Submission{Exercise: "nope"}); !errors.Is(err, ErrUnknownExercise) {
		t.Errorf("unknown exercise err = %v", err)
	}
	if _, err := g.SubmitExercise(ctx, Submission{Exercise: "free"}); !errors.Is(err, ErrNoTests) {
		t.Errorf("no tests err = %v", err)
	}
	if _, err := g.SubmitExercise(ctx, Submission{Exercise: "sum"}); err == nil {
		t.Error("expected error for missing main file")
	}
}

func TestLocalGraderPaste(t *testing.T) {
	g, pastes := newLocalGrader(t, time.Second)

	url, err := g.SubmitToPaste(context.Background(), submit("package main"))
	if err != nil {
		t.Fatalf("SubmitToPaste: %v", err)
	}
	if len(pastes.pastes) != 1 {
		t.Fatalf("stored %d pastes, want 1", len(pastes.pastes))
	}
	want := "http://kata.test/api/pastes/" + pastes.pastes[0].ID
	if url != want {
		t.Errorf("url = %q, want %q", url, want)
	}
	if !strings.Contains(pastes.pastes[0].Files["main.go"], "package main") {
		t.Errorf("paste files = %v", pastes.pastes[0].Files)
	}
}
