package runner

import (
	"fmt"
	"testing"
)

func TestTestParser(t *testing.T) {
	p := NewTestParser()

	// Split writes exercise line reassembly.
	chunks := []string{
		"warming up\n",
		"Running Test",
		"Add\n",
		"Points: [\"1.1\", \"1.2\"]\n",
		"Running TestSub\n",
		"Fail: expected 1, got 2\n",
		"  at line 4\n",
		"Running TestMul\n",
		"Points: 2.1, 2.2",
	}
	for _, c := range chunks {
		if _, err := fmt.Fprint(p, c); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	results := p.Results()
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	tests := []struct {
		name     string
		passed   bool
		feedback string
		points   []string
	}{
		{"TestAdd", true, "", []string{"1.1", "1.2"}},
		{"TestSub", false, "expected 1, got 2\n  at line 4", nil},
		{"TestMul", true, "", []string{"2.1", "2.2"}},
	}

	seen := map[string]bool{}
	for i, tt := range tests {
		got := results[i]
		if got.TestName != tt.name {
			t.Errorf("[%d] name = %q, want %q", i, got.TestName, tt.name)
		}
		if got.Passed != tt.passed {
			t.Errorf("[%d] passed = %v, want %v", i, got.Passed, tt.passed)
		}
		if got.Feedback != tt.feedback {
			t.Errorf("[%d] feedback = %q, want %q", i, got.Feedback, tt.feedback)
		}
		if fmt.Sprint(got.Points) != fmt.Sprint(tt.points) {
			t.Errorf("[%d] points = %v, want %v", i, got.Points, tt.points)
		}
		if got.ID == "" || seen[got.ID] {
			t.Errorf("[%d] id %q is empty or duplicated", i, got.ID)
		}
		seen[got.ID] = true
	}
}

func TestTestParserNoTests(t *testing.T) {
	p := NewTestParser()
	fmt.Fprint(p, "Fail: orphan\nnothing here\n")
	if got := p.Results(); len(got) != 0 {
		t.Errorf("got %d results, want 0", len(got))
	}
}
