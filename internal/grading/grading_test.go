package grading

import (
	"errors"
	"strings"
	"testing"

	"github.com/michaelbrown/kata/internal/protocol"
)

func TestNewResult(t *testing.T) {
	tests := []struct {
		name    string
		results []protocol.TestCaseResult
		want    bool
	}{
		{"no cases", nil, false},
		{"all passed", []protocol.TestCaseResult{{Passed: true}, {Passed: true}}, true},
		{"one failed", []protocol.TestCaseResult{{Passed: true}, {Passed: false}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewResult(tt.results).AllPassed; got != tt.want {
				t.Errorf("AllPassed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlaceholderResult(t *testing.T) {
	res := PlaceholderResult(errors.New("connection refused"))

	if res.AllPassed {
		t.Error("placeholder must not pass")
	}
	if len(res.Results) != 1 {
		t.Fatalf("got %d cases, want 1", len(res.Results))
	}
	r := res.Results[0]
	if r.Passed || r.TestName != PlaceholderTestName || r.ID == "" {
		t.Errorf("placeholder case = %+v", r)
	}
	if !strings.Contains(r.Feedback, "connection refused") {
		t.Errorf("feedback %q does not mention the cause", r.Feedback)
	}
}
