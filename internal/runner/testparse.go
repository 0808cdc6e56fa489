package runner

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/michaelbrown/kata/internal/protocol"
)

// Line markers written by test programs.
const (
	markerRunning = "Running "
	markerFail    = "Fail: "
	markerPoints  = "Points: "
)

// TestParser turns the line-oriented output of a test program into test case
// results. It is an io.Writer so it can stand in for the program's stdout.
type TestParser struct {
	mu      sync.Mutex
	partial strings.Builder
	results []protocol.TestCaseResult
}

// NewTestParser creates an empty parser.
func NewTestParser() *TestParser {
	return &TestParser{}
}

func (p *TestParser) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.partial.Write(b)
	buf := p.partial.String()
	for {
		i := strings.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		p.line(buf[:i])
		buf = buf[i+1:]
	}
	p.partial.Reset()
	p.partial.WriteString(buf)
	return len(b), nil
}

func (p *TestParser) line(line string) {
	line = strings.TrimRight(line, "\r")
	switch {
	case strings.HasPrefix(line, markerRunning):
		p.results = append(p.results, protocol.TestCaseResult{
			ID:       uuid.New().String(),
			TestName: strings.TrimSpace(strings.TrimPrefix(line, markerRunning)),
			Passed:   true,
		})
	case len(p.results) == 0:
		// output before the first test belongs to no case
	case strings.HasPrefix(line, markerFail):
		cur := &p.results[len(p.results)-1]
		cur.Passed = false
		cur.Feedback = strings.TrimPrefix(line, markerFail)
	case strings.HasPrefix(line, markerPoints):
		cur := &p.results[len(p.results)-1]
		cur.Points = parsePoints(strings.TrimPrefix(line, markerPoints))
	default:
		cur := &p.results[len(p.results)-1]
		if !cur.Passed {
			cur.Feedback += "\n" + line
		}
	}
}

// parsePoints accepts a JSON string array and falls back to a comma or space
// separated list.
func parsePoints(s string) []string {
	var points []string
	if err := json.Unmarshal([]byte(s), &points); err == nil {
		return points
	}
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '[' || r == ']' || r == '"'
	})
}

// Results returns the cases parsed so far, including an unterminated final
// line.
func (p *TestParser) Results() []protocol.TestCaseResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.partial.Len() > 0 {
		p.line(p.partial.String())
		p.partial.Reset()
	}
	out := make([]protocol.TestCaseResult, len(p.results))
	copy(out, p.results)
	for i := range out {
		out[i].Feedback = strings.TrimRight(out[i].Feedback, "\n")
	}
	return out
}
