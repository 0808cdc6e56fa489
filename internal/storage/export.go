package storage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExportMarkdown renders a session, its code, its last output and its
// submissions as a markdown document.
func ExportMarkdown(sess *Session, entries []Entry, subs []Submission) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("# %s\n\n", sess.Title))
	b.WriteString(fmt.Sprintf("- **Session:** %s\n", sess.ID))
	b.WriteString(fmt.Sprintf("- **Exercise:** %s\n", sess.Exercise))
	b.WriteString(fmt.Sprintf("- **Created:** %s\n", sess.CreatedAt.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("- **Status:** %s\n", sess.Status))
	b.WriteString("\n---\n\n")

	if sess.Code != "" {
		b.WriteString(fmt.Sprintf("## Code\n\n```go\n%s\n```\n\n", strings.TrimRight(sess.Code, "\n")))
	}

	if len(entries) > 0 {
		b.WriteString("## Output\n\n```\n")
		for _, e := range entries {
			switch e.Kind {
			case "input":
				b.WriteString("> " + e.Text)
			case "error":
				b.WriteString("error: " + e.Text + "\n")
				for _, line := range e.Traceback {
					b.WriteString("    " + line + "\n")
				}
			default:
				b.WriteString(e.Text)
			}
		}
		b.WriteString("```\n\n")
	}

	for _, sub := range subs {
		verdict := "failed"
		if sub.Passed {
			verdict = "passed"
		}
		b.WriteString(fmt.Sprintf("## Submission %s (%s)\n\n", sub.CreatedAt.Format("2006-01-02 15:04:05"), verdict))
		for _, r := range sub.Results {
			mark := " "
			if r.Passed {
				mark = "x"
			}
			b.WriteString(fmt.Sprintf("- [%s] %s", mark, r.TestName))
			if r.Feedback != "" {
				b.WriteString(": " + r.Feedback)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	return b.String()
}

// ExportJSON renders a session with its transcript and submissions as
// formatted JSON.
func ExportJSON(sess *Session, entries []Entry, subs []Submission) ([]byte, error) {
	export := struct {
		Session     *Session     `json:"session"`
		Transcript  []Entry      `json:"transcript"`
		Submissions []Submission `json:"submissions"`
	}{
		Session:     sess,
		Transcript:  entries,
		Submissions: subs,
	}
	return json.MarshalIndent(export, "", "  ")
}
