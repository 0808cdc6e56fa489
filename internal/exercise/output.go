package exercise

import "github.com/google/uuid"

// EntryKind tags an OutputEntry.
type EntryKind string

const (
	KindOutput EntryKind = "output"
	KindInput  EntryKind = "input"
	KindError  EntryKind = "error"
)

// InfiniteLoopMessage is the entry added when a run exceeds the execution
// timeout.
const InfiniteLoopMessage = "Execution timed out. Your program may contain an infinite loop."

// OutputEntry is one line of the output panel. Entries are appended in
// delivery order and cleared when a new run starts.
type OutputEntry struct {
	ID        string    `json:"id"`
	Kind      EntryKind `json:"kind"`
	Text      string    `json:"text"`
	Traceback []string  `json:"traceback,omitempty"`
}

func newEntry(kind EntryKind, text string) OutputEntry {
	return OutputEntry{ID: uuid.NewString(), Kind: kind, Text: text}
}
