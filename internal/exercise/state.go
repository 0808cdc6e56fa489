// Package exercise drives one exercise widget: the execution state machine,
// the output log and the dispatch of runs, tests and submissions.
package exercise

import "fmt"

// State is the widget's current mode. Exactly one is current at a time.
type State int

const (
	Initializing State = iota
	Idle
	ExecutingCode
	WaitingInput
	Testing
	ShowTestResults
	Submitting
	ShowSubmissionResults
	ShowPassedFeedbackForm
	RunAborted
	ShowHelp
	SubmittingToPaste
	ShowPasteResults
)

var stateNames = [...]string{
	Initializing:           "initializing",
	Idle:                   "idle",
	ExecutingCode:          "executing_code",
	WaitingInput:           "waiting_input",
	Testing:                "testing",
	ShowTestResults:        "show_test_results",
	Submitting:             "submitting",
	ShowSubmissionResults:  "show_submission_results",
	ShowPassedFeedbackForm: "show_passed_feedback_form",
	RunAborted:             "run_aborted",
	ShowHelp:               "show_help",
	SubmittingToPaste:      "submitting_to_paste",
	ShowPasteResults:       "show_paste_results",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(stateNames) {
		return nil, fmt.Errorf("invalid state %d", int(s))
	}
	return []byte(stateNames[s]), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// IsWorkerActive reports whether a sandbox instance is bound to the current
// run in state s.
func IsWorkerActive(s State) bool {
	switch s {
	case ExecutingCode, WaitingInput, Testing:
		return true
	}
	return false
}

// timed reports whether the execution timeout runs in state s.
func timed(s State) bool {
	return s == ExecutingCode || s == Testing
}
