package exercise

import "fmt"

// Event is something that happened to the widget: a user action, a sandbox
// message or a collaborator's answer.
type Event int

const (
	EventEditorReady Event = iota
	EventRunClicked
	EventTestClicked
	EventInputRequired
	EventInputSent
	EventPrintDone
	EventSandboxError
	EventStopClicked
	EventTimeoutFired
	EventSubmitClicked
	EventSubmissionPassed
	EventSubmissionFailed
	EventPasteClicked
	EventPasteResolved
	EventPasteFailed
	EventHelpClicked
	EventDismiss
)

var eventNames = [...]string{
	EventEditorReady:      "editor_ready",
	EventRunClicked:       "run_clicked",
	EventTestClicked:      "test_clicked",
	EventInputRequired:    "input_required",
	EventInputSent:        "input_sent",
	EventPrintDone:        "print_done",
	EventSandboxError:     "sandbox_error",
	EventStopClicked:      "stop_clicked",
	EventTimeoutFired:     "timeout_fired",
	EventSubmitClicked:    "submit_clicked",
	EventSubmissionPassed: "submission_passed",
	EventSubmissionFailed: "submission_failed",
	EventPasteClicked:     "paste_clicked",
	EventPasteResolved:    "paste_resolved",
	EventPasteFailed:      "paste_failed",
	EventHelpClicked:      "help_clicked",
	EventDismiss:          "dismiss",
}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return fmt.Sprintf("event(%d)", int(e))
	}
	return eventNames[e]
}

// canStart reports whether a run or test may begin from s.
func canStart(s State) bool {
	switch s {
	case Idle, RunAborted, ShowTestResults, ShowSubmissionResults, ShowPasteResults, ShowPassedFeedbackForm:
		return true
	}
	return false
}

// Transition returns the state that follows s on e. ok is false when e is not
// valid in s; the state is then unchanged.
func Transition(s State, e Event) (next State, ok bool) {
	switch e {
	case EventEditorReady:
		if s == Initializing {
			return Idle, true
		}
	case EventRunClicked:
		if canStart(s) {
			return ExecutingCode, true
		}
	case EventTestClicked:
		if canStart(s) {
			return Testing, true
		}
	case EventInputRequired:
		if s == ExecutingCode || s == Testing {
			return WaitingInput, true
		}
	case EventInputSent:
		if s == WaitingInput {
			return ExecutingCode, true
		}
	case EventPrintDone:
		switch s {
		case ExecutingCode:
			return Idle, true
		case Testing:
			return ShowTestResults, true
		}
	case EventSandboxError:
		if IsWorkerActive(s) {
			return Idle, true
		}
	case EventStopClicked, EventTimeoutFired:
		if IsWorkerActive(s) {
			return RunAborted, true
		}
	case EventSubmitClicked:
		switch s {
		case Idle, ShowTestResults, RunAborted:
			return Submitting, true
		}
	case EventSubmissionPassed:
		if s == Submitting {
			return ShowPassedFeedbackForm, true
		}
	case EventSubmissionFailed:
		if s == Submitting {
			return ShowSubmissionResults, true
		}
	case EventPasteClicked:
		switch s {
		case Idle, ShowTestResults, RunAborted:
			return SubmittingToPaste, true
		}
	case EventPasteResolved:
		if s == SubmittingToPaste {
			return ShowPasteResults, true
		}
	case EventPasteFailed:
		if s == SubmittingToPaste {
			return Idle, true
		}
	case EventHelpClicked:
		if s == Idle {
			return ShowHelp, true
		}
	case EventDismiss:
		switch s {
		case RunAborted, ShowHelp, ShowTestResults, ShowSubmissionResults, ShowPasteResults, ShowPassedFeedbackForm:
			return Idle, true
		}
	}
	return s, false
}
