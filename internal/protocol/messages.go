// Package protocol defines the JSON-line messages exchanged between the host
// and a sandbox instance. Each direction is a closed set of message types.
package protocol

// MessageType is the discriminator carried in the "type" field of every line.
type MessageType string

const (
	// Host -> sandbox
	TypeRun      MessageType = "run"
	TypeRunTests MessageType = "run_tests"
	TypeInput    MessageType = "input"
	TypeStop     MessageType = "stop"

	// Sandbox -> host
	TypePrint         MessageType = "print"
	TypePrintBatch    MessageType = "print_batch"
	TypeInputRequired MessageType = "input_required"
	TypePrintDone     MessageType = "print_done"
	TypeError         MessageType = "error"
	TypeReady         MessageType = "ready"
	TypeTestResults   MessageType = "test_results"
)

// HostMessage is a message sent from the host to a sandbox instance.
type HostMessage interface {
	Type() MessageType
	hostMessage()
}

// SandboxMessage is a message sent from a sandbox instance to the host.
type SandboxMessage interface {
	Type() MessageType
	sandboxMessage()
}

// Run asks the sandbox to execute a program.
type Run struct {
	Code string `json:"code"`
}

// RunTests asks the sandbox to execute a test bundle.
type RunTests struct {
	Code string `json:"code"`
}

// Input answers an outstanding InputRequired.
type Input struct {
	Value string `json:"value"`
}

// Stop asks the sandbox to exit immediately.
type Stop struct{}

// Print carries a single output item.
type Print struct {
	Text string `json:"text"`
}

// PrintBatch carries output items in the order they were produced.
type PrintBatch struct {
	Items []string `json:"items"`
}

// InputRequired signals that the running program is blocked reading input.
type InputRequired struct{}

// PrintDone marks the normal end of a run.
type PrintDone struct{}

// Error reports an uncaught failure in the running program. The run ends
// without a PrintDone.
type Error struct {
	Message   string   `json:"message"`
	Traceback []string `json:"traceback,omitempty"`
}

// Ready is emitted once by a sandbox instance when it can accept work.
type Ready struct{}

// TestResults carries the parsed outcome of a test run.
type TestResults struct {
	Results []TestCaseResult `json:"results"`
}

// TestCaseResult is the outcome of one named test case.
type TestCaseResult struct {
	ID       string   `json:"id"`
	TestName string   `json:"testName"`
	Passed   bool     `json:"passed"`
	Feedback string   `json:"feedback"`
	Points   []string `json:"points,omitempty"`
}

func (Run) Type() MessageType      { return TypeRun }
func (RunTests) Type() MessageType { return TypeRunTests }
func (Input) Type() MessageType    { return TypeInput }
func (Stop) Type() MessageType     { return TypeStop }

func (Run) hostMessage()      {}
func (RunTests) hostMessage() {}
func (Input) hostMessage()    {}
func (Stop) hostMessage()     {}

func (Print) Type() MessageType         { return TypePrint }
func (PrintBatch) Type() MessageType    { return TypePrintBatch }
func (InputRequired) Type() MessageType { return TypeInputRequired }
func (PrintDone) Type() MessageType     { return TypePrintDone }
func (Error) Type() MessageType         { return TypeError }
func (Ready) Type() MessageType         { return TypeReady }
func (TestResults) Type() MessageType   { return TypeTestResults }

func (Print) sandboxMessage()         {}
func (PrintBatch) sandboxMessage()    {}
func (InputRequired) sandboxMessage() {}
func (PrintDone) sandboxMessage()     {}
func (Error) sandboxMessage()         {}
func (Ready) sandboxMessage()         {}
func (TestResults) sandboxMessage()   {}
