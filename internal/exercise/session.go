package exercise

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/michaelbrown/kata/internal/archive"
	"github.com/michaelbrown/kata/internal/editor"
	"github.com/michaelbrown/kata/internal/grading"
	"github.com/michaelbrown/kata/internal/pool"
	"github.com/michaelbrown/kata/internal/protocol"
)

// DefaultTimeout is how long a run or test may execute before it is
// aborted.
const DefaultTimeout = 10 * time.Second

// Mode says what a Record describes.
type Mode string

const (
	ModeRun    Mode = "run"
	ModeTest   Mode = "test"
	ModeSubmit Mode = "submit"
)

// Record is what a Recorder receives when a run, test or submission ends.
type Record struct {
	Mode       Mode
	State      State
	Code       string
	Output     []OutputEntry
	Results    []protocol.TestCaseResult
	Submission *grading.Result
}

// Recorder persists finished activity.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Options configures a Session.
type Options struct {
	Pool     *pool.Pool
	Editor   editor.Editor
	Exercise *archive.Exercise
	Grader   grading.Grader
	Recorder Recorder
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Snapshot is a copy of a session's visible state.
type Snapshot struct {
	State      State                     `json:"state"`
	Output     []OutputEntry             `json:"output"`
	Results    []protocol.TestCaseResult `json:"results,omitempty"`
	Submission *grading.Result           `json:"submission,omitempty"`
	PasteURL   string                    `json:"paste_url,omitempty"`
}

// Session drives one exercise widget. All state is owned by a single loop
// goroutine; the exported methods queue work onto it and are safe to call
// from any goroutine.
//
// Callbacks run on the loop goroutine and must not call back into the
// Session synchronously. Set them before Start. When OnOutputBatch is set it
// receives each group of entries that arrived together, and OnOutput is not
// called.
type Session struct {
	OnStateChange func(from, to State)
	OnOutput      func(entry OutputEntry)
	OnOutputBatch func(entries []OutputEntry)
	OnOutputReset func()
	OnTestResults func(results []protocol.TestCaseResult)
	OnSubmission  func(res *grading.Result)
	OnPaste       func(url string)

	pool     *pool.Pool
	editor   editor.Editor
	exercise *archive.Exercise
	grader   grading.Grader
	recorder Recorder
	timeout  time.Duration
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan func()
	quit   chan struct{}
	done   chan struct{}

	startOnce sync.Once
	closeOnce sync.Once

	// Owned by the loop.
	state      State
	output     []OutputEntry
	results    []protocol.TestCaseResult
	submission *grading.Result
	pasteURL   string
	mode       Mode
	code       string
	inst       *pool.Instance
	timer      *time.Timer
	timerGen   uint64
}

// New creates a Session in Initializing. Call Start to run it.
func New(opts Options) *Session {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Editor == nil {
		opts.Editor = editor.NewBuffer("")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		pool:     opts.Pool,
		editor:   opts.Editor,
		exercise: opts.Exercise,
		grader:   opts.Grader,
		recorder: opts.Recorder,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan func(), 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		state:    Initializing,
	}
}

// Start runs the session loop.
func (s *Session) Start() {
	s.startOnce.Do(func() { go s.loop() })
}

// Close stops the session, killing any run in flight. It blocks until the
// loop has exited.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.quit)
	})
	// A session that never started has no loop to wait for.
	s.startOnce.Do(func() { close(s.done) })
	<-s.done
}

// Editor returns the session's text source.
func (s *Session) Editor() editor.Editor {
	return s.editor
}

// Exercise returns the exercise, or nil for free-form code.
func (s *Session) Exercise() *archive.Exercise {
	return s.exercise
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.quit:
			s.disarmTimer()
			if s.inst != nil {
				s.pool.Terminate(s.inst)
				s.inst = nil
			}
			return
		}
	}
}

// enqueue hands fn to the loop. It reports false once the session is closed.
func (s *Session) enqueue(fn func()) bool {
	select {
	case s.events <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// EditorReady moves the session out of Initializing.
func (s *Session) EditorReady() {
	s.enqueue(func() { s.fire(EventEditorReady) })
}

// Run executes the editor's code.
func (s *Session) Run() {
	s.enqueue(func() { s.start(ModeRun) })
}

// Test runs the exercise's tests against the editor's code.
func (s *Session) Test() {
	s.enqueue(func() { s.start(ModeTest) })
}

// SendInput answers the program's pending input request.
func (s *Session) SendInput(value string) {
	s.enqueue(func() { s.sendInput(value) })
}

// Stop aborts the run in flight. It has no effect when nothing is running.
func (s *Session) Stop() {
	s.enqueue(func() { s.abort(EventStopClicked) })
}

// Submit sends the editor's code for grading.
func (s *Session) Submit() {
	s.enqueue(s.submit)
}

// Paste shares the editor's code.
func (s *Session) Paste() {
	s.enqueue(s.paste)
}

// Help opens the help view.
func (s *Session) Help() {
	s.enqueue(func() { s.fire(EventHelpClicked) })
}

// Dismiss closes a results, help or aborted view.
func (s *Session) Dismiss() {
	s.enqueue(func() { s.fire(EventDismiss) })
}

// Snapshot returns a copy of the visible state. After Close it returns the
// zero Snapshot.
func (s *Session) Snapshot() Snapshot {
	return s.SnapshotThen(nil)
}

// SnapshotThen is Snapshot, but also calls fn on the loop goroutine right
// after the copy is taken and before SnapshotThen returns. Callbacks fired
// after fn describe changes the snapshot does not contain. fn is not called
// once the session is closed.
func (s *Session) SnapshotThen(fn func()) Snapshot {
	ch := make(chan Snapshot, 1)
	ok := s.enqueue(func() {
		snap := Snapshot{
			State:      s.state,
			Output:     append([]OutputEntry(nil), s.output...),
			Results:    append([]protocol.TestCaseResult(nil), s.results...),
			Submission: s.submission,
			PasteURL:   s.pasteURL,
		}
		if fn != nil {
			fn()
		}
		ch <- snap
	})
	if !ok {
		return Snapshot{}
	}
	select {
	case snap := <-ch:
		return snap
	case <-s.done:
		return Snapshot{}
	}
}

// fire applies e, logging events the current state does not accept.
func (s *Session) fire(e Event) bool {
	next, ok := Transition(s.state, e)
	if !ok {
		s.logger.Debug("ignoring event",
			zap.Stringer("event", e), zap.Stringer("state", s.state))
		return false
	}
	s.setState(next)
	return true
}

func (s *Session) setState(next State) {
	prev := s.state
	s.state = next

	// Entering a timed state (re)starts the clock; anything else stops it.
	if timed(next) {
		if !timed(prev) {
			s.armTimer()
		}
	} else {
		s.disarmTimer()
	}

	if prev != next && s.OnStateChange != nil {
		s.OnStateChange(prev, next)
	}
}

func (s *Session) armTimer() {
	s.disarmTimer()
	gen := s.timerGen
	s.timer = time.AfterFunc(s.timeout, func() {
		s.enqueue(func() { s.timeoutFired(gen) })
	})
}

// disarmTimer stops the timer and invalidates any firing already queued.
func (s *Session) disarmTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

func (s *Session) timeoutFired(gen uint64) {
	if gen != s.timerGen || !IsWorkerActive(s.state) {
		return
	}
	s.logger.Info("run timed out", zap.Duration("timeout", s.timeout))
	s.abort(EventTimeoutFired)
}

// abort hard-stops the active instance on stop or timeout.
func (s *Session) abort(e Event) {
	if !IsWorkerActive(s.state) {
		s.logger.Debug("nothing to stop", zap.Stringer("state", s.state))
		return
	}
	s.releaseInstance(false)
	if e == EventTimeoutFired {
		s.appendOutput(newEntry(KindOutput, InfiniteLoopMessage))
	}
	s.fire(e)
	s.record()
}

func (s *Session) start(mode Mode) {
	event := EventRunClicked
	if mode == ModeTest {
		event = EventTestClicked
		if s.exercise == nil || !s.exercise.HasTests() {
			s.logger.Warn("test requested for an exercise without tests")
			return
		}
	}
	if _, ok := Transition(s.state, event); !ok {
		s.logger.Debug("ignoring event",
			zap.Stringer("event", event), zap.Stringer("state", s.state))
		return
	}

	code := s.editor.Value()
	var msg protocol.HostMessage = protocol.Run{Code: code}
	if mode == ModeTest {
		msg = protocol.RunTests{Code: archive.TestProgram(s.exercise.TestSource, code)}
	}

	s.mode = mode
	s.code = code
	s.output = nil
	s.results = nil
	if s.OnOutputReset != nil {
		s.OnOutputReset()
	}
	s.fire(event)

	inst, err := s.pool.Acquire(s.ctx, s.deliver)
	if err != nil {
		s.failRun(fmt.Sprintf("could not start the sandbox: %v", err), nil)
		return
	}
	s.inst = inst
	if err := inst.Post(msg); err != nil {
		s.releaseInstance(false)
		s.failRun(fmt.Sprintf("could not send code to the sandbox: %v", err), nil)
	}
}

// deliver is the pool handler. It runs on the instance's reader goroutine.
func (s *Session) deliver(env pool.Envelope) {
	s.enqueue(func() { s.handle(env) })
}

func (s *Session) handle(env pool.Envelope) {
	if s.inst == nil || env.InstanceID != s.inst.ID() {
		s.logger.Debug("dropping stale message",
			zap.Uint64("instance", env.InstanceID),
			zap.String("type", string(env.Message.Type())))
		return
	}

	switch m := env.Message.(type) {
	case protocol.Ready:
	case protocol.Print:
		s.appendOutput(newEntry(KindOutput, m.Text))
	case protocol.PrintBatch:
		entries := make([]OutputEntry, len(m.Items))
		for i, item := range m.Items {
			entries[i] = newEntry(KindOutput, item)
		}
		s.appendOutput(entries...)
	case protocol.InputRequired:
		s.fire(EventInputRequired)
	case protocol.TestResults:
		s.results = m.Results
		if s.OnTestResults != nil {
			s.OnTestResults(m.Results)
		}
	case protocol.PrintDone:
		s.releaseInstance(true)
		s.fire(EventPrintDone)
		s.record()
	case protocol.Error:
		s.releaseInstance(false)
		s.failRun(m.Message, m.Traceback)
	}
}

// failRun reports a run that ended in error and returns to Idle.
func (s *Session) failRun(message string, traceback []string) {
	entry := newEntry(KindError, message)
	entry.Traceback = traceback
	s.appendOutput(entry)
	s.fire(EventSandboxError)
	s.record()
}

func (s *Session) releaseInstance(recycle bool) {
	if s.inst == nil {
		return
	}
	inst := s.inst
	s.inst = nil
	if recycle {
		s.pool.Release(inst, true)
	} else {
		s.pool.Terminate(inst)
	}
}

func (s *Session) sendInput(value string) {
	if s.state != WaitingInput || s.inst == nil {
		s.logger.Debug("input while not waiting", zap.Stringer("state", s.state))
		return
	}
	s.appendOutput(newEntry(KindInput, value+"\n"))
	if s.mode == ModeTest {
		// A test program that reads input goes back to Testing so that
		// print_done still shows its results.
		s.setState(Testing)
	} else {
		s.fire(EventInputSent)
	}
	if err := s.inst.Post(protocol.Input{Value: value}); err != nil {
		s.releaseInstance(false)
		s.failRun(fmt.Sprintf("could not send input to the sandbox: %v", err), nil)
	}
}

func (s *Session) appendOutput(entries ...OutputEntry) {
	if len(entries) == 0 {
		return
	}
	s.output = append(s.output, entries...)
	if s.OnOutputBatch != nil {
		s.OnOutputBatch(entries)
		return
	}
	if s.OnOutput != nil {
		for _, e := range entries {
			s.OnOutput(e)
		}
	}
}

func (s *Session) newSubmission() (grading.Submission, bool) {
	if s.grader == nil || s.exercise == nil {
		s.logger.Warn("submission requested without a grader or exercise")
		return grading.Submission{}, false
	}
	return grading.Submission{
		Exercise: s.exercise.Slug,
		Files:    s.exercise.Files(s.editor.Value()),
	}, true
}

func (s *Session) submit() {
	sub, ok := s.newSubmission()
	if !ok || !s.fire(EventSubmitClicked) {
		return
	}
	s.code = sub.Files[s.exercise.MainFile]

	go func() {
		res, err := s.grader.SubmitExercise(s.ctx, sub)
		s.enqueue(func() { s.submitted(res, err) })
	}()
}

func (s *Session) submitted(res *grading.Result, err error) {
	if s.state != Submitting {
		return
	}
	event := EventSubmissionFailed
	switch {
	case err != nil:
		s.logger.Warn("submission failed", zap.Error(err))
		res = grading.PlaceholderResult(err)
		s.appendOutput(newEntry(KindError, fmt.Sprintf("submission failed: %v", err)))
	case res == nil:
		res = grading.PlaceholderResult(fmt.Errorf("empty response"))
	case res.AllPassed:
		event = EventSubmissionPassed
	}

	s.submission = res
	s.results = res.Results
	if s.OnSubmission != nil {
		s.OnSubmission(res)
	}
	s.fire(event)

	s.mode = ModeSubmit
	s.record()
}

func (s *Session) paste() {
	sub, ok := s.newSubmission()
	if !ok || !s.fire(EventPasteClicked) {
		return
	}

	go func() {
		url, err := s.grader.SubmitToPaste(s.ctx, sub)
		s.enqueue(func() { s.pasted(url, err) })
	}()
}

func (s *Session) pasted(url string, err error) {
	if s.state != SubmittingToPaste {
		return
	}
	if err != nil {
		s.logger.Warn("paste failed", zap.Error(err))
		s.appendOutput(newEntry(KindError, fmt.Sprintf("could not create paste: %v", err)))
		s.fire(EventPasteFailed)
		return
	}
	s.pasteURL = url
	if s.OnPaste != nil {
		s.OnPaste(url)
	}
	s.fire(EventPasteResolved)
}

func (s *Session) record() {
	if s.recorder == nil {
		return
	}
	rec := Record{
		Mode:    s.mode,
		State:   s.state,
		Code:    s.code,
		Output:  append([]OutputEntry(nil), s.output...),
		Results: append([]protocol.TestCaseResult(nil), s.results...),
	}
	if s.mode == ModeSubmit {
		rec.Submission = s.submission
	}
	if err := s.recorder.Record(s.ctx, rec); err != nil {
		s.logger.Warn("recording session activity", zap.Error(err))
	}
}
