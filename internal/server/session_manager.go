package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/michaelbrown/kata/internal/archive"
	"github.com/michaelbrown/kata/internal/editor"
	"github.com/michaelbrown/kata/internal/exercise"
	"github.com/michaelbrown/kata/internal/grading"
	"github.com/michaelbrown/kata/internal/pool"
	"github.com/michaelbrown/kata/internal/protocol"
	"github.com/michaelbrown/kata/internal/storage"
)

// subscriberBuffer is how many outgoing messages a websocket client may fall
// behind before it is disconnected. Output arrives in batches, so only a
// client that has stopped reading gets this far behind.
const subscriberBuffer = 256

// ActiveSession is a stored session with a live exercise.Session behind it.
type ActiveSession struct {
	ID       string
	Session  *exercise.Session
	Editor   *editor.Buffer
	Exercise *archive.Exercise

	mu   sync.Mutex
	subs map[chan wsOutgoing]struct{}
}

// subscribe registers a client. The channel is closed when the client falls
// too far behind or the session is removed.
func (as *ActiveSession) subscribe() chan wsOutgoing {
	ch := make(chan wsOutgoing, subscriberBuffer)
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.subs == nil {
		as.subs = make(map[chan wsOutgoing]struct{})
	}
	as.subs[ch] = struct{}{}
	return ch
}

func (as *ActiveSession) unsubscribe(ch chan wsOutgoing) {
	as.mu.Lock()
	defer as.mu.Unlock()
	if _, ok := as.subs[ch]; ok {
		delete(as.subs, ch)
		close(ch)
	}
}

func (as *ActiveSession) broadcast(msg wsOutgoing) {
	as.mu.Lock()
	defer as.mu.Unlock()
	for ch := range as.subs {
		select {
		case ch <- msg:
		default:
			delete(as.subs, ch)
			close(ch)
		}
	}
}

func (as *ActiveSession) close() {
	as.Session.Close()
	as.mu.Lock()
	defer as.mu.Unlock()
	for ch := range as.subs {
		delete(as.subs, ch)
		close(ch)
	}
}

// SessionManager tracks which sessions have a live exercise.Session in
// memory.
type SessionManager struct {
	pool    *pool.Pool
	catalog *archive.Catalog
	grader  grading.Grader
	store   storage.Store
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*ActiveSession
}

// NewSessionManager creates a SessionManager. grader may be nil, which
// disables submissions.
func NewSessionManager(p *pool.Pool, catalog *archive.Catalog, grader grading.Grader, store storage.Store, timeout time.Duration, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		pool:     p,
		catalog:  catalog,
		grader:   grader,
		store:    store,
		timeout:  timeout,
		logger:   logger,
		sessions: make(map[string]*ActiveSession),
	}
}

// Get returns an active session if it exists.
func (sm *SessionManager) Get(sessionID string) (*ActiveSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	as, ok := sm.sessions[sessionID]
	return as, ok
}

// GetOrCreate returns an existing active session or starts one for sess,
// restoring its last code and output.
func (sm *SessionManager) GetOrCreate(ctx context.Context, sess *storage.Session) (*ActiveSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if as, ok := sm.sessions[sess.ID]; ok {
		return as, nil
	}

	var ex *archive.Exercise
	if sess.Exercise != "" {
		var ok bool
		ex, ok = sm.catalog.Get(sess.Exercise)
		if !ok {
			return nil, fmt.Errorf("%w: %q", grading.ErrUnknownExercise, sess.Exercise)
		}
	}

	code := sess.Code
	if code == "" && ex != nil {
		code = ex.Template
	}
	buf := editor.NewBuffer(code)

	logger := sm.logger.With(zap.String("session", sess.ID))
	es := exercise.New(exercise.Options{
		Pool:     sm.pool,
		Editor:   buf,
		Exercise: ex,
		Grader:   sm.grader,
		Recorder: &storeRecorder{store: sm.store, sessionID: sess.ID, logger: logger},
		Timeout:  sm.timeout,
		Logger:   logger,
	})

	as := &ActiveSession{ID: sess.ID, Session: es, Editor: buf, Exercise: ex}
	es.OnStateChange = func(from, to exercise.State) {
		as.broadcast(wsOutgoing{Type: "state", State: to.String(), From: from.String()})
	}
	es.OnOutputBatch = func(entries []exercise.OutputEntry) {
		as.broadcast(wsOutgoing{Type: "output", Entries: entries})
	}
	es.OnOutputReset = func() {
		as.broadcast(wsOutgoing{Type: "output_reset"})
	}
	es.OnTestResults = func(results []protocol.TestCaseResult) {
		as.broadcast(wsOutgoing{Type: "test_results", Results: results})
	}
	es.OnSubmission = func(res *grading.Result) {
		as.broadcast(wsOutgoing{Type: "submission", Submission: res})
	}
	es.OnPaste = func(url string) {
		as.broadcast(wsOutgoing{Type: "paste", Content: url})
	}
	es.Start()

	sm.sessions[sess.ID] = as
	return as, nil
}

// Remove stops an active session and disconnects its clients.
func (sm *SessionManager) Remove(sessionID string) {
	sm.mu.Lock()
	as, ok := sm.sessions[sessionID]
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()

	if ok {
		as.close()
	}
}

// CloseAll stops all active sessions.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	all := sm.sessions
	sm.sessions = make(map[string]*ActiveSession)
	sm.mu.Unlock()

	for _, as := range all {
		as.close()
	}
}

// Stats reports the shared sandbox pool's occupancy.
func (sm *SessionManager) Stats() pool.Stats {
	return sm.pool.Stats()
}
