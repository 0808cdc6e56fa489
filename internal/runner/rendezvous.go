package runner

import (
	"errors"
	"io"
	"sync"
)

// ErrInputPending is returned when the program asks for input while an
// earlier request is still unanswered.
var ErrInputPending = errors.New("input request already pending")

// Rendezvous is the program's stdin. Each time its buffer runs dry it calls
// request and blocks until Resolve supplies a value. The program then reads
// the value followed by a newline, so line-oriented readers see exactly the
// string that was sent.
type Rendezvous struct {
	request func()

	mu      sync.Mutex
	pending bool
	buf     []byte

	answered  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewRendezvous creates a Rendezvous that calls request whenever the program
// needs another line.
func NewRendezvous(request func()) *Rendezvous {
	return &Rendezvous{
		request:  request,
		answered: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (r *Rendezvous) Read(p []byte) (int, error) {
	r.mu.Lock()
	if len(r.buf) > 0 {
		n := r.take(p)
		r.mu.Unlock()
		return n, nil
	}
	if r.pending {
		r.mu.Unlock()
		return 0, ErrInputPending
	}
	r.pending = true
	r.mu.Unlock()

	r.request()

	select {
	case <-r.answered:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.take(p), nil
	case <-r.done:
		return 0, io.EOF
	}
}

// take copies buffered input into p. r.mu must be held.
func (r *Rendezvous) take(p []byte) int {
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n
}

// Pending reports whether a request is outstanding.
func (r *Rendezvous) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Resolve answers the outstanding request. It returns false when there is
// nothing to answer or the request was already answered.
func (r *Rendezvous) Resolve(value string) bool {
	r.mu.Lock()
	if !r.pending {
		r.mu.Unlock()
		return false
	}
	r.pending = false
	r.buf = append([]byte(value), '\n')
	r.mu.Unlock()

	// At most one request is outstanding, so the slot is free.
	r.answered <- struct{}{}
	return true
}

// Close releases a blocked reader with io.EOF.
func (r *Rendezvous) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}
