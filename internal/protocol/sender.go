package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrSenderClosed is returned by Send after Close.
var ErrSenderClosed = errors.New("sender closed")

// Sender writes messages to a stream in the order they were sent. Send never
// blocks on the underlying writer and never discards: messages that cannot be
// written yet wait in an unbounded queue drained by a single goroutine.
type Sender struct {
	w io.Writer

	mu     sync.Mutex
	cond   *sync.Cond
	queue  [][]byte
	closed bool
	err    error

	done chan struct{}
}

// NewSender creates a Sender and starts its writer goroutine.
func NewSender(w io.Writer) *Sender {
	s := &Sender{
		w:    w,
		done: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.loop()
	return s
}

// Send queues a message for writing.
func (s *Sender) Send(m Message) error {
	line, err := Encode(m)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSenderClosed
	}
	if s.err != nil {
		return s.err
	}
	s.queue = append(s.queue, line)
	s.cond.Signal()
	return nil
}

func (s *Sender) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, line := range batch {
			if _, err := s.w.Write(line); err != nil {
				s.mu.Lock()
				s.err = fmt.Errorf("writing message: %w", err)
				s.queue = nil
				s.mu.Unlock()
				return
			}
		}
	}
}

// Close waits for queued messages to be written and stops the writer.
func (s *Sender) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Err returns the first write error, if any.
func (s *Sender) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
