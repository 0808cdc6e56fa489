// Package editor holds the source text a session runs. In the browser widget
// the real editor lives client-side and mirrors its text here on every change.
package editor

import "sync"

// Editor is the text source a session reads at run, test and submit time.
type Editor interface {
	// Value returns the current source text.
	Value() string
	// SetValue replaces the source text and notifies subscribers.
	SetValue(text string)
	// OnChange registers fn to be called after every change. The returned
	// function removes the subscription.
	OnChange(fn func(text string)) (cancel func())
	// Ready reports whether the editor has finished loading.
	Ready() bool
}

// Buffer is an in-memory Editor safe for concurrent use.
type Buffer struct {
	mu        sync.RWMutex
	text      string
	ready     bool
	nextSub   int
	listeners map[int]func(string)
}

// NewBuffer returns a Buffer holding text. It is not ready until SetReady.
func NewBuffer(text string) *Buffer {
	return &Buffer{text: text, listeners: make(map[int]func(string))}
}

func (b *Buffer) Value() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.text
}

func (b *Buffer) SetValue(text string) {
	b.mu.Lock()
	if b.text == text {
		b.mu.Unlock()
		return
	}
	b.text = text
	fns := make([]func(string), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(text)
	}
}

func (b *Buffer) OnChange(fn func(text string)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.listeners[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

func (b *Buffer) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready
}

// SetReady marks the editor as loaded.
func (b *Buffer) SetReady(ready bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready = ready
}
