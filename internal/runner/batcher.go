package runner

import (
	"sync"
	"time"
)

// Default batching parameters.
const (
	DefaultFlushInterval = 50 * time.Millisecond
	DefaultBatchSize     = 1000
)

// Batcher accumulates print items and hands them to emit in batches. A batch
// is emitted as soon as more than interval has passed since the previous
// flush, or once maxItems items are waiting. A ticker started by Start
// delivers whatever is left when the program goes quiet.
type Batcher struct {
	interval time.Duration
	maxItems int
	emit     func(items []string)
	now      func() time.Time

	mu        sync.Mutex
	items     []string
	lastFlush time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewBatcher creates a Batcher. Zero values select the defaults.
func NewBatcher(interval time.Duration, maxItems int, emit func(items []string)) *Batcher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if maxItems <= 0 {
		maxItems = DefaultBatchSize
	}
	return &Batcher{
		interval:  interval,
		maxItems:  maxItems,
		emit:      emit,
		now:       time.Now,
		lastFlush: time.Now(),
		stop:      make(chan struct{}),
	}
}

// Start begins the scheduled flush. It is a no-op after the first call.
func (b *Batcher) Start() {
	b.startOnce.Do(func() {
		b.mu.Lock()
		b.lastFlush = b.now()
		b.mu.Unlock()

		b.wg.Add(1)
		go b.tick()
	})
}

func (b *Batcher) tick() {
	defer b.wg.Done()
	t := time.NewTicker(b.interval)
	defer t.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-t.C:
			b.Flush()
		}
	}
}

// Write records p as a single print item.
func (b *Batcher) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b.Add(string(p))
	return len(p), nil
}

// Add records one print item.
func (b *Batcher) Add(item string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append(b.items, item)
	if b.now().Sub(b.lastFlush) > b.interval || len(b.items) >= b.maxItems {
		b.flushLocked()
	}
}

// Flush emits any pending items immediately.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *Batcher) flushLocked() {
	if len(b.items) == 0 {
		return
	}
	b.lastFlush = b.now()
	items := b.items
	b.items = nil
	b.emit(items)
}

// Stop cancels the scheduled flush and emits what is left. Calling Stop more
// than once has no further effect.
func (b *Batcher) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
		b.wg.Wait()
		b.Flush()
	})
}
