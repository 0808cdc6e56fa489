// Package pool keeps sandbox instances warm and hands them out one run at a
// time.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/michaelbrown/kata/internal/sandbox"
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("pool closed")

// Options configures a Pool.
type Options struct {
	// Size is the number of idle instances kept ready. Values below one are
	// treated as one.
	Size   int
	Logger *zap.Logger
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Idle     int `json:"idle"`
	Busy     int `json:"busy"`
	Spawning int `json:"spawning"`
}

// Pool manages sandbox instance lifecycles: created, idle, checked out, then
// either recycled into the idle set or discarded and replaced.
type Pool struct {
	launcher sandbox.Launcher
	size     int
	logger   *zap.Logger
	nextID   atomic.Uint64

	mu       sync.Mutex
	idle     []*Instance
	busy     map[uint64]*Instance
	spawning int
	closed   bool

	wg sync.WaitGroup
}

// New creates a Pool. Call Warm to pre-spawn idle instances.
func New(launcher sandbox.Launcher, opts Options) *Pool {
	size := opts.Size
	if size < 1 {
		size = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		launcher: launcher,
		size:     size,
		logger:   logger.With(zap.String("component", "pool")),
		busy:     make(map[uint64]*Instance),
	}
}

// Warm starts spawning instances until the idle set is full. It does not wait
// for them to become ready.
func (p *Pool) Warm() {
	p.fill()
}

// Acquire checks out an instance whose messages go to h. An idle instance is
// returned when one exists; otherwise a new one is launched and messages
// posted to it are held until it is ready.
func (p *Pool) Acquire(ctx context.Context, h Handler) (*Instance, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	for len(p.idle) > 0 {
		inst := p.idle[0]
		p.idle = p.idle[1:]
		if inst.isDead() {
			continue
		}
		inst.setHandler(h)
		p.busy[inst.id] = inst
		p.mu.Unlock()

		p.logger.Debug("acquired idle instance", zap.Uint64("instance", inst.id))
		p.fill()
		return inst, nil
	}
	p.mu.Unlock()

	inst, err := p.launch(ctx, h)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		inst.discard()
		return nil, ErrClosed
	}
	p.busy[inst.id] = inst
	p.mu.Unlock()

	p.logger.Debug("acquired new instance", zap.Uint64("instance", inst.id))
	p.fill()
	return inst, nil
}

// Release returns a checked-out instance. With recycle set, an instance whose
// last run ended normally goes back to the idle set; anything else is killed
// and a replacement is spawned.
func (p *Pool) Release(inst *Instance, recycle bool) {
	p.mu.Lock()
	delete(p.busy, inst.id)
	if recycle && !p.closed && len(p.idle) < p.size && inst.reusable() {
		inst.setHandler(nil)
		p.idle = append(p.idle, inst)
		p.mu.Unlock()
		p.logger.Debug("recycled instance", zap.Uint64("instance", inst.id))
		return
	}
	p.mu.Unlock()

	inst.discard()
	p.logger.Debug("discarded instance", zap.Uint64("instance", inst.id))
	p.fill()
}

// Terminate kills a checked-out instance immediately. It is never recycled.
func (p *Pool) Terminate(inst *Instance) {
	inst.discard()
	p.Release(inst, false)
}

// Stats reports the current pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Idle: len(p.idle), Busy: len(p.busy), Spawning: p.spawning}
}

// Close kills every instance. Acquire fails afterwards.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	all := append([]*Instance(nil), p.idle...)
	for _, inst := range p.busy {
		all = append(all, inst)
	}
	p.idle = nil
	p.busy = make(map[uint64]*Instance)
	p.mu.Unlock()

	for _, inst := range all {
		inst.discard()
	}
	p.wg.Wait()
}

func (p *Pool) launch(ctx context.Context, h Handler) (*Instance, error) {
	proc, err := p.launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("launching sandbox: %w", err)
	}
	id := p.nextID.Add(1)
	return newInstance(id, proc, h, p.logger, p.instanceDied), nil
}

// fill spawns instances in the background until idle plus spawning reaches
// the pool size.
func (p *Pool) fill() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	need := p.size - len(p.idle) - p.spawning
	if need <= 0 {
		p.mu.Unlock()
		return
	}
	p.spawning += need
	p.wg.Add(need)
	p.mu.Unlock()

	for n := 0; n < need; n++ {
		go p.spawn()
	}
}

func (p *Pool) spawn() {
	defer p.wg.Done()

	inst, err := p.launch(context.Background(), nil)

	p.mu.Lock()
	p.spawning--
	if err != nil {
		p.mu.Unlock()
		p.logger.Error("spawning idle instance", zap.Error(err))
		return
	}
	if p.closed {
		p.mu.Unlock()
		inst.discard()
		return
	}
	p.idle = append(p.idle, inst)
	p.mu.Unlock()
}

// instanceDied drops a dead idle instance and replaces it. Checked-out
// instances are handled by their owner's Release.
func (p *Pool) instanceDied(inst *Instance) {
	p.mu.Lock()
	found := false
	for k, idle := range p.idle {
		if idle == inst {
			p.idle = append(p.idle[:k], p.idle[k+1:]...)
			found = true
			break
		}
	}
	p.mu.Unlock()

	if !found {
		return
	}
	inst.discard()
	if !inst.wasReady() {
		// Respawning an instance that cannot start would spin.
		p.logger.Error("sandbox exited before becoming ready", zap.Uint64("instance", inst.id))
		return
	}
	p.fill()
}
