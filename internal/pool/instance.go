package pool

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/michaelbrown/kata/internal/protocol"
	"github.com/michaelbrown/kata/internal/sandbox"
)

// ErrDiscarded is returned when posting to an instance that has been
// released without recycling or terminated.
var ErrDiscarded = errors.New("instance discarded")

// CrashMessage is the error delivered when an instance's stream ends while
// it is checked out.
const CrashMessage = "sandbox exited unexpectedly"

// Envelope is a sandbox message tagged with the instance that produced it.
type Envelope struct {
	InstanceID uint64
	Message    protocol.SandboxMessage
}

// Handler receives the messages of a checked-out instance, in order.
type Handler func(Envelope)

// Instance is one live sandbox. Messages posted before it reports ready are
// held and sent in order once it does.
type Instance struct {
	id     uint64
	proc   *sandbox.Process
	sender *protocol.Sender
	logger *zap.Logger
	onDead func(*Instance)

	mu        sync.Mutex
	ready     bool
	pending   []protocol.HostMessage
	handler   Handler
	clean     bool
	dead      bool
	discarded bool
	readyCh   chan struct{}
}

func newInstance(id uint64, proc *sandbox.Process, h Handler, logger *zap.Logger, onDead func(*Instance)) *Instance {
	inst := &Instance{
		id:      id,
		proc:    proc,
		sender:  protocol.NewSender(proc.Stdin),
		logger:  logger.With(zap.Uint64("instance", id)),
		onDead:  onDead,
		handler: h,
		readyCh: make(chan struct{}),
	}
	go inst.readLoop()
	return inst
}

// ID returns the instance's unique, monotonically increasing identifier.
func (i *Instance) ID() uint64 {
	return i.id
}

// Ready is closed once the instance has announced itself.
func (i *Instance) Ready() <-chan struct{} {
	return i.readyCh
}

// Post sends a message to the instance, holding it until the instance is
// ready.
func (i *Instance) Post(m protocol.HostMessage) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.discarded {
		return ErrDiscarded
	}
	switch m.(type) {
	case protocol.Run, protocol.RunTests:
		i.clean = false
	}
	if !i.ready {
		i.pending = append(i.pending, m)
		return nil
	}
	return i.sender.Send(m)
}

func (i *Instance) setHandler(h Handler) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.handler = h
}

// reusable reports whether the instance finished its last run normally and
// can serve another.
func (i *Instance) reusable() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.ready && i.clean && !i.dead && !i.discarded
}

func (i *Instance) wasReady() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.ready
}

func (i *Instance) isDead() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dead
}

// discard detaches the handler and kills the process. Nothing the instance
// emits afterwards is dispatched.
func (i *Instance) discard() {
	i.mu.Lock()
	if i.discarded {
		i.mu.Unlock()
		return
	}
	i.discarded = true
	i.handler = nil
	i.pending = nil
	i.mu.Unlock()

	if err := i.proc.Kill(); err != nil {
		i.logger.Warn("killing sandbox", zap.Error(err))
	}
	go func() {
		i.proc.Wait()
		i.sender.Close()
	}()
}

func (i *Instance) readLoop() {
	rd := protocol.NewReader(i.proc.Stdout)
	for {
		msg, err := rd.ReadSandbox()
		if errors.Is(err, protocol.ErrUnknownType) {
			i.logger.Warn("dropping sandbox message", zap.Error(err))
			continue
		}
		if err != nil {
			i.exited(err)
			return
		}
		i.dispatch(msg)
	}
}

func (i *Instance) dispatch(msg protocol.SandboxMessage) {
	i.mu.Lock()
	if i.discarded {
		i.mu.Unlock()
		return
	}
	switch msg.(type) {
	case protocol.Ready:
		if !i.ready {
			i.ready = true
			for _, m := range i.pending {
				if err := i.sender.Send(m); err != nil {
					i.logger.Warn("flushing buffered message", zap.Error(err))
				}
			}
			i.pending = nil
			close(i.readyCh)
		}
	case protocol.PrintDone:
		i.clean = true
	}
	h := i.handler
	i.mu.Unlock()

	if h != nil {
		h(Envelope{InstanceID: i.id, Message: msg})
	}
}

func (i *Instance) exited(err error) {
	i.mu.Lock()
	i.dead = true
	discarded := i.discarded
	h := i.handler
	i.mu.Unlock()

	if discarded {
		return
	}
	i.logger.Warn("sandbox stream ended", zap.Error(err))
	if h != nil {
		h(Envelope{InstanceID: i.id, Message: protocol.Error{Message: CrashMessage}})
	}
	if i.onDead != nil {
		i.onDead(i)
	}
}
