package supervise

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetherproc/tether/internal/channel"
	"github.com/tetherproc/tether/internal/heartbeat"
)

// Peer is a worker's view of its supervision wiring: the two channel
// endpoints back to the parent and the kill lock guarding critical
// sections against heartbeat-triggered termination.
type Peer struct {
	// ID is the spawn identifier assigned by the parent.
	ID string

	// FromParent receives messages the parent put on its to-child endpoint.
	FromParent *channel.Port

	// ToParent sends messages to the parent's from-child endpoint.
	ToParent *channel.Port

	// KillLock defers heartbeat termination while held.
	KillLock *heartbeat.KillLock

	// Tree is the child's own supervision context, for opening events or
	// spawning grandchildren.
	Tree *Tree
}

// Worker is the unit of work a spawned process executes. Each concrete
// worker supplies its own Run body; it may read from the inbound channel,
// write to the outbound one, and hold the kill lock around work that must
// not be interrupted. When Run returns the process exits.
type Worker interface {
	Run(ctx context.Context, peer *Peer) error
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc func(ctx context.Context, peer *Peer) error

// Run implements Worker.
func (f WorkerFunc) Run(ctx context.Context, peer *Peer) error {
	return f(ctx, peer)
}

// Registry maps worker names to factories. The parent names a registered
// worker when spawning; the child looks the name up and runs a fresh
// instance. Both sides must register the same names, which in practice
// means registering once in shared code.
type Registry struct {
	mu        sync.Mutex
	factories map[string]func() Worker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func() Worker)}
}

// Register adds a named worker factory. Empty names and duplicates are
// rejected.
func (r *Registry) Register(name string, factory func() Worker) error {
	if name == "" {
		return fmt.Errorf("register worker: %w: empty name", ErrUnknownWorker)
	}
	if factory == nil {
		return fmt.Errorf("register worker %q: nil factory", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("register worker %q: already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// lookup instantiates the named worker.
func (r *Registry) lookup(name string) (Worker, error) {
	r.mu.Lock()
	factory, ok := r.factories[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorker, name)
	}
	return factory(), nil
}
