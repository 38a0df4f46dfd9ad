// Package supervise spawns worker processes and wires each one to its
// parent: a typed duplex channel for application messages, an output
// redirector for captured text, and a heartbeat client that self-
// terminates the worker when the parent becomes unreachable.
//
// The Tree is an explicit context object constructed once per process and
// passed by handle to every component that needs it; tests substitute
// addresses and transport contexts by injection rather than by patching
// any process-wide default.
package supervise

import (
	"sync"

	"github.com/tetherproc/tether/internal/event"
	"github.com/tetherproc/tether/internal/heartbeat"
	"github.com/tetherproc/tether/internal/transport"
)

// Tree holds the per-process supervision state: the transport context,
// the lazily started heartbeat server, and the event broker addresses.
type Tree struct {
	tctx *transport.Context

	// hbAddr, when set, substitutes an external heartbeat server (a test
	// double, or the parent's server inside a spawned child) for the
	// lazily started local one.
	hbAddr string

	brokerIngress string
	brokerEgress  string

	mu sync.Mutex
	hb *heartbeat.Server
}

// TreeOption configures a Tree.
type TreeOption func(*Tree)

// WithHeartbeatAddr points workers at an existing heartbeat server
// instead of starting one in this process.
func WithHeartbeatAddr(addr string) TreeOption {
	return func(t *Tree) { t.hbAddr = addr }
}

// WithBrokerAddrs sets the event broker endpoints (posters dial ingress,
// waiters dial egress). Without them Event fails.
func WithBrokerAddrs(ingress, egress string) TreeOption {
	return func(t *Tree) {
		t.brokerIngress = ingress
		t.brokerEgress = egress
	}
}

// NewTree creates a supervision context over the given transport context.
// The Tree does not own the transport context; the caller closes it.
func NewTree(tctx *transport.Context, opts ...TreeOption) *Tree {
	t := &Tree{tctx: tctx}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transport returns the Tree's transport context.
func (t *Tree) Transport() *transport.Context {
	return t.tctx
}

// HeartbeatAddr returns the address workers should ping, starting the
// local echo server on first use unless an external address was supplied.
func (t *Tree) HeartbeatAddr() (string, error) {
	if t.hbAddr != "" {
		return t.hbAddr, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hb == nil {
		hb, err := heartbeat.NewServer(t.tctx, "127.0.0.1:0")
		if err != nil {
			return "", err
		}
		t.hb = hb
	}
	return t.hb.Addr(), nil
}

// Event opens a handle on the named cross-process event. The Tree must
// have broker addresses configured.
func (t *Tree) Event(name string, role event.Role) (*event.Event, error) {
	if t.brokerIngress == "" || t.brokerEgress == "" {
		return nil, ErrNoBroker
	}
	return event.New(t.tctx, t.brokerIngress, t.brokerEgress, name, role)
}

// Close stops the Tree's heartbeat server, if one was started. The
// transport context is left to its owner.
func (t *Tree) Close() error {
	t.mu.Lock()
	hb := t.hb
	t.hb = nil
	t.mu.Unlock()
	if hb != nil {
		return hb.Close()
	}
	return nil
}
