package event

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tetherproc/tether/internal/transport"
)

// brokerPollInterval bounds one receive in the forwarding loop so Close
// is honored promptly.
const brokerPollInterval = 250 * time.Millisecond

// Broker is the rendezvous point connecting posters to waiters across
// processes. Posters dial its ingress (a subscribe socket listening for
// everything); waiters dial its egress (a publish socket); the broker
// forwards every message unchanged. Without a broker, posters and waiters
// in different processes would need to know about each other directly.
type Broker struct {
	ingress *transport.Socket
	egress  *transport.Socket

	mu     sync.Mutex
	done   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewBroker binds the two broker endpoints (ports of 0 pick free ones)
// and starts the forwarding loop.
func NewBroker(tctx *transport.Context, ingressAddr, egressAddr string) (*Broker, error) {
	ingress, err := tctx.NewSocket(transport.Subscribe)
	if err != nil {
		return nil, err
	}
	if err := ingress.Listen(ingressAddr); err != nil {
		_ = ingress.Close()
		return nil, err
	}
	if err := ingress.Subscribe(nil); err != nil {
		_ = ingress.Close()
		return nil, err
	}

	egress, err := tctx.NewSocket(transport.Publish)
	if err != nil {
		_ = ingress.Close()
		return nil, err
	}
	if err := egress.Listen(egressAddr); err != nil {
		_ = ingress.Close()
		_ = egress.Close()
		return nil, err
	}

	b := &Broker{ingress: ingress, egress: egress, done: make(chan struct{})}
	b.wg.Add(1)
	go b.forward()
	slog.Debug("event broker running",
		"ingress", ingress.Addr(),
		"egress", egress.Addr(),
	)
	return b, nil
}

// IngressAddr returns the address posters dial.
func (b *Broker) IngressAddr() string {
	return b.ingress.Addr()
}

// EgressAddr returns the address waiters dial.
func (b *Broker) EgressAddr() string {
	return b.egress.Addr()
}

// forward relays every message from posters to all current subscribers.
// No buffering beyond the sockets' own: a message with no subscribers is
// dropped, which is the at-most-once contract.
func (b *Broker) forward() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		default:
		}

		msg, err := b.ingress.RecvBytes(brokerPollInterval)
		if err != nil {
			if transport.IsTimeout(err) {
				continue
			}
			select {
			case <-b.done:
			default:
				slog.Error("event broker receive failed", "error", err)
			}
			return
		}
		slog.Info("DEBUG broker forwarding", "msg", string(msg))
		if err := b.egress.SendBytes(msg); err != nil {
			slog.Error("event broker forward failed", "error", err)
		}
	}
}

// Close stops the forwarding loop and releases both sockets. Idempotent.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	_ = b.ingress.Close()
	err := b.egress.Close()
	b.wg.Wait()
	return err
}
