// Package channel pairs a typed wire codec with a transport socket to form
// the endpoints of a parent/child duplex link. A duplex channel is two
// one-directional Ports: the parent binds both, the child dials both, and
// messages flow FIFO within each direction.
package channel

import (
	"fmt"
	"time"

	"github.com/tetherproc/tether/internal/transport"
	"github.com/tetherproc/tether/internal/wire"
)

// Port is one endpoint of a channel: a socket with a declared wire type.
// Every payload sent or received through the Port is validated against
// that type by the codec before it touches the transport.
type Port struct {
	sock  *transport.Socket
	wtype wire.Type
}

// NewPort wraps sock with the declared wire type. An unrecognized wire
// type is rejected here, at construction, rather than at first send.
func NewPort(sock *transport.Socket, t wire.Type) (*Port, error) {
	if !t.Valid() {
		return nil, &wire.InvalidTypeError{Type: t}
	}
	return &Port{sock: sock, wtype: t}, nil
}

// WireType returns the Port's declared wire type.
func (p *Port) WireType() wire.Type {
	return p.wtype
}

// Put encodes value against the declared wire type and sends it. The send
// fails before any bytes reach the transport if the value does not satisfy
// the type. For push endpoints the call is fire-and-forget; for request
// endpoints it blocks until the peer can buffer the message, not until an
// application reply arrives.
func (p *Port) Put(value any) error {
	frames, err := wire.Encode(value, p.wtype)
	if err != nil {
		return err
	}
	if err := p.sock.Send(frames); err != nil {
		return fmt.Errorf("channel put: %w", err)
	}
	return nil
}

// Get blocks until a message arrives or timeout elapses, then decodes the
// payload using the declared wire type. A timeout of zero or less blocks
// indefinitely. Expiry fails with an error wrapping transport.ErrTimeout
// and leaves the Port usable for subsequent calls.
func (p *Port) Get(timeout time.Duration) (any, error) {
	frames, err := p.sock.Recv(timeout)
	if err != nil {
		if transport.IsTimeout(err) {
			return nil, fmt.Errorf("channel get: %w", transport.ErrTimeout)
		}
		return nil, fmt.Errorf("channel get: %w", err)
	}
	return wire.Decode(frames, p.wtype)
}

// Close releases the Port's socket.
func (p *Port) Close() error {
	return p.sock.Close()
}

// ListenPort creates a socket of the given pattern bound to addr and wraps
// it as a Port. A port of 0 in addr binds a free port; the bound address
// is available from Addr.
func ListenPort(ctx *transport.Context, pat transport.Pattern, addr string, t wire.Type) (*Port, error) {
	sock, err := ctx.NewSocket(pat)
	if err != nil {
		return nil, err
	}
	if err := sock.Listen(addr); err != nil {
		_ = sock.Close()
		return nil, err
	}
	p, err := NewPort(sock, t)
	if err != nil {
		_ = sock.Close()
		return nil, err
	}
	return p, nil
}

// DialPort creates a socket of the given pattern connected to addr and
// wraps it as a Port.
func DialPort(ctx *transport.Context, pat transport.Pattern, addr string, t wire.Type) (*Port, error) {
	sock, err := ctx.NewSocket(pat)
	if err != nil {
		return nil, err
	}
	if err := sock.Dial(addr); err != nil {
		_ = sock.Close()
		return nil, err
	}
	p, err := NewPort(sock, t)
	if err != nil {
		_ = sock.Close()
		return nil, err
	}
	return p, nil
}

// Addr returns the bound address of a listening Port.
func (p *Port) Addr() string {
	return p.sock.Addr()
}
