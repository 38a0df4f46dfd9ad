package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	mangos "go.nanomsg.org/mangos/v3"

	"github.com/tetherproc/tether/internal/wire"
)

// Socket wraps one underlying pattern socket. Each Socket should be used
// by a single logical owner (one reader, one writer) - the transport does
// not serialize concurrent multi-frame sends from multiple goroutines.
type Socket struct {
	sock    mangos.Socket
	pattern Pattern
	secure  bool
	tlsCfg  *tls.Config

	mu   sync.Mutex
	addr string // last listen address, scheme included
}

// Listen binds the socket to addr. addr may be a bare "host:port" (the
// scheme is chosen by the Context's security setting) or a full URL such
// as "inproc://name". A port of 0 selects a free port; the resolved
// address is then available from Addr.
func (s *Socket) Listen(addr string) error {
	full, err := s.resolveListenAddr(addr)
	if err != nil {
		return err
	}
	if err := s.sock.ListenOptions(full, s.transportOptions(full)); err != nil {
		return fmt.Errorf("listen %s: %w", full, err)
	}
	s.mu.Lock()
	s.addr = full
	s.mu.Unlock()
	return nil
}

// Dial connects the socket to addr. Address forms are as for Listen.
// Dialing is asynchronous at the transport level: messages queue until
// the connection is established.
func (s *Socket) Dial(addr string) error {
	full := s.normalizeAddr(addr)
	if err := s.sock.DialOptions(full, s.transportOptions(full)); err != nil {
		return fmt.Errorf("dial %s: %w", full, err)
	}
	return nil
}

// transportOptions returns the per-dialer/listener options implied by the
// Context's security setting: the TLS configuration is a transport-level
// option and must be supplied when the endpoint is created.
func (s *Socket) transportOptions(full string) map[string]interface{} {
	if s.tlsCfg == nil || !strings.HasPrefix(full, "tls+tcp://") {
		return nil
	}
	return map[string]interface{}{mangos.OptionTLSConfig: s.tlsCfg}
}

// Addr returns the full listen address, including scheme, or "" if the
// socket has not been bound.
func (s *Socket) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Pattern returns the socket's communication pattern.
func (s *Socket) Pattern() Pattern {
	return s.pattern
}

// Send packs the ordered frame list into one message and sends it.
// For push and publish patterns the call is fire-and-forget; for request
// it blocks until the peer can consume, bounded by SetSendTimeout.
func (s *Socket) Send(frames [][]byte) error {
	return s.SendBytes(wire.PackFrames(frames))
}

// Recv receives one message and unpacks it into frames. A timeout of zero
// or less blocks indefinitely; on expiry the error wraps ErrTimeout and
// the socket remains usable for subsequent calls.
func (s *Socket) Recv(timeout time.Duration) ([][]byte, error) {
	buf, err := s.RecvBytes(timeout)
	if err != nil {
		return nil, err
	}
	return wire.UnpackFrames(buf)
}

// SendBytes sends a single pre-framed buffer.
func (s *Socket) SendBytes(b []byte) error {
	if err := s.sock.Send(b); err != nil {
		if err == mangos.ErrSendTimeout {
			return fmt.Errorf("send on %s socket: %w", s.pattern, ErrTimeout)
		}
		return fmt.Errorf("send on %s socket: %w", s.pattern, err)
	}
	return nil
}

// RecvBytes receives a single buffer, bounded by timeout (zero or less
// blocks indefinitely).
func (s *Socket) RecvBytes(timeout time.Duration) ([]byte, error) {
	if err := s.sock.SetOption(mangos.OptionRecvDeadline, timeout); err != nil {
		return nil, fmt.Errorf("set receive deadline: %w", err)
	}
	b, err := s.sock.Recv()
	if err != nil {
		if err == mangos.ErrRecvTimeout {
			return nil, fmt.Errorf("recv on %s socket: %w", s.pattern, ErrTimeout)
		}
		return nil, fmt.Errorf("recv on %s socket: %w", s.pattern, err)
	}
	return b, nil
}

// SetSendTimeout bounds how long a send may block before failing with
// ErrTimeout. Zero or less restores indefinite blocking.
func (s *Socket) SetSendTimeout(d time.Duration) error {
	if err := s.sock.SetOption(mangos.OptionSendDeadline, d); err != nil {
		return fmt.Errorf("set send deadline: %w", err)
	}
	return nil
}

// Subscribe adds a topic prefix filter. Valid only for Subscribe sockets.
// An empty prefix receives everything.
func (s *Socket) Subscribe(prefix []byte) error {
	if s.pattern != Subscribe {
		return fmt.Errorf("subscribe on %s socket: %w", s.pattern, ErrUnknownPattern)
	}
	if prefix == nil {
		prefix = []byte{}
	}
	if err := s.sock.SetOption(mangos.OptionSubscribe, prefix); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// Close releases the socket. Idempotent at the transport level.
func (s *Socket) Close() error {
	return s.sock.Close()
}

// resolveListenAddr normalizes addr and replaces a zero port with a free
// one so components can bind to random ports without racing each other.
func (s *Socket) resolveListenAddr(addr string) (string, error) {
	full := s.normalizeAddr(addr)
	scheme, hostport, ok := splitScheme(full)
	if !ok || scheme == "inproc" {
		return full, nil
	}
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", fmt.Errorf("listen address %q: %w", addr, err)
	}
	if port != "0" {
		return full, nil
	}
	p, err := freePort(host)
	if err != nil {
		return "", fmt.Errorf("allocate port on %s: %w", host, err)
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, fmt.Sprintf("%d", p))), nil
}

// normalizeAddr attaches the scheme implied by the Context's security
// setting to bare host:port addresses, and upgrades plain tcp URLs when
// the socket is secure.
func (s *Socket) normalizeAddr(addr string) string {
	scheme := "tcp"
	if s.secure {
		scheme = "tls+tcp"
	}
	existing, rest, ok := splitScheme(addr)
	if !ok {
		return fmt.Sprintf("%s://%s", scheme, addr)
	}
	if s.secure && existing == "tcp" {
		return fmt.Sprintf("tls+tcp://%s", rest)
	}
	return addr
}

func splitScheme(addr string) (scheme, rest string, ok bool) {
	i := strings.Index(addr, "://")
	if i < 0 {
		return "", addr, false
	}
	return addr[:i], addr[i+3:], true
}

// freePort asks the kernel for an unused TCP port on host. The port is
// released before being handed back, so a small race window exists; on
// loopback with immediate rebinding this is acceptable.
func freePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
