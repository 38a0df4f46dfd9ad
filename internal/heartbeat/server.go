// Package heartbeat implements the liveness protocol between a supervising
// process and its workers. The server side is a dumb echo; every liveness
// decision lives in the client, which pings on an interval and terminates
// its own process when the parent stops answering correctly - unless a
// kill lock defers the decision.
//
// Echoing the ping verbatim, rather than replying with a semantic "alive",
// doubles as a tamper check: a server that echoes wrong bytes is treated
// identically to an absent one.
package heartbeat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tetherproc/tether/internal/transport"
)

// serverPollInterval bounds how long the echo loop blocks in one receive,
// so Close is honored promptly.
const serverPollInterval = 250 * time.Millisecond

// Server answers heartbeat pings by echoing them back verbatim. One per
// supervising process is expected; tests may substitute any reply-pattern
// endpoint at a known address.
type Server struct {
	sock *transport.Socket

	mu     sync.Mutex
	done   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer binds a reply socket at addr (a port of 0 picks a free one)
// and starts the echo loop.
func NewServer(ctx *transport.Context, addr string) (*Server, error) {
	sock, err := ctx.NewSocket(transport.Reply)
	if err != nil {
		return nil, err
	}
	if err := sock.Listen(addr); err != nil {
		_ = sock.Close()
		return nil, err
	}

	s := &Server{sock: sock, done: make(chan struct{})}
	s.wg.Add(1)
	go s.loop()
	slog.Debug("heartbeat server listening", "addr", sock.Addr())
	return s, nil
}

// Addr returns the server's bound address, for handing to workers.
func (s *Server) Addr() string {
	return s.sock.Addr()
}

// loop echoes every ping verbatim. No liveness logic here: receive,
// reply with the identical bytes, repeat.
func (s *Server) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		default:
		}

		ping, err := s.sock.RecvBytes(serverPollInterval)
		if err != nil {
			if transport.IsTimeout(err) {
				continue
			}
			select {
			case <-s.done:
			default:
				slog.Error("heartbeat server receive failed", "error", err)
			}
			return
		}
		if err := s.sock.SendBytes(ping); err != nil {
			slog.Error("heartbeat server echo failed", "error", err)
		}
	}
}

// Close stops the echo loop and releases the socket. Idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	err := s.sock.Close()
	s.wg.Wait()
	return err
}
