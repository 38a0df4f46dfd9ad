// Package transport provides the process-wide socket factory. A Context
// creates sockets for the six supported communication patterns and, when
// configured with a key pair, transparently wraps every socket in TLS -
// callers are unaware of the distinction. The underlying scalability
// protocols implementation supplies the patterns themselves.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"sync"

	mangos "go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"
	"go.nanomsg.org/mangos/v3/protocol/pull"
	"go.nanomsg.org/mangos/v3/protocol/push"
	"go.nanomsg.org/mangos/v3/protocol/rep"
	"go.nanomsg.org/mangos/v3/protocol/req"
	"go.nanomsg.org/mangos/v3/protocol/sub"

	// Register tcp, tls+tcp and inproc transports.
	_ "go.nanomsg.org/mangos/v3/transport/all"
)

// Pattern selects the communication pattern of a socket.
type Pattern int

const (
	// Request sends and awaits a matched reply.
	Request Pattern = iota + 1
	// Reply receives requests and answers them.
	Reply
	// Push distributes messages to a pull peer, no acknowledgement.
	Push
	// Pull receives messages from push peers.
	Pull
	// Publish broadcasts to all current subscribers.
	Publish
	// Subscribe receives published messages matching a topic prefix.
	Subscribe
)

// String returns the pattern name.
func (p Pattern) String() string {
	switch p {
	case Request:
		return "request"
	case Reply:
		return "reply"
	case Push:
		return "push"
	case Pull:
		return "pull"
	case Publish:
		return "publish"
	case Subscribe:
		return "subscribe"
	default:
		return fmt.Sprintf("transport.Pattern(%d)", int(p))
	}
}

// Context is a socket factory, one instance per process, passed explicitly
// to every component that creates sockets. A Context constructed with a
// key pair produces encrypted sockets; a plain Context produces tcp ones.
//
// Socket creation never blocks; binding and connecting are explicit steps
// performed by the owner of each socket.
type Context struct {
	tlsCfg *tls.Config

	// certFile/keyFile are retained so spawned children can be pointed at
	// the same key pair. Empty for in-memory or insecure contexts.
	certFile string
	keyFile  string

	mu      sync.Mutex
	sockets []*Socket
	closed  bool
}

// New creates an unencrypted Context.
func New() *Context {
	return &Context{}
}

// NewSecure creates a Context from PEM-encoded certificate and key bytes.
// Every socket the Context creates is wrapped with TLS: the pair serves as
// both the server credential and the client's trust root, so both ends of
// a connection must share it.
func NewSecure(certPEM, keyPEM []byte) (*Context, error) {
	cfg, err := buildTLSConfig(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &Context{tlsCfg: cfg}, nil
}

// NewSecureFromFiles creates a secure Context from PEM files on disk.
// The paths are retained so child processes can load the same pair.
func NewSecureFromFiles(certFile, keyFile string) (*Context, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	c, err := NewSecure(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	c.certFile = certFile
	c.keyFile = keyFile
	return c, nil
}

func buildTLSConfig(certPEM, keyPEM []byte) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(certPEM) {
		return nil, fmt.Errorf("certificate PEM contains no certificates")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ServerName:   certCommonName,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Secure reports whether sockets from this Context are TLS-wrapped.
func (c *Context) Secure() bool {
	return c.tlsCfg != nil
}

// KeyFiles returns the certificate and key paths the Context was loaded
// from, or empty strings for insecure or in-memory contexts.
func (c *Context) KeyFiles() (certFile, keyFile string) {
	return c.certFile, c.keyFile
}

// NewSocket creates a socket for the given pattern. The socket is tracked
// by the Context and closed with it, but the caller owns its lifecycle and
// should close it when the owning component is released.
func (c *Context) NewSocket(p Pattern) (*Socket, error) {
	var (
		ms  mangos.Socket
		err error
	)
	switch p {
	case Request:
		ms, err = req.NewSocket()
	case Reply:
		ms, err = rep.NewSocket()
	case Push:
		ms, err = push.NewSocket()
	case Pull:
		ms, err = pull.NewSocket()
	case Publish:
		ms, err = pub.NewSocket()
	case Subscribe:
		ms, err = sub.NewSocket()
	default:
		return nil, fmt.Errorf("socket: %w: %d", ErrUnknownPattern, int(p))
	}
	if err != nil {
		return nil, fmt.Errorf("create %s socket: %w", p, err)
	}

	// Dialing is asynchronous: messages queue until the connection is
	// established, and lost connections are re-dialed in the background.
	if err := ms.SetOption(mangos.OptionDialAsynch, true); err != nil {
		_ = ms.Close()
		return nil, fmt.Errorf("configure %s socket: %w", p, err)
	}

	ms.SetPipeEventHook(func(ev mangos.PipeEvent, pipe mangos.Pipe) {
		slog.Info("DEBUG pipe event", "pattern", p.String(), "event", int(ev), "addr", pipe.Address())
	})

	s := &Socket{sock: ms, pattern: p, secure: c.tlsCfg != nil, tlsCfg: c.tlsCfg}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = ms.Close()
		return nil, fmt.Errorf("create %s socket: context closed", p)
	}
	c.sockets = append(c.sockets, s)
	return s, nil
}

// Close closes every socket the Context created. Idempotent.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, s := range c.sockets {
		_ = s.Close()
	}
	c.sockets = nil
	return nil
}
