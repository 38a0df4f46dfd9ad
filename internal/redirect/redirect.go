// Package redirect captures a worker's standard output and error streams
// and forwards every write as a tagged two-frame message over a dedicated
// push endpoint. Redirection is best-effort: a slow or absent collector
// must never stall application logic, so sends are bounded and failures
// are dropped.
package redirect

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/tetherproc/tether/internal/transport"
)

// Stream tags, sent verbatim as the first frame of every message.
const (
	TagStdout = "stdout"
	TagStderr = "stderr"
)

// sendTimeout bounds how long a single forwarded write may block. Past
// this the chunk is dropped rather than stalling the worker.
const sendTimeout = time.Second

// Writer is an io.Writer that packages every write as [tag, bytes] and
// pushes it to the collector. Writes through one Writer stay ordered; the
// mutex keeps concurrent callers from interleaving frames.
type Writer struct {
	tag  []byte
	sock *transport.Socket
	mu   sync.Mutex
}

// NewWriter wraps a push socket with a stream tag.
func NewWriter(sock *transport.Socket, tag string) *Writer {
	return &Writer{tag: []byte(tag), sock: sock}
}

// Write forwards p as one tagged message. The returned count is always
// len(p): redirection failures are invisible to the writing code.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	chunk := make([]byte, len(p))
	copy(chunk, p)
	_ = w.sock.Send([][]byte{w.tag, chunk})
	return len(p), nil
}

// Redirector owns the capture of a process's os.Stdout and os.Stderr.
// Writes through the replaced streams flow into pipes, are chunked by the
// pipe reads, and forwarded as tagged messages.
type Redirector struct {
	sock    *transport.Socket
	origOut *os.File
	origErr *os.File
	outW    *os.File
	errW    *os.File
	wg      sync.WaitGroup
	once    sync.Once
}

// Start dials the collector at addr and swaps os.Stdout and os.Stderr for
// capture pipes. Call Stop to restore the original streams and flush.
func Start(ctx *transport.Context, addr string) (*Redirector, error) {
	sock, err := ctx.NewSocket(transport.Push)
	if err != nil {
		return nil, err
	}
	if err := sock.SetSendTimeout(sendTimeout); err != nil {
		_ = sock.Close()
		return nil, err
	}
	if err := sock.Dial(addr); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("dial collector: %w", err)
	}

	r := &Redirector{sock: sock, origOut: os.Stdout, origErr: os.Stderr}

	outR, outW, err := os.Pipe()
	if err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = outR.Close()
		_ = outW.Close()
		_ = sock.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	r.outW, r.errW = outW, errW

	os.Stdout = outW
	os.Stderr = errW

	r.wg.Add(2)
	go r.pump(outR, NewWriter(sock, TagStdout))
	go r.pump(errR, NewWriter(sock, TagStderr))
	return r, nil
}

// pump forwards each pipe read as one message until the pipe closes.
func (r *Redirector) pump(src *os.File, dst io.Writer) {
	defer r.wg.Done()
	defer src.Close()
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			_, _ = dst.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// Stop restores the original streams, drains the pipes and closes the
// push socket. Idempotent.
func (r *Redirector) Stop() {
	r.once.Do(func() {
		os.Stdout = r.origOut
		os.Stderr = r.origErr
		_ = r.outW.Close()
		_ = r.errW.Close()
		r.wg.Wait()
		_ = r.sock.Close()
	})
}

// Collector is the parent-side endpoint that gathers redirected output
// from any number of workers.
type Collector struct {
	sock *transport.Socket
}

// NewCollector binds a pull socket at addr (a port of 0 picks a free one).
func NewCollector(ctx *transport.Context, addr string) (*Collector, error) {
	sock, err := ctx.NewSocket(transport.Pull)
	if err != nil {
		return nil, err
	}
	if err := sock.Listen(addr); err != nil {
		_ = sock.Close()
		return nil, err
	}
	return &Collector{sock: sock}, nil
}

// Addr returns the collector's bound address, for handing to workers.
func (c *Collector) Addr() string {
	return c.sock.Addr()
}

// Next returns the next captured chunk as (tag, payload). A timeout of
// zero or less blocks indefinitely; expiry wraps transport.ErrTimeout.
func (c *Collector) Next(timeout time.Duration) (tag string, payload []byte, err error) {
	frames, err := c.sock.Recv(timeout)
	if err != nil {
		return "", nil, err
	}
	if len(frames) != 2 {
		return "", nil, fmt.Errorf("redirection message: want 2 frames, got %d", len(frames))
	}
	return string(frames[0]), frames[1], nil
}

// Close releases the collector's socket.
func (c *Collector) Close() error {
	return c.sock.Close()
}
