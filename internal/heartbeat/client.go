package heartbeat

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tetherproc/tether/internal/relay"
	"github.com/tetherproc/tether/internal/transport"
)

// Defaults for the ping loop, matching the bounded-time failure detection
// the supervisor promises: a dead parent is noticed within roughly one
// interval plus one reply timeout.
const (
	DefaultInterval     = time.Second
	DefaultReplyTimeout = time.Second
)

// Outcome classifies one ping exchange.
type Outcome int

const (
	// OutcomeOK means the reply matched the ping exactly.
	OutcomeOK Outcome = iota + 1
	// OutcomeTimeout means no reply arrived before the deadline.
	OutcomeTimeout
	// OutcomeMismatch means a reply arrived but did not equal the ping.
	OutcomeMismatch
)

// String returns the outcome name used in logs.
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeMismatch:
		return "mismatch"
	default:
		return fmt.Sprintf("heartbeat.Outcome(%d)", int(o))
	}
}

// Client runs inside each worker as a background task, independent of the
// worker's main logic. On an interval it pings the configured server and
// awaits the echoed reply; on timeout or mismatch it terminates the worker
// process - immediately if the kill lock is free, otherwise as soon as the
// lock is released (with one bounded re-check, so a recovered parent
// cancels the kill).
//
// Heartbeat failure is never reported to the worker as an error. It
// manifests only as process death, observable by the parent via poll.
type Client struct {
	tctx      *transport.Context
	addr      string
	lock      *KillLock
	interval  time.Duration
	timeout   time.Duration
	terminate func()
	starter   relay.Starter

	sock     *transport.Socket
	stop     chan struct{}
	stopOnce sync.Once
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithInterval sets the time between pings.
func WithInterval(d time.Duration) ClientOption {
	return func(c *Client) { c.interval = d }
}

// WithReplyTimeout sets how long the client waits for an echo.
func WithReplyTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithTerminate replaces the process-exit action. Tests inject a recorder
// here; production code keeps the default, which ends the process with no
// graceful shutdown hook.
func WithTerminate(fn func()) ClientOption {
	return func(c *Client) { c.terminate = fn }
}

// WithStarter replaces how the ping loop is launched.
func WithStarter(s relay.Starter) ClientOption {
	return func(c *Client) { c.starter = s }
}

// NewClient creates a heartbeat client pinging the server at addr,
// consulting lock before any termination.
func NewClient(tctx *transport.Context, addr string, lock *KillLock, opts ...ClientOption) *Client {
	c := &Client{
		tctx:      tctx,
		addr:      addr,
		lock:      lock,
		interval:  DefaultInterval,
		timeout:   DefaultReplyTimeout,
		terminate: defaultTerminate,
		starter:   relay.GoStarter{},
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start connects to the server and launches the ping loop.
func (c *Client) Start() error {
	sock, err := c.tctx.NewSocket(transport.Request)
	if err != nil {
		return err
	}
	if err := sock.Dial(c.addr); err != nil {
		_ = sock.Close()
		return err
	}
	// Bound the send as well as the receive: with no reachable server a
	// request-pattern send would otherwise block past the reply timeout.
	if err := sock.SetSendTimeout(c.timeout); err != nil {
		_ = sock.Close()
		return err
	}
	c.sock = sock
	c.starter.Start(c.loop)
	return nil
}

// Stop ends the ping loop without terminating the process. Used when the
// worker is shutting down normally.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		if c.sock != nil {
			_ = c.sock.Close()
		}
	})
}

func (c *Client) loop() {
	for {
		outcome := c.beat()
		if outcome != OutcomeOK {
			if c.stopped() || c.fail(outcome) {
				return
			}
		}
		select {
		case <-c.stop:
			return
		case <-time.After(c.interval):
		}
	}
}

// beat performs one ping exchange and classifies the result. The payload
// is fresh random bytes each time, so a stale or fabricated reply cannot
// pass the exact-echo check.
func (c *Client) beat() Outcome {
	ping := []byte(uuid.NewString())
	if err := c.sock.SendBytes(ping); err != nil {
		return OutcomeTimeout
	}
	reply, err := c.sock.RecvBytes(c.timeout)
	if err != nil {
		return OutcomeTimeout
	}
	if !bytes.Equal(reply, ping) {
		return OutcomeMismatch
	}
	return OutcomeOK
}

// fail handles a timeout or mismatch, returning true when the loop should
// end. If the kill lock is free the worker terminates immediately. If it
// is held, the decision is deferred until release - not until the next
// interval - and a single bounded re-check runs first, so a parent that
// recovered while the lock was held cancels the kill.
func (c *Client) fail(outcome Outcome) bool {
	if c.lock.TryLock() {
		c.lock.Unlock()
		slog.Error("heartbeat failed, terminating", "outcome", outcome.String())
		c.terminate()
		return true
	}

	// Critical section in progress: wait it out, then re-evaluate.
	c.lock.Lock()
	c.lock.Unlock()
	if c.stopped() {
		return true
	}
	if again := c.beat(); again != OutcomeOK {
		slog.Error("heartbeat failed after kill lock release, terminating",
			"outcome", again.String(),
			"deferred_outcome", outcome.String(),
		)
		c.terminate()
		return true
	}
	slog.Info("heartbeat recovered during kill lock hold", "deferred_outcome", outcome.String())
	return false
}

// defaultTerminate ends the process unconditionally, with no graceful
// shutdown hook. Any cleanup must have happened inside the kill-lock
// critical section before release.
func defaultTerminate() {
	os.Exit(1)
}

func (c *Client) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}
