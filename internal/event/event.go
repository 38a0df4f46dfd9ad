// Package event provides a named, cross-process post/wait rendezvous built
// on publish/subscribe through a forwarding broker. Events are ephemeral
// signals with at-most-once delivery: a post reaches only the waiters
// already subscribed at post time, and nothing is stored or replayed.
package event

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tetherproc/tether/internal/transport"
)

// Role declares which side of the rendezvous an Event instance plays.
type Role int

const (
	// Post publishes (name, value) pairs to all current subscribers.
	Post Role = iota + 1
	// Wait blocks on (name, expected value) until a matching post arrives.
	Wait
	// Both combines the two, for processes that signal and listen.
	Both
)

// ErrInvalidName rejects event names the topic encoding cannot carry.
var ErrInvalidName = errors.New("invalid event name")

// topicSep terminates the name in the published message, so prefix
// subscription on "a\x00" cannot alias "ab\x00". Names therefore must not
// contain NUL.
const topicSep = "\x00"

// Event is one process's handle on a named rendezvous. Any number of
// waiters on the same name, in any number of processes, each receive
// their own copy of a post.
type Event struct {
	name string
	pub  *transport.Socket
	sub  *transport.Socket
}

// New creates a handle on the named event. ingressAddr and egressAddr are
// the broker's two endpoints: posters dial ingress, waiters dial egress.
// Only the sockets the role requires are created.
func New(tctx *transport.Context, ingressAddr, egressAddr, name string, role Role) (*Event, error) {
	if name == "" || strings.Contains(name, topicSep) {
		return nil, fmt.Errorf("event name %q: %w", name, ErrInvalidName)
	}
	if role != Post && role != Wait && role != Both {
		return nil, fmt.Errorf("event %q: unknown role %d", name, int(role))
	}

	e := &Event{name: name}

	if role == Post || role == Both {
		pub, err := tctx.NewSocket(transport.Publish)
		if err != nil {
			return nil, err
		}
		if err := pub.Dial(ingressAddr); err != nil {
			_ = pub.Close()
			return nil, fmt.Errorf("event %q: %w", name, err)
		}
		slog.Info("DEBUG pub dialed", "addr", ingressAddr)
		e.pub = pub
	}

	if role == Wait || role == Both {
		sub, err := tctx.NewSocket(transport.Subscribe)
		if err != nil {
			e.Close()
			return nil, err
		}
		if err := sub.Dial(egressAddr); err != nil {
			_ = sub.Close()
			e.Close()
			return nil, fmt.Errorf("event %q: %w", name, err)
		}
		if err := sub.Subscribe([]byte(e.name + topicSep)); err != nil {
			_ = sub.Close()
			e.Close()
			return nil, err
		}
		e.sub = sub
	}

	return e, nil
}

// Name returns the event's name.
func (e *Event) Name() string {
	return e.name
}

// Post publishes value under the event's name. It does not block waiting
// for subscribers to exist; with none listening the post is simply lost.
func (e *Event) Post(value string) error {
	if e.pub == nil {
		return fmt.Errorf("event %q: not opened for posting", e.name)
	}
	msg := append([]byte(e.name+topicSep), []byte(value)...)
	if err := e.pub.SendBytes(msg); err != nil {
		return fmt.Errorf("post event %q: %w", e.name, err)
	}
	slog.Info("DEBUG posted", "event", e.name, "value", value)
	return nil
}

// Wait blocks until a post with exactly the expected value arrives or
// timeout elapses, in which case the error wraps transport.ErrTimeout.
// Posts with other values are consumed and ignored. A timeout of zero or
// less blocks indefinitely.
func (e *Event) Wait(expected string, timeout time.Duration) error {
	if e.sub == nil {
		return fmt.Errorf("event %q: not opened for waiting", e.name)
	}

	prefix := []byte(e.name + topicSep)
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		remaining := time.Duration(0)
		if !deadline.IsZero() {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return fmt.Errorf("wait for event %q == %q: %w", e.name, expected, transport.ErrTimeout)
			}
		}

		msg, err := e.sub.RecvBytes(remaining)
		if err != nil {
			if transport.IsTimeout(err) {
				return fmt.Errorf("wait for event %q == %q: %w", e.name, expected, transport.ErrTimeout)
			}
			return fmt.Errorf("wait for event %q: %w", e.name, err)
		}
		if !bytes.HasPrefix(msg, prefix) {
			// Foreign topic slipped through the filter; ignore.
			continue
		}
		if string(msg[len(prefix):]) == expected {
			return nil
		}
	}
}

// Close releases the event's sockets.
func (e *Event) Close() error {
	var err error
	if e.pub != nil {
		err = errors.Join(err, e.pub.Close())
		e.pub = nil
	}
	if e.sub != nil {
		err = errors.Join(err, e.sub.Close())
		e.sub = nil
	}
	return err
}
