package supervise_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherproc/tether/internal/event"
	"github.com/tetherproc/tether/internal/redirect"
	"github.com/tetherproc/tether/internal/supervise"
	"github.com/tetherproc/tether/internal/transport"
	"github.com/tetherproc/tether/internal/wire"
)

// registry holds the workers both sides of the re-exec share. A spawned
// worker runs the test binary itself, so TestMain routes child invocations
// into supervise.Main before any test runs.
var registry = supervise.NewRegistry()

func mustRegister(name string, fn supervise.WorkerFunc) {
	if err := registry.Register(name, func() supervise.Worker { return fn }); err != nil {
		panic(err)
	}
}

func init() {
	// echo: send back everything the parent sends, forever.
	mustRegister("echo", func(ctx context.Context, peer *supervise.Peer) error {
		for {
			v, err := peer.FromParent.Get(5 * time.Second)
			if err != nil {
				return err
			}
			if err := peer.ToParent.Put(v); err != nil {
				return err
			}
		}
	})

	// writer: exercise stream redirection ordering.
	mustRegister("writer", func(ctx context.Context, peer *supervise.Peer) error {
		fmt.Fprint(os.Stdout, "X")
		time.Sleep(100 * time.Millisecond)
		fmt.Fprint(os.Stderr, "Y")
		time.Sleep(200 * time.Millisecond)
		return nil
	})

	// quit: exit immediately with success.
	mustRegister("quit", func(ctx context.Context, peer *supervise.Peer) error {
		return nil
	})

	// sleeper: outlive any test unless terminated.
	mustRegister("sleeper", func(ctx context.Context, peer *supervise.Peer) error {
		time.Sleep(10 * time.Second)
		return nil
	})

	// poster: post an event named by the parent's first message.
	mustRegister("poster", func(ctx context.Context, peer *supervise.Peer) error {
		v, err := peer.FromParent.Get(5 * time.Second)
		if err != nil {
			return err
		}
		name, ok := v.(string)
		if !ok {
			return fmt.Errorf("want event name, got %T", v)
		}
		ev, err := peer.Tree.Event(name, event.Post)
		if err != nil {
			return err
		}
		defer ev.Close()
		time.Sleep(300 * time.Millisecond)
		return ev.Post("done")
	})
}

func TestMain(m *testing.M) {
	supervise.Main(registry)
	os.Exit(m.Run())
}

func newTree(t *testing.T, opts ...supervise.TreeOption) *supervise.Tree {
	t.Helper()
	tctx := transport.New()
	t.Cleanup(func() { tctx.Close() })
	tree := supervise.NewTree(tctx, opts...)
	t.Cleanup(func() { tree.Close() })
	return tree
}

func TestProcess_EchoRoundTrip(t *testing.T) {
	tree := newTree(t)
	proc := tree.NewProcess("echo")

	toChild, fromChild, err := proc.Start()
	require.NoError(t, err)
	defer proc.Terminate()

	msg := []any{[]any{"spam", []any{"ham"}}, []any{"eggs", true}}
	require.NoError(t, toChild.Put(msg))

	got, err := fromChild.Get(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	// Nothing else is in flight.
	_, err = fromChild.Get(100 * time.Millisecond)
	assert.True(t, transport.IsTimeout(err))
}

func TestProcess_TextChannel(t *testing.T) {
	tree := newTree(t)
	proc := tree.NewProcess("echo", supervise.WithChannelType(wire.Text))

	toChild, fromChild, err := proc.Start()
	require.NoError(t, err)
	defer proc.Terminate()

	require.NoError(t, toChild.Put("hello"))
	got, err := fromChild.Get(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestProcess_OutputRedirection(t *testing.T) {
	tree := newTree(t)

	coll, err := redirect.NewCollector(tree.Transport(), "127.0.0.1:0")
	require.NoError(t, err)
	defer coll.Close()

	proc := tree.NewProcess("writer", supervise.WithRedirection(coll.Addr()))
	_, _, err = proc.Start()
	require.NoError(t, err)
	defer proc.Terminate()

	tag, payload, err := coll.Next(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, redirect.TagStdout, tag)
	assert.Equal(t, "X", string(payload))

	tag, payload, err = coll.Next(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, redirect.TagStderr, tag)
	assert.Equal(t, "Y", string(payload))
}

func TestProcess_PollTracksExit(t *testing.T) {
	tree := newTree(t)
	proc := tree.NewProcess("sleeper")

	_, exited := proc.Poll()
	assert.False(t, exited)

	_, _, err := proc.Start()
	require.NoError(t, err)

	_, exited = proc.Poll()
	assert.False(t, exited)

	require.NoError(t, proc.Terminate())
	code, exited := proc.Poll()
	assert.True(t, exited)
	assert.NotEqual(t, 0, code)
}

func TestProcess_CleanExitCode(t *testing.T) {
	tree := newTree(t)
	proc := tree.NewProcess("quit")

	_, _, err := proc.Start()
	require.NoError(t, err)

	code, err := proc.Wait(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestProcess_TerminateIdempotent(t *testing.T) {
	tree := newTree(t)
	proc := tree.NewProcess("sleeper")

	// Before Start it is a no-op.
	require.NoError(t, proc.Terminate())

	_, _, err := proc.Start()
	require.NoError(t, err)
	require.NoError(t, proc.Terminate())
	require.NoError(t, proc.Terminate())
}

func TestProcess_DoubleStartFails(t *testing.T) {
	tree := newTree(t)
	proc := tree.NewProcess("sleeper")

	_, _, err := proc.Start()
	require.NoError(t, err)
	defer proc.Terminate()

	_, _, err = proc.Start()
	assert.Error(t, err)
}

func TestProcess_DiesWhenHeartbeatStops(t *testing.T) {
	tree := newTree(t)
	proc := tree.NewProcess("sleeper",
		supervise.WithHeartbeatTiming(100*time.Millisecond, 100*time.Millisecond))

	_, _, err := proc.Start()
	require.NoError(t, err)
	defer proc.Terminate()

	// Closing the Tree stops its heartbeat server; the worker's client
	// must notice and self-terminate well before the sleeper finishes.
	require.NoError(t, tree.Close())

	assert.Eventually(t, func() bool {
		_, exited := proc.Poll()
		return exited
	}, 5*time.Second, 50*time.Millisecond)

	code, _ := proc.Poll()
	assert.NotEqual(t, 0, code)
}

func TestProcess_EventAcrossProcesses(t *testing.T) {
	tctx := transport.New()
	defer tctx.Close()

	broker, err := event.NewBroker(tctx, "127.0.0.1:0", "127.0.0.1:0")
	require.NoError(t, err)
	defer broker.Close()

	tree := supervise.NewTree(tctx,
		supervise.WithBrokerAddrs(broker.IngressAddr(), broker.EgressAddr()))
	defer tree.Close()

	ev, err := tree.Event("handshake", event.Wait)
	require.NoError(t, err)
	defer ev.Close()

	proc := tree.NewProcess("poster")
	toChild, _, err := proc.Start()
	require.NoError(t, err)
	defer proc.Terminate()

	require.NoError(t, toChild.Put("handshake"))
	assert.NoError(t, ev.Wait("done", 5*time.Second))
}

func TestTree_EventWithoutBroker(t *testing.T) {
	tree := newTree(t)
	_, err := tree.Event("nobody", event.Wait)
	assert.ErrorIs(t, err, supervise.ErrNoBroker)
}

func TestRegistry_Register(t *testing.T) {
	reg := supervise.NewRegistry()
	noop := func() supervise.Worker {
		return supervise.WorkerFunc(func(context.Context, *supervise.Peer) error { return nil })
	}

	require.NoError(t, reg.Register("a", noop))
	assert.Error(t, reg.Register("a", noop), "duplicate names are rejected")
	assert.Error(t, reg.Register("", noop))
	assert.Error(t, reg.Register("b", nil))
}
