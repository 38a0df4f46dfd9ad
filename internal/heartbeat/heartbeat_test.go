package heartbeat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherproc/tether/internal/transport"
)

// terminator records whether and when the client decided to kill the
// worker, standing in for the unconditional process exit.
type terminator struct {
	mu     sync.Mutex
	called bool
	at     time.Time
}

func (tr *terminator) fn() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if !tr.called {
		tr.called = true
		tr.at = time.Now()
	}
}

func (tr *terminator) terminated() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.called
}

func TestServer_EchoesVerbatim(t *testing.T) {
	ctx := transport.New()
	defer ctx.Close()

	srv, err := NewServer(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Close()

	sock, err := ctx.NewSocket(transport.Request)
	require.NoError(t, err)
	require.NoError(t, sock.Dial(srv.Addr()))

	ping := []byte("heartbeat_data")
	require.NoError(t, sock.SendBytes(ping))
	reply, err := sock.RecvBytes(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, ping, reply)
}

func TestClient_StaysAliveWithEchoes(t *testing.T) {
	ctx := transport.New()
	defer ctx.Close()

	srv, err := NewServer(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Close()

	tr := &terminator{}
	client := NewClient(ctx, srv.Addr(), &KillLock{},
		WithInterval(100*time.Millisecond),
		WithReplyTimeout(500*time.Millisecond),
		WithTerminate(tr.fn),
	)
	require.NoError(t, client.Start())
	defer client.Stop()

	// Several intervals of correct echoes: the worker keeps running.
	time.Sleep(600 * time.Millisecond)
	assert.False(t, tr.terminated())
}

func TestClient_TerminatesWithoutReply(t *testing.T) {
	ctx := transport.New()
	defer ctx.Close()

	// Nobody listening at the server address.
	tr := &terminator{}
	client := NewClient(ctx, "tcp://127.0.0.1:1", &KillLock{},
		WithInterval(100*time.Millisecond),
		WithReplyTimeout(300*time.Millisecond),
		WithTerminate(tr.fn),
	)
	require.NoError(t, client.Start())
	defer client.Stop()

	require.Eventually(t, tr.terminated, 2*time.Second, 20*time.Millisecond,
		"client should terminate after the reply timeout")
}

func TestClient_TerminatesOnMismatchedReply(t *testing.T) {
	ctx := transport.New()
	defer ctx.Close()

	// A tampering server: echoes back the ping with extra bytes.
	repSock, err := ctx.NewSocket(transport.Reply)
	require.NoError(t, err)
	require.NoError(t, repSock.Listen("127.0.0.1:0"))
	go func() {
		for {
			b, err := repSock.RecvBytes(2 * time.Second)
			if err != nil {
				return
			}
			if err := repSock.SendBytes(append(b, []byte("wrong")...)); err != nil {
				return
			}
		}
	}()

	tr := &terminator{}
	client := NewClient(ctx, repSock.Addr(), &KillLock{},
		WithInterval(100*time.Millisecond),
		WithReplyTimeout(500*time.Millisecond),
		WithTerminate(tr.fn),
	)
	require.NoError(t, client.Start())
	defer client.Stop()

	require.Eventually(t, tr.terminated, 2*time.Second, 20*time.Millisecond,
		"a wrong echo is treated identically to an absent server")
}

func TestClient_KillLockDefersTermination(t *testing.T) {
	ctx := transport.New()
	defer ctx.Close()

	lock := &KillLock{}
	tr := &terminator{}
	client := NewClient(ctx, "tcp://127.0.0.1:1", lock,
		WithInterval(100*time.Millisecond),
		WithReplyTimeout(200*time.Millisecond),
		WithTerminate(tr.fn),
	)

	// Enter a critical section before the first ping can fail, and hold
	// it well past the failure.
	lock.Lock()
	start := time.Now()
	require.NoError(t, client.Start())
	defer client.Stop()

	// Failure lands around 200ms; the lock defers the kill.
	time.Sleep(600 * time.Millisecond)
	assert.False(t, tr.terminated(), "termination must be deferred while the lock is held")

	lock.Unlock()
	released := time.Now()

	require.Eventually(t, tr.terminated, 2*time.Second, 10*time.Millisecond,
		"the deferred kill should fire promptly on release")

	tr.mu.Lock()
	killDelay := tr.at.Sub(released)
	tr.mu.Unlock()
	assert.Less(t, killDelay, time.Second,
		"re-check must fire within a small margin of release, not at the next interval")
	assert.Greater(t, tr.at.Sub(start), 600*time.Millisecond)
}

func TestClient_RecoveryDuringLockHoldCancelsKill(t *testing.T) {
	ctx := transport.New()
	defer ctx.Close()

	// Server socket exists but stays silent at first.
	repSock, err := ctx.NewSocket(transport.Reply)
	require.NoError(t, err)
	require.NoError(t, repSock.Listen("127.0.0.1:0"))

	lock := &KillLock{}
	tr := &terminator{}
	client := NewClient(ctx, repSock.Addr(), lock,
		WithInterval(100*time.Millisecond),
		WithReplyTimeout(200*time.Millisecond),
		WithTerminate(tr.fn),
	)

	lock.Lock()
	require.NoError(t, client.Start())
	defer client.Stop()

	// Let the first ping fail while the lock is held.
	time.Sleep(500 * time.Millisecond)

	// Parent recovers: start echoing before the lock is released.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			b, err := repSock.RecvBytes(250 * time.Millisecond)
			if err != nil {
				continue
			}
			_ = repSock.SendBytes(b)
		}
	}()
	time.Sleep(100 * time.Millisecond)
	lock.Unlock()

	// The post-release re-check succeeds, so the worker lives on.
	time.Sleep(600 * time.Millisecond)
	assert.False(t, tr.terminated())
}

func TestKillLock_TryLock(t *testing.T) {
	lock := &KillLock{}
	assert.True(t, lock.TryLock())
	assert.False(t, lock.TryLock())
	lock.Unlock()
	assert.True(t, lock.TryLock())
	lock.Unlock()
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "ok", OutcomeOK.String())
	assert.Equal(t, "timeout", OutcomeTimeout.String())
	assert.Equal(t, "mismatch", OutcomeMismatch.String())
}
