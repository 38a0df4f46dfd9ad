package transport

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var inprocSeq atomic.Int64

func inprocAddr() string {
	return fmt.Sprintf("inproc://transport-test-%d", inprocSeq.Add(1))
}

func TestContext_PushPull_RoundTrip(t *testing.T) {
	ctx := New()
	defer ctx.Close()

	pullSock, err := ctx.NewSocket(Pull)
	require.NoError(t, err)
	pushSock, err := ctx.NewSocket(Push)
	require.NoError(t, err)

	addr := inprocAddr()
	require.NoError(t, pullSock.Listen(addr))
	require.NoError(t, pushSock.Dial(addr))

	frames := [][]byte{[]byte("stdout"), []byte("hello")}
	require.NoError(t, pushSock.Send(frames))

	got, err := pullSock.Recv(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, frames, got)
}

func TestContext_RequestReply_Echo(t *testing.T) {
	ctx := New()
	defer ctx.Close()

	repSock, err := ctx.NewSocket(Reply)
	require.NoError(t, err)
	reqSock, err := ctx.NewSocket(Request)
	require.NoError(t, err)

	addr := inprocAddr()
	require.NoError(t, repSock.Listen(addr))
	require.NoError(t, reqSock.Dial(addr))

	go func() {
		b, err := repSock.RecvBytes(2 * time.Second)
		if err == nil {
			_ = repSock.SendBytes(b)
		}
	}()

	require.NoError(t, reqSock.SendBytes([]byte("ping")))
	got, err := reqSock.RecvBytes(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), got)
}

func TestSocket_Recv_Timeout(t *testing.T) {
	ctx := New()
	defer ctx.Close()

	pullSock, err := ctx.NewSocket(Pull)
	require.NoError(t, err)
	require.NoError(t, pullSock.Listen(inprocAddr()))

	start := time.Now()
	_, err = pullSock.RecvBytes(100 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Less(t, time.Since(start), time.Second)

	// Socket stays usable after a timeout.
	_, err = pullSock.RecvBytes(50 * time.Millisecond)
	assert.True(t, IsTimeout(err))
}

func TestSocket_Listen_RandomPort(t *testing.T) {
	ctx := New()
	defer ctx.Close()

	repSock, err := ctx.NewSocket(Reply)
	require.NoError(t, err)
	require.NoError(t, repSock.Listen("127.0.0.1:0"))

	addr := repSock.Addr()
	assert.Contains(t, addr, "tcp://127.0.0.1:")
	assert.NotContains(t, addr, ":0")
}

func TestSocket_Subscribe_FiltersByPrefix(t *testing.T) {
	ctx := New()
	defer ctx.Close()

	pubSock, err := ctx.NewSocket(Publish)
	require.NoError(t, err)
	subSock, err := ctx.NewSocket(Subscribe)
	require.NoError(t, err)

	addr := inprocAddr()
	require.NoError(t, pubSock.Listen(addr))
	require.NoError(t, subSock.Dial(addr))
	require.NoError(t, subSock.Subscribe([]byte("hello\x00")))

	// Let the subscription propagate before publishing.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, pubSock.SendBytes([]byte("other\x00x")))
	require.NoError(t, pubSock.SendBytes([]byte("hello\x00y")))

	got, err := subSock.RecvBytes(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello\x00y"), got)
}

func TestSocket_Subscribe_OnWrongPattern(t *testing.T) {
	ctx := New()
	defer ctx.Close()

	pushSock, err := ctx.NewSocket(Push)
	require.NoError(t, err)
	err = pushSock.Subscribe([]byte("x"))
	assert.ErrorIs(t, err, ErrUnknownPattern)
}

func TestNewSecure_EncryptedRoundTrip(t *testing.T) {
	certPEM, keyPEM, err := GenerateKeyPair()
	require.NoError(t, err)

	serverCtx, err := NewSecure(certPEM, keyPEM)
	require.NoError(t, err)
	defer serverCtx.Close()
	clientCtx, err := NewSecure(certPEM, keyPEM)
	require.NoError(t, err)
	defer clientCtx.Close()

	assert.True(t, serverCtx.Secure())

	pullSock, err := serverCtx.NewSocket(Pull)
	require.NoError(t, err)
	require.NoError(t, pullSock.Listen("127.0.0.1:0"))
	assert.Contains(t, pullSock.Addr(), "tls+tcp://")

	pushSock, err := clientCtx.NewSocket(Push)
	require.NoError(t, err)
	require.NoError(t, pushSock.Dial(pullSock.Addr()))

	require.NoError(t, pushSock.SendBytes([]byte("secret")))
	got, err := pullSock.RecvBytes(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), got)
}

func TestContext_Close_Idempotent(t *testing.T) {
	ctx := New()
	_, err := ctx.NewSocket(Pull)
	require.NoError(t, err)

	require.NoError(t, ctx.Close())
	require.NoError(t, ctx.Close())

	_, err = ctx.NewSocket(Push)
	assert.Error(t, err)
}

func TestGenerateKeyPair_Distinct(t *testing.T) {
	cert1, key1, err := GenerateKeyPair()
	require.NoError(t, err)
	cert2, key2, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.NotEqual(t, cert1, cert2)
	assert.NotEqual(t, key1, key2)
}
