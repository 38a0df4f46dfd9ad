package supervise

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tetherproc/tether/internal/channel"
	"github.com/tetherproc/tether/internal/heartbeat"
	"github.com/tetherproc/tether/internal/transport"
	"github.com/tetherproc/tether/internal/wire"
)

// Process represents one spawned worker and its parent-side wiring. It is
// created by Tree.NewProcess, mutated only by Start/Terminate and by the
// exit watcher, and released when the underlying process exits and the
// handles are closed.
type Process struct {
	tree   *Tree
	worker string
	id     string
	wtype  wire.Type

	redirectAddr string
	hbInterval   time.Duration
	hbTimeout    time.Duration

	mu        sync.Mutex
	cmd       *exec.Cmd
	toChild   *channel.Port
	fromChild *channel.Port
	started   bool
	exited    bool
	exitCode  int
	waitDone  chan struct{}
}

// ProcessOption configures a Process before Start.
type ProcessOption func(*Process)

// WithRedirection forwards the worker's captured stdout/stderr to the
// collector at addr.
func WithRedirection(addr string) ProcessOption {
	return func(p *Process) { p.redirectAddr = addr }
}

// WithChannelType sets the duplex channel's wire type. The default is the
// object type, which round-trips arbitrary registered values.
func WithChannelType(t wire.Type) ProcessOption {
	return func(p *Process) { p.wtype = t }
}

// WithHeartbeatTiming overrides the worker's ping interval and reply
// timeout. Shorter values detect a dead parent sooner at the cost of more
// ping traffic.
func WithHeartbeatTiming(interval, timeout time.Duration) ProcessOption {
	return func(p *Process) {
		p.hbInterval = interval
		p.hbTimeout = timeout
	}
}

// NewProcess prepares a worker spawn. Nothing runs until Start.
func (t *Tree) NewProcess(workerName string, opts ...ProcessOption) *Process {
	p := &Process{
		tree:       t,
		worker:     workerName,
		id:         uuid.NewString(),
		wtype:      wire.Object,
		hbInterval: heartbeat.DefaultInterval,
		hbTimeout:  heartbeat.DefaultReplyTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ID returns the spawn identifier.
func (p *Process) ID() string {
	return p.id
}

// Start spawns the worker process and wires it up: binds the two duplex
// endpoints in the parent, points the child at the redirection collector
// and the heartbeat server, and hands the child its side of the wiring
// through the environment. It returns the parent-side endpoints
// (to-child, from-child).
func (p *Process) Start() (toChild, fromChild *channel.Port, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil, nil, fmt.Errorf("start worker %q: already started", p.worker)
	}

	tctx := p.tree.Transport()

	toChild, err = channel.ListenPort(tctx, transport.Push, "127.0.0.1:0", p.wtype)
	if err != nil {
		return nil, nil, fmt.Errorf("bind to-child endpoint: %w", err)
	}
	fromChild, err = channel.ListenPort(tctx, transport.Pull, "127.0.0.1:0", p.wtype)
	if err != nil {
		_ = toChild.Close()
		return nil, nil, fmt.Errorf("bind from-child endpoint: %w", err)
	}

	hbAddr, err := p.tree.HeartbeatAddr()
	if err != nil {
		_ = toChild.Close()
		_ = fromChild.Close()
		return nil, nil, fmt.Errorf("heartbeat server: %w", err)
	}

	certFile, keyFile := tctx.KeyFiles()
	boot := bootstrap{
		Worker:        p.worker,
		ID:            p.id,
		ToChildAddr:   toChild.Addr(),
		FromChildAddr: fromChild.Addr(),
		RedirectAddr:  p.redirectAddr,
		HeartbeatAddr: hbAddr,
		BrokerIngress: p.tree.brokerIngress,
		BrokerEgress:  p.tree.brokerEgress,
		CertFile:      certFile,
		KeyFile:       keyFile,
		WireType:      int(p.wtype),
		HeartbeatMS:   p.hbInterval.Milliseconds(),
		ReplyMS:       p.hbTimeout.Milliseconds(),
	}
	blob, err := json.Marshal(boot)
	if err != nil {
		_ = toChild.Close()
		_ = fromChild.Close()
		return nil, nil, fmt.Errorf("encode bootstrap: %w", err)
	}

	exe, err := os.Executable()
	if err != nil {
		_ = toChild.Close()
		_ = fromChild.Close()
		return nil, nil, fmt.Errorf("resolve executable: %w", err)
	}

	cmd := exec.Command(exe)
	cmd.Env = append(os.Environ(), spawnEnv+"="+string(blob))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = toChild.Close()
		_ = fromChild.Close()
		return nil, nil, fmt.Errorf("spawn worker %q: %w", p.worker, err)
	}

	p.cmd = cmd
	p.toChild = toChild
	p.fromChild = fromChild
	p.started = true
	p.waitDone = make(chan struct{})
	go p.watch()

	slog.Info("worker started",
		"worker", p.worker,
		"id", p.id,
		"pid", cmd.Process.Pid,
	)
	return toChild, fromChild, nil
}

// watch reaps the child and records its exit status, so Poll never blocks.
func (p *Process) watch() {
	err := p.cmd.Wait()

	code := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	} else if err != nil {
		code = -1
	}

	p.mu.Lock()
	p.exited = true
	p.exitCode = code
	p.mu.Unlock()
	close(p.waitDone)

	slog.Info("worker exited",
		"worker", p.worker,
		"id", p.id,
		"code", code,
	)
}

// Poll reports the worker's exit status without blocking: (code, true)
// once the process has exited, (0, false) while it is still running. A
// worker that died without an explicit Terminate - crashed, or killed by
// its own heartbeat client - is observed here as a status, not an error.
func (p *Process) Poll() (code int, exited bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return 0, false
	}
	return p.exitCode, p.exited
}

// Wait blocks until the worker exits or timeout elapses (zero or less
// waits indefinitely), returning the exit code.
func (p *Process) Wait(timeout time.Duration) (int, error) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return 0, ErrNotStarted
	}
	done := p.waitDone
	p.mu.Unlock()

	if timeout > 0 {
		select {
		case <-done:
		case <-time.After(timeout):
			return 0, fmt.Errorf("wait for worker %q: %w", p.worker, transport.ErrTimeout)
		}
	} else {
		<-done
	}

	code, _ := p.Poll()
	return code, nil
}

// Terminate forcibly ends the worker process and closes the parent-side
// endpoints. Idempotent: terminating an already-dead or already-terminated
// worker is not an error. In-flight sends from the worker are lost.
func (p *Process) Terminate() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	cmd := p.cmd
	done := p.waitDone
	toChild, fromChild := p.toChild, p.fromChild
	p.toChild, p.fromChild = nil, nil
	p.mu.Unlock()

	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("terminate worker %q: %w", p.worker, err)
	}
	<-done

	if toChild != nil {
		_ = toChild.Close()
	}
	if fromChild != nil {
		_ = fromChild.Close()
	}
	return nil
}

// Pid returns the worker's operating-system process ID, or 0 before Start.
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}
