package supervise

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tetherproc/tether/internal/channel"
	"github.com/tetherproc/tether/internal/heartbeat"
	"github.com/tetherproc/tether/internal/redirect"
	"github.com/tetherproc/tether/internal/transport"
	"github.com/tetherproc/tether/internal/wire"
)

// spawnEnv carries the bootstrap blob from parent to child. Its presence
// marks a process as a spawned worker.
const spawnEnv = "TETHER_SPAWN"

// drainDelay gives the push socket a moment to flush buffered output
// frames before the child tears its transport down.
const drainDelay = 100 * time.Millisecond

// bootstrap is the JSON blob the parent hands a spawned worker: which
// worker to run and the addresses of everything the child must dial.
type bootstrap struct {
	Worker        string `json:"worker"`
	ID            string `json:"id"`
	ToChildAddr   string `json:"to_child_addr"`
	FromChildAddr string `json:"from_child_addr"`
	RedirectAddr  string `json:"redirect_addr,omitempty"`
	HeartbeatAddr string `json:"heartbeat_addr"`
	BrokerIngress string `json:"broker_ingress,omitempty"`
	BrokerEgress  string `json:"broker_egress,omitempty"`
	CertFile      string `json:"cert_file,omitempty"`
	KeyFile       string `json:"key_file,omitempty"`
	WireType      int    `json:"wire_type"`
	HeartbeatMS   int64  `json:"heartbeat_ms"`
	ReplyMS       int64  `json:"reply_ms"`
}

// IsChild reports whether this process was spawned as a worker.
func IsChild() bool {
	return os.Getenv(spawnEnv) != ""
}

// Main is the re-exec hook: call it first thing in main (and in TestMain)
// with the process's worker registry. In a spawned worker it runs the
// worker and exits; in any other process it returns immediately.
func Main(reg *Registry) {
	if !IsChild() {
		return
	}
	if err := RunChild(reg); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
	os.Exit(0)
}

// RunChild executes the worker named in the bootstrap environment. It
// dials the parent's channel endpoints, redirects output if the parent
// asked for it, starts the heartbeat client, and runs the worker to
// completion.
func RunChild(reg *Registry) error {
	blob := os.Getenv(spawnEnv)
	if blob == "" {
		return fmt.Errorf("run child: %s not set", spawnEnv)
	}
	var boot bootstrap
	if err := json.Unmarshal([]byte(blob), &boot); err != nil {
		return fmt.Errorf("decode bootstrap: %w", err)
	}

	wtype := wire.Type(boot.WireType)
	if !wtype.Valid() {
		return fmt.Errorf("decode bootstrap: %w", &wire.InvalidTypeError{Type: wtype})
	}

	var tctx *transport.Context
	var err error
	if boot.CertFile != "" && boot.KeyFile != "" {
		tctx, err = transport.NewSecureFromFiles(boot.CertFile, boot.KeyFile)
		if err != nil {
			return fmt.Errorf("secure transport: %w", err)
		}
	} else {
		tctx = transport.New()
	}
	defer tctx.Close()

	fromParent, err := channel.DialPort(tctx, transport.Pull, boot.ToChildAddr, wtype)
	if err != nil {
		return fmt.Errorf("dial to-child endpoint: %w", err)
	}
	defer fromParent.Close()

	toParent, err := channel.DialPort(tctx, transport.Push, boot.FromChildAddr, wtype)
	if err != nil {
		return fmt.Errorf("dial from-child endpoint: %w", err)
	}
	defer toParent.Close()

	if boot.RedirectAddr != "" {
		red, err := redirect.Start(tctx, boot.RedirectAddr)
		if err != nil {
			return fmt.Errorf("redirect output: %w", err)
		}
		defer red.Stop()
	}

	lock := &heartbeat.KillLock{}
	hb := heartbeat.NewClient(tctx, boot.HeartbeatAddr, lock,
		heartbeat.WithInterval(time.Duration(boot.HeartbeatMS)*time.Millisecond),
		heartbeat.WithReplyTimeout(time.Duration(boot.ReplyMS)*time.Millisecond),
	)
	if err := hb.Start(); err != nil {
		return fmt.Errorf("heartbeat client: %w", err)
	}
	defer hb.Stop()

	treeOpts := []TreeOption{WithHeartbeatAddr(boot.HeartbeatAddr)}
	if boot.BrokerIngress != "" && boot.BrokerEgress != "" {
		treeOpts = append(treeOpts, WithBrokerAddrs(boot.BrokerIngress, boot.BrokerEgress))
	}
	tree := NewTree(tctx, treeOpts...)
	defer tree.Close()

	worker, err := reg.lookup(boot.Worker)
	if err != nil {
		return err
	}

	peer := &Peer{
		ID:         boot.ID,
		FromParent: fromParent,
		ToParent:   toParent,
		KillLock:   lock,
		Tree:       tree,
	}

	slog.Info("worker running", "worker", boot.Worker, "id", boot.ID)
	runErr := worker.Run(context.Background(), peer)

	// Flush before the deferred teardown closes the sockets.
	time.Sleep(drainDelay)
	return runErr
}
