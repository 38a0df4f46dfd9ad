// Package relay surfaces errors caught off the normal call path. An error
// captured in one execution context is re-raised inside a freshly started
// one, so the runtime's default unhandled-fault behavior applies instead
// of the error vanishing in whatever goroutine happened to catch it.
package relay

import (
	"context"
	"log/slog"
)

// Starter abstracts how a background task is launched. Production code
// uses GoStarter; tests inject SyncStarter to run the task inline and
// observe its effect without goroutine scheduling.
type Starter interface {
	Start(fn func())
}

// GoStarter launches the task on a new goroutine.
type GoStarter struct{}

// Start implements Starter.
func (GoStarter) Start(fn func()) {
	go fn()
}

// SyncStarter runs the task immediately on the calling goroutine and
// records that it was used.
type SyncStarter struct {
	Used bool
}

// Start implements Starter.
func (s *SyncStarter) Start(fn func()) {
	s.Used = true
	fn()
}

// Relay re-raises err inside a fresh goroutine. The panic escapes that
// goroutine's stack, which is the runtime's standard unhandled-fault path:
// the process crashes with the error and a traceback, exactly as if the
// fault had happened on a foreground path. A nil err is a no-op.
func Relay(err error) {
	RelayWith(GoStarter{}, err)
}

// RelayWith is Relay with an injected start strategy.
func RelayWith(s Starter, err error) {
	if err == nil {
		return
	}
	s.Start(func() {
		panic(err)
	})
}

// Reporter is an explicit error-value channel feeding a dedicated
// fault-reporting task. Paths that must not crash mid-flight (socket
// loops, supervision callbacks) hand their errors to Report; the task
// logs each one and then invokes the fault function, which defaults to
// re-raising via Relay.
type Reporter struct {
	faults  chan error
	onFault func(error)
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithFaultFunc replaces the default re-raise behavior. Tests use this to
// record faults instead of crashing.
func WithFaultFunc(fn func(error)) ReporterOption {
	return func(r *Reporter) {
		r.onFault = fn
	}
}

// NewReporter creates a Reporter. Run must be started for reports to be
// consumed; Report never blocks past the channel buffer.
func NewReporter(opts ...ReporterOption) *Reporter {
	r := &Reporter{
		faults:  make(chan error, 16),
		onFault: Relay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report submits an error for fault handling. Nil errors are ignored.
// If the buffer is full the error is logged and dropped rather than
// blocking the reporting path.
func (r *Reporter) Report(err error) {
	if err == nil {
		return
	}
	select {
	case r.faults <- err:
	default:
		slog.Error("fault reporter buffer full, dropping", "error", err)
	}
}

// Run consumes reported errors until ctx is cancelled, logging each and
// invoking the fault function.
func (r *Reporter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-r.faults:
			slog.Error("background fault", "error", err)
			r.onFault(err)
		}
	}
}
