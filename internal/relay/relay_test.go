package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayWith_PanicsInStartedTask(t *testing.T) {
	starter := &SyncStarter{}
	captured := errors.New("boom")

	assert.PanicsWithError(t, "boom", func() {
		RelayWith(starter, captured)
	})
	assert.True(t, starter.Used, "the task strategy should have been used")
}

func TestRelayWith_NilIsNoOp(t *testing.T) {
	starter := &SyncStarter{}
	assert.NotPanics(t, func() {
		RelayWith(starter, nil)
	})
	assert.False(t, starter.Used)
}

func TestReporter_InvokesFaultFunc(t *testing.T) {
	got := make(chan error, 1)
	r := NewReporter(WithFaultFunc(func(err error) {
		got <- err
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	want := errors.New("background failure")
	r.Report(want)

	select {
	case err := <-got:
		assert.Equal(t, want, err)
	case <-time.After(2 * time.Second):
		t.Fatal("fault function was not invoked")
	}
}

func TestReporter_IgnoresNil(t *testing.T) {
	called := false
	r := NewReporter(WithFaultFunc(func(error) { called = true }))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	r.Report(nil)
	err := r.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)
}

func TestGoStarter_RunsConcurrently(t *testing.T) {
	done := make(chan struct{})
	GoStarter{}.Start(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
}
