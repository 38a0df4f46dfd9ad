package heartbeat

import "sync"

// KillLock guards a worker's critical sections against heartbeat-triggered
// termination. Application code inside the worker holds the lock while
// doing non-interruptible work (flushing state, finishing a write); the
// heartbeat client defers - never cancels - a pending termination while
// the lock is held, and re-checks promptly once it is released.
//
// The lock is the only explicit mutual-exclusion primitive in the core.
type KillLock struct {
	mu sync.Mutex
}

// Lock marks the start of a critical section.
func (l *KillLock) Lock() {
	l.mu.Lock()
}

// Unlock marks the end of a critical section. A deferred termination may
// fire immediately after this returns.
func (l *KillLock) Unlock() {
	l.mu.Unlock()
}

// TryLock acquires the lock only if it is free, reporting success.
// The heartbeat client uses this to distinguish "no critical section in
// progress" from "must wait for release".
func (l *KillLock) TryLock() bool {
	return l.mu.TryLock()
}
