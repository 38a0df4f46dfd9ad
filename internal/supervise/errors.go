package supervise

import "errors"

// ErrUnknownWorker indicates a spawn or registration referencing a worker
// name the registry does not hold.
var ErrUnknownWorker = errors.New("unknown worker")

// ErrNoBroker indicates an event operation on a Tree with no broker
// addresses configured.
var ErrNoBroker = errors.New("no event broker configured")

// ErrNotStarted indicates an operation on a Process before Start.
var ErrNotStarted = errors.New("process not started")
