package transport

import "errors"

// ErrTimeout indicates that a bounded send or receive expired before a
// message could be exchanged. Recoverable: the socket remains usable and
// the caller decides whether to retry.
var ErrTimeout = errors.New("operation timed out")

// ErrUnknownPattern indicates a socket operation that does not apply to
// the socket's pattern, or an unrecognized pattern at creation. Fatal at
// setup time.
var ErrUnknownPattern = errors.New("unknown socket pattern")

// IsTimeout reports whether err is (or wraps) a transport timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
