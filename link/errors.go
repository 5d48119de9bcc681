package link

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a Link that has been closed.
	ErrClosed = errors.New("link closed")

	// ErrNoPortName is returned by SerialDialer when no device is configured.
	ErrNoPortName = errors.New("serial port name is required")

	// ErrNoAddress is returned by TCPDialer when no address is configured.
	ErrNoAddress = errors.New("tcp address is required")

	// ErrNilContext is returned by dialers given a nil context.
	ErrNilContext = errors.New("context is nil")
)

// Error is a hard transport failure. It is the only pipeline error that may
// require the application to reset the link.
type Error struct {
	// Op is the failing operation: "read", "write" or "close".
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("link %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns err as a *Error for op. It returns nil for a nil err and
// leaves an existing *Error untouched.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	return &Error{Op: op, Err: err}
}
