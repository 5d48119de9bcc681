package bufpool

import "errors"

var (
	// ErrExhausted is returned by Acquire when no buffer is free.
	//
	// It is a backpressure signal, not a failure: the caller should skip
	// the cycle and try again later.
	ErrExhausted = errors.New("buffer pool exhausted")

	// ErrDoubleRelease is returned when a buffer that is already free is
	// released again.
	ErrDoubleRelease = errors.New("buffer already released")

	// ErrForeignBuffer is returned when a buffer is released to a pool that
	// did not hand it out.
	ErrForeignBuffer = errors.New("buffer belongs to another pool")

	// ErrNilBuffer is returned when a nil handle is released.
	ErrNilBuffer = errors.New("nil buffer")

	// ErrOwnership is returned when a buffer is used from a lifecycle state
	// that does not own it.
	ErrOwnership = errors.New("buffer ownership violation")

	// ErrInvalidSize is returned by New for a non-positive count or size.
	ErrInvalidSize = errors.New("invalid pool dimensions")
)
