// Package link provides the byte-stream capability the pipeline runs on: a
// connected modem link with timed reads, and the dialers that open one.
package link

//go:generate go tool mockgen -source=link.go -destination=mock_link.go -package=link

import (
	"context"
	"time"
)

// Link represents an established, bidirectional byte stream to a modem.
//
// A Link is assumed to be already connected. Reads are owned by exactly one
// goroutine, the ingest worker; writes are serialised by the command
// correlator. Typical implementations are serial ports, TCP connections to
// modem emulators and in-memory fakes used for testing.
type Link interface {
	// Write sends p in full or returns an error.
	Write(p []byte) error

	// Read waits up to timeout for bytes and copies what is available into
	// p. A timeout with no data returns 0 and a nil error; it is the poll
	// boundary at which callers observe shutdown.
	Read(p []byte, timeout time.Duration) (int, error)

	// Close releases the underlying device. Reads and writes after Close
	// fail with ErrClosed.
	Close() error
}

// Dialer opens a Link to a modem.
//
// Dialer abstracts how the connection is created and is used during pipeline
// construction only. Once a Link is obtained, the Dialer is no longer needed.
type Dialer interface {
	// Dial creates and returns a connected Link. It may block and should
	// respect cancellation and deadlines provided by the context.
	Dial(ctx context.Context) (Link, error)
}
