package link

import (
	"context"
	"sync"
	"time"
)

// Fake is an in-memory Link for tests and demos. Reads block until data is
// fed or the timeout elapses, like a serial port with a read timeout. A
// chunk larger than the caller's buffer is delivered over several reads.
type Fake struct {
	mu       sync.Mutex
	reads    chan []byte
	pending  []byte
	writes   []string
	respond  func(written string) []string
	readErr  error
	writeErr error
	closed   bool
	done     chan struct{}
}

// NewFake creates an open fake link.
func NewFake() *Fake {
	return &Fake{
		reads: make(chan []byte, 256),
		done:  make(chan struct{}),
	}
}

// Feed queues data to be returned by a future Read as one chunk. It
// simulates bytes arriving from the modem.
func (f *Fake) Feed(chunks ...string) {
	for _, c := range chunks {
		select {
		case f.reads <- []byte(c):
		case <-f.done:
			return
		}
	}
}

// Respond installs a hook that is called with every write; the chunks it
// returns are fed back as if the modem answered.
func (f *Fake) Respond(fn func(written string) []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = fn
}

// FailReads makes the next Read return err.
func (f *Fake) FailReads(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

// FailWrites makes every subsequent Write return err.
func (f *Fake) FailWrites(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

// Writes returns everything written so far, one entry per Write.
func (f *Fake) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *Fake) Write(p []byte) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.writeErr != nil {
		err := f.writeErr
		f.mu.Unlock()
		return Wrap("write", err)
	}
	f.writes = append(f.writes, string(p))
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		f.Feed(respond(string(p))...)
	}
	return nil
}

func (f *Fake) Read(p []byte, timeout time.Duration) (int, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return 0, ErrClosed
	}
	if err := f.readErr; err != nil {
		f.readErr = nil
		f.mu.Unlock()
		return 0, Wrap("read", err)
	}
	if len(f.pending) > 0 {
		n := copy(p, f.pending)
		f.pending = f.pending[n:]
		f.mu.Unlock()
		return n, nil
	}
	f.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-f.reads:
		n := copy(p, data)
		if n < len(data) {
			f.mu.Lock()
			f.pending = data[n:]
			f.mu.Unlock()
		}
		return n, nil
	case <-timer.C:
		return 0, nil
	case <-f.done:
		return 0, ErrClosed
	}
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.done)
	return nil
}

// FakeDialer hands out a prepared Link.
type FakeDialer struct {
	Link Link
	Err  error
}

func (d FakeDialer) Dial(ctx context.Context) (Link, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Link, nil
}
