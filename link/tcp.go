package link

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"go.uber.org/atomic"
)

// TCPDialer connects to a modem exposed over TCP, such as a ser2net bridge
// or a modem emulator.
type TCPDialer struct {
	Address string
	// Timeout bounds connection establishment. Zero means no limit beyond
	// the context.
	Timeout time.Duration
}

func (d TCPDialer) Dial(ctx context.Context) (Link, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if d.Address == "" {
		return nil, ErrNoAddress
	}

	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, err
	}
	return &tcpLink{conn: conn}, nil
}

type tcpLink struct {
	conn   net.Conn
	closed atomic.Bool
}

func (l *tcpLink) Read(p []byte, timeout time.Duration) (int, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	if err := l.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, Wrap("read", err)
	}
	n, err := l.conn.Read(p)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return n, nil
		}
		if l.closed.Load() {
			return 0, ErrClosed
		}
		return n, Wrap("read", err)
	}
	return n, nil
}

func (l *tcpLink) Write(p []byte) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if _, err := l.conn.Write(p); err != nil {
		return Wrap("write", err)
	}
	return nil
}

func (l *tcpLink) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	return Wrap("close", l.conn.Close())
}
