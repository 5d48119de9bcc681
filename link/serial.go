package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate is the SIM7670G factory UART rate.
const DefaultBaudRate = 115200

// openPort is replaced in tests.
var openPort = serial.Open

// SerialDialer opens a modem over a serial port using go.bug.st/serial.
type SerialDialer struct {
	// PortName is the device path, for example /dev/ttyUSB2 or COM3.
	PortName string
	// BaudRate is used when Mode is nil. Zero means DefaultBaudRate.
	BaudRate int
	// Mode overrides the whole line configuration.
	Mode *serial.Mode
}

// Dial opens the port. The context is only checked before opening; the open
// itself does not block on the device.
func (d SerialDialer) Dial(ctx context.Context) (Link, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if d.PortName == "" {
		return nil, ErrNoPortName
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		baud := d.BaudRate
		if baud == 0 {
			baud = DefaultBaudRate
		}
		mode = &serial.Mode{
			BaudRate: baud,
			Parity:   serial.NoParity,
			DataBits: 8,
			StopBits: serial.OneStopBit,
		}
	}

	port, err := openPort(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.PortName, err)
	}
	return &serialLink{port: port}, nil
}

type serialLink struct {
	port serial.Port

	// timeout caches the last read timeout set on the port; only the
	// reader touches it.
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

func (l *serialLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *serialLink) Read(p []byte, timeout time.Duration) (int, error) {
	if l.isClosed() {
		return 0, ErrClosed
	}
	if timeout != l.timeout {
		if err := l.port.SetReadTimeout(timeout); err != nil {
			return 0, Wrap("read", err)
		}
		l.timeout = timeout
	}

	n, err := l.port.Read(p)
	if err != nil {
		if l.isClosed() {
			return 0, ErrClosed
		}
		return n, Wrap("read", err)
	}
	return n, nil
}

func (l *serialLink) Write(p []byte) error {
	if l.isClosed() {
		return ErrClosed
	}
	for len(p) > 0 {
		n, err := l.port.Write(p)
		if err != nil {
			return Wrap("write", err)
		}
		p = p[n:]
	}
	return nil
}

func (l *serialLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	return Wrap("close", l.port.Close())
}
