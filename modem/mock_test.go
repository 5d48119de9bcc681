package modem_test

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"i4.energy/across/linkmux/link"
	"i4.energy/across/linkmux/modem"
)

// ScriptBuilder scripts the modem side of a link.Fake: every written
// command is answered with the chunks registered for it. Registering the
// same command twice queues the answers; the last one repeats.
type ScriptBuilder struct {
	mu      sync.Mutex
	replies map[string][][]string
}

func NewScript() *ScriptBuilder {
	return &ScriptBuilder{replies: make(map[string][][]string)}
}

// On answers cmd (written without terminator) with chunks.
func (b *ScriptBuilder) On(cmd string, chunks ...string) *ScriptBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies[cmd] = append(b.replies[cmd], chunks)
	return b
}

func (b *ScriptBuilder) AT() *ScriptBuilder {
	return b.On("AT", "AT\r\n\r\nOK\r\n")
}

func (b *ScriptBuilder) EchoOff() *ScriptBuilder {
	return b.On("ATE0", "ATE0\r\n\r\nOK\r\n")
}

func (b *ScriptBuilder) VerboseErrors() *ScriptBuilder {
	return b.On("AT+CMEE=2", "\r\nOK\r\n")
}

func (b *ScriptBuilder) SimReady() *ScriptBuilder {
	return b.On("AT+CPIN?", "\r\n+CPIN: READY\r\n\r\nOK\r\n")
}

func (b *ScriptBuilder) SimPinRequired() *ScriptBuilder {
	return b.On("AT+CPIN?", "\r\n+CPIN: SIM PIN\r\n\r\nOK\r\n")
}

func (b *ScriptBuilder) SignalQuality(rssi int) *ScriptBuilder {
	return b.On("AT+CSQ", "\r\n+CSQ: "+strconv.Itoa(rssi)+",99\r\n\r\nOK\r\n")
}

func (b *ScriptBuilder) GNSS() *ScriptBuilder {
	return b.On("AT+CGNSSPWR=1", "\r\nOK\r\n").On("AT+CGNSSTST=1", "\r\nOK\r\n")
}

// Init scripts a successful bring-up without GNSS.
func (b *ScriptBuilder) Init() *ScriptBuilder {
	return b.AT().EchoOff().VerboseErrors().SimReady().SignalQuality(18)
}

func (b *ScriptBuilder) respond(written string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := strings.TrimSuffix(written, "\r\n")
	queue := b.replies[key]
	if len(queue) == 0 {
		return nil
	}
	chunks := queue[0]
	if len(queue) > 1 {
		b.replies[key] = queue[1:]
	}
	return chunks
}

// Attach installs the script on fake.
func (b *ScriptBuilder) Attach(fake *link.Fake) {
	fake.Respond(b.respond)
}

// harness is a Modem on a link.Fake with its loop running.
type harness struct {
	*modem.Modem
	fake   *link.Fake
	cancel context.CancelFunc
	loop   chan error
}

func newConfig(t *testing.T, d link.Dialer, opts ...func(*modem.ConfigBuilder)) modem.Config {
	t.Helper()
	b := modem.NewConfigBuilder().
		WithDialer(d).
		WithPollInterval(5 * time.Millisecond).
		WithATTimeout(500 * time.Millisecond).
		WithSIMPoll(modem.PollConfig{Interval: 10 * time.Millisecond, Timeout: time.Second})
	for _, opt := range opts {
		opt(b)
	}
	config, err := b.Build()
	require.NoError(t, err)
	return config
}

// newHarness builds a modem without starting its loop.
func newHarness(t *testing.T, opts ...func(*modem.ConfigBuilder)) *harness {
	t.Helper()
	fake := link.NewFake()
	m, err := modem.New(context.Background(), newConfig(t, link.FakeDialer{Link: fake}, opts...))
	require.NoError(t, err)
	h := &harness{Modem: m, fake: fake}
	t.Cleanup(func() { _ = m.Close() })
	return h
}

// startHarness builds a modem and runs its loop until the test ends.
func startHarness(t *testing.T, opts ...func(*modem.ConfigBuilder)) *harness {
	t.Helper()
	h := newHarness(t, opts...)
	h.start()
	require.Eventually(t, h.Running, time.Second, time.Millisecond)
	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.loop = make(chan error, 1)
	go func() { h.loop <- h.Loop(ctx) }()
}

// waitWrites blocks until n writes reached the link.
func (h *harness) waitWrites(t *testing.T, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.fake.Writes()) >= n },
		time.Second, time.Millisecond, "expected %d writes", n)
	return h.fake.Writes()
}
