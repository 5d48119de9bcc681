package modem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"i4.energy/across/linkmux/at"
	"i4.energy/across/linkmux/bufpool"
	"i4.energy/across/linkmux/link"
	"i4.energy/across/linkmux/mux"
	"i4.energy/across/linkmux/stream"
)

// Modem represents a cellular/GNSS modem whose single serial link carries
// both NMEA telemetry and AT command traffic.
//
// It owns the whole pipeline: the link, the buffer pool, the telemetry and
// command channels, the counters, the ingest worker and the command
// correlator. Nothing is shared through package state; two Modems on two
// links are fully independent.
type Modem struct {
	// link is the physical connection to the modem (serial, TCP, fake)
	link   link.Link
	config Config
	logger *slog.Logger

	pool      *bufpool.Pool
	telemetry *mux.Channel
	commands  *mux.Channel
	stats     *mux.Stats

	ingester   *mux.Ingester
	correlator *Correlator

	mu          sync.Mutex
	closed      bool
	loopStarted bool
	loopCancel  context.CancelFunc
	loopErr     error
	loopDone    chan struct{}

	// life is cancelled once the loop has stopped or the modem is closed;
	// blocked receivers watch it.
	life     context.Context
	stopLife context.CancelFunc
}

// PollConfig defines configuration for polling operations like waiting for SIM readiness.
type PollConfig struct {
	// Interval is the time between polling attempts
	Interval time.Duration
	// Timeout is the maximum time to wait for the condition
	Timeout time.Duration
	// MaxRetries is the maximum number of polling attempts
	MaxRetries int
}

// New dials the link and assembles the pipeline around it. The workers do
// not run until Loop or Start is called; BringUp and all commands need them.
func New(ctx context.Context, config Config) (*Modem, error) {
	if config.dialer == nil {
		return nil, ErrNoDialer
	}
	config.setDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	l, err := config.dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial modem: %w", err)
	}
	if l == nil {
		return nil, ErrNotInitialized
	}

	pool, err := bufpool.New(config.poolSize, config.bufferSize)
	if err != nil {
		l.Close()
		return nil, err
	}

	logger := config.logger.With("component", "modem")
	m := &Modem{
		link:      l,
		config:    config,
		logger:    logger,
		pool:      pool,
		telemetry: mux.NewChannel(mux.TelemetryChannel, config.telemetryCapacity),
		commands:  mux.NewChannel(mux.CommandChannel, config.commandCapacity),
		stats:     &mux.Stats{},
		loopDone:  make(chan struct{}),
	}
	m.life, m.stopLife = context.WithCancel(context.Background())

	router := mux.NewRouter(pool, m.telemetry, m.commands, m.stats, config.logger)
	m.ingester = mux.NewIngester(mux.IngesterConfig{
		Link:         l,
		Pool:         pool,
		Router:       router,
		Stats:        m.stats,
		Classifier:   stream.NewClassifier(config.thresholds),
		PollInterval: config.pollInterval,
		Logger:       config.logger,
	})
	m.correlator = NewCorrelator(CorrelatorConfig{
		Link:        l,
		Commands:    m.commands,
		Pool:        pool,
		Stats:       m.stats,
		Terminator:  config.terminator,
		MinInterval: config.minCommandInterval,
		URCBuffer:   config.urcBuffer,
		Logger:      config.logger,
	})

	return m, nil
}

// Loop runs the ingest worker and the command dispatcher until ctx is
// cancelled or the link fails. It must be called exactly once, typically in
// its own goroutine:
//
//	m, err := modem.New(ctx, config)
//	if err != nil { return err }
//	go m.Loop(ctx)
//
// Loop returns nil after a requested shutdown and a *link.Error when the
// link fails. Either way pending commands resolve as TimedOut and blocked
// telemetry receivers are released.
func (m *Modem) Loop(ctx context.Context) error {
	ctx, err := m.claim(ctx)
	if err != nil {
		return err
	}
	return m.run(ctx)
}

// Start is Loop in a background goroutine. Unlike go m.Loop(ctx), commands
// can be issued as soon as it returns. The loop's result is reported by Err
// once Done is closed.
func (m *Modem) Start(ctx context.Context) error {
	ctx, err := m.claim(ctx)
	if err != nil {
		return err
	}
	go m.run(ctx)
	return nil
}

func (m *Modem) claim(ctx context.Context) (context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrAlreadyClosed
	}
	if m.loopStarted {
		return nil, ErrLoopRunning
	}
	m.loopStarted = true
	ctx, m.loopCancel = context.WithCancel(ctx)
	return ctx, nil
}

func (m *Modem) run(ctx context.Context) error {
	defer close(m.loopDone)

	m.logger.Info("pipeline started",
		"pool_buffers", m.pool.Size(),
		"buffer_size", m.pool.BufferSize(),
		"telemetry_capacity", m.telemetry.Cap(),
		"command_capacity", m.commands.Cap())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.ingester.Run(gctx) })
	g.Go(func() error { return m.correlator.Run(gctx) })
	err := g.Wait()

	m.mu.Lock()
	m.loopErr = err
	m.mu.Unlock()
	m.stopLife()

	if err != nil {
		m.logger.Error("pipeline stopped", "error", err)
	} else {
		m.logger.Info("pipeline stopped")
	}
	return err
}

// Done is closed when Loop has returned.
func (m *Modem) Done() <-chan struct{} {
	return m.loopDone
}

// Running reports whether Loop has started and not yet returned.
func (m *Modem) Running() bool {
	m.mu.Lock()
	started := m.loopStarted
	m.mu.Unlock()
	if !started {
		return false
	}
	select {
	case <-m.loopDone:
		return false
	default:
		return true
	}
}

// Err returns the error that stopped Loop, if any.
func (m *Modem) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loopErr
}

// ready reports whether commands can be issued.
func (m *Modem) ready() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.closed:
		return ErrAlreadyClosed
	case m.link == nil:
		return ErrNotInitialized
	case !m.loopStarted:
		return ErrLoopNotRunning
	}
	return nil
}

// stopped maps a pipeline shutdown to the link error that caused it. The
// dispatcher stops before Loop records its error, so wait for Loop first.
func (m *Modem) stopped() error {
	m.mu.Lock()
	started := m.loopStarted
	m.mu.Unlock()
	if started {
		<-m.loopDone
	}
	if err := m.Err(); err != nil {
		return err
	}
	return ErrStopped
}

// Execute issues cmd and waits up to timeout for an accept or fatal token.
// See Correlator.Execute. After a link failure the link error is returned.
func (m *Modem) Execute(ctx context.Context, cmd string, accept, fatal []string, timeout time.Duration) (Outcome, error) {
	if err := m.ready(); err != nil {
		return Outcome{}, err
	}
	out, err := m.correlator.Execute(ctx, cmd, accept, fatal, timeout)
	if errors.Is(err, ErrStopped) {
		err = m.stopped()
	}
	return out, err
}

// send writes raw data, such as an MQTT topic after the ">" prompt, and
// waits for a response like Execute.
func (m *Modem) send(ctx context.Context, data string, accept, fatal []string, timeout time.Duration) (Outcome, error) {
	if err := m.ready(); err != nil {
		return Outcome{}, err
	}
	out, err := m.correlator.Send(ctx, data, accept, fatal, timeout)
	if errors.Is(err, ErrStopped) {
		err = m.stopped()
	}
	return out, err
}

// Expect issues cmd with the configured AT timeout and the standard failure
// tokens, and returns the captured response when one of accept appears.
// Timeouts are reported as ErrTimeout and fatal tokens as ErrFatalResponse.
func (m *Modem) Expect(ctx context.Context, cmd string, accept ...string) (string, error) {
	out, err := m.Execute(ctx, cmd, accept, at.FailureTokens, m.config.atTimeout)
	return result(cmd, out, err)
}

// ExpectOK issues cmd and expects a final OK.
func (m *Modem) ExpectOK(ctx context.Context, cmd string) (string, error) {
	return m.Expect(ctx, cmd, at.OK)
}

func result(cmd string, out Outcome, err error) (string, error) {
	if err != nil && out.Kind != TimedOut {
		return "", err
	}
	switch out.Kind {
	case Matched:
		return out.Captured, nil
	case FatalMatched:
		return out.Captured, fmt.Errorf("%s: %w: %s", cmd, ErrFatalResponse, out.Captured)
	default:
		if err != nil {
			return out.Captured, fmt.Errorf("%s: %w: %w", cmd, ErrTimeout, err)
		}
		return out.Captured, fmt.Errorf("%s: %w", cmd, ErrTimeout)
	}
}

// ReceiveTelemetry waits for the next telemetry chunk until ctx is done or
// the pipeline stops. The caller owns the buffer and must Release it.
func (m *Modem) ReceiveTelemetry(ctx context.Context) (*bufpool.Buffer, error) {
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.life, cancel)
	defer stop()

	buf, err := m.telemetry.Receive(rctx)
	if err != nil {
		if ctx.Err() == nil && m.life.Err() != nil {
			return nil, m.stopped()
		}
		return nil, err
	}
	return buf, nil
}

// TryReceiveTelemetry waits up to timeout for a telemetry chunk. It returns
// nil and no error on timeout. The caller must Release a returned buffer.
func (m *Modem) TryReceiveTelemetry(timeout time.Duration) (*bufpool.Buffer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	buf, err := m.ReceiveTelemetry(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, nil
	}
	return buf, err
}

// Release returns a telemetry buffer to the pool. Every received buffer must
// be released exactly once.
func (m *Modem) Release(buf *bufpool.Buffer) error {
	return m.pool.Release(buf)
}

// Stats returns a snapshot of the pipeline counters.
func (m *Modem) Stats() mux.Snapshot {
	return m.stats.Snapshot()
}

// Collector returns a Prometheus collector for this pipeline.
func (m *Modem) Collector() *mux.Collector {
	return mux.NewCollector(m.stats, m.pool, m.telemetry, m.commands)
}

// URC returns a read-only channel that receives Unsolicited Result Codes.
// These are asynchronous notifications from the modem (e.g., incoming SMS,
// MQTT connection loss, etc.). The channel is buffered, but may drop
// some URC if not consumed fast enough.
func (m *Modem) URC() <-chan string {
	return m.correlator.URC()
}

// Close shuts down the pipeline and releases the link. It waits for a
// running Loop to return. After Close the modem cannot be reused.
func (m *Modem) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	m.closed = true
	started := m.loopStarted
	if m.loopCancel != nil {
		m.loopCancel()
	}
	m.mu.Unlock()

	m.stopLife()
	err := m.link.Close()
	if started {
		<-m.loopDone
	}
	return err
}
