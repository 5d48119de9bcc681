package modem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"i4.energy/across/linkmux/at"
	"i4.energy/across/linkmux/bufpool"
	"i4.energy/across/linkmux/link"
	"i4.energy/across/linkmux/mux"
)

// maxPartialLine bounds the unterminated tail kept for URC detection.
const maxPartialLine = 4096

// OutcomeKind is how a command transaction ended.
type OutcomeKind int

const (
	Matched OutcomeKind = iota + 1
	TimedOut
	FatalMatched
)

func (k OutcomeKind) String() string {
	switch k {
	case Matched:
		return "matched"
	case TimedOut:
		return "timed-out"
	case FatalMatched:
		return "fatal"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the terminal state of a transaction.
type Outcome struct {
	Kind OutcomeKind
	// Captured holds the response lines up to and including the line with
	// the matched token, without blank lines, the command echo and URCs.
	Captured string
	// Token is the acceptance or fatal token that resolved the transaction.
	Token string
}

// transaction is the single pending command on a link.
type transaction struct {
	id     uuid.UUID
	echo   string
	accept []string
	fatal  []string
	text   strings.Builder
	result chan Outcome
}

// captured extracts the response lines through end.
func (tx *transaction) captured(end int) string {
	text := tx.text.String()
	if end < 0 || end > len(text) {
		end = len(text)
	}
	var lines []string
	for _, line := range at.Lines(text[:end]) {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case tx.echo != "" && strings.EqualFold(line, tx.echo):
		case at.Classify(line) == at.TypeURC:
		default:
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// CorrelatorConfig wires a Correlator. Link, Commands, Pool and Stats are
// required.
type CorrelatorConfig struct {
	Link     link.Link
	Commands *mux.Channel
	Pool     *bufpool.Pool
	Stats    *mux.Stats
	// Terminator is appended to every command. Defaults to CRLF.
	Terminator string
	// MinInterval paces consecutive writes; zero disables pacing.
	MinInterval time.Duration
	// URCBuffer sizes the URC channel.
	URCBuffer int
	Logger    *slog.Logger
}

// Correlator writes commands to the link and resolves them against the
// command sub-stream. At most one transaction is pending at a time.
type Correlator struct {
	link       link.Link
	commands   *mux.Channel
	pool       *bufpool.Pool
	stats      *mux.Stats
	terminator string
	limiter    *rate.Limiter
	urcs       chan string
	logger     *slog.Logger

	busy atomic.Bool

	mu      sync.Mutex
	active  *transaction
	partial string

	done     chan struct{}
	stopOnce sync.Once
}

func NewCorrelator(cfg CorrelatorConfig) *Correlator {
	if cfg.Terminator == "" {
		cfg.Terminator = at.Terminator
	}
	if cfg.URCBuffer <= 0 {
		cfg.URCBuffer = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Correlator{
		link:       cfg.Link,
		commands:   cfg.Commands,
		pool:       cfg.Pool,
		stats:      cfg.Stats,
		terminator: cfg.Terminator,
		urcs:       make(chan string, cfg.URCBuffer),
		logger:     cfg.Logger.With("component", "correlator"),
		done:       make(chan struct{}),
	}
	if cfg.MinInterval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	return c
}

// URC returns the channel that receives unsolicited result codes seen on
// the command sub-stream. URCs are dropped when it is full.
func (c *Correlator) URC() <-chan string {
	return c.urcs
}

// Execute writes cmd followed by the terminator and waits until one of the
// accept or fatal tokens appears in the command sub-stream, or timeout
// elapses.
//
// A second call while one is pending fails immediately with
// ErrTransactionBusy. TimedOut and FatalMatched are outcomes, not errors;
// the error is non-nil only for a busy link, a link failure, caller
// cancellation (with a TimedOut outcome) or shutdown (likewise).
func (c *Correlator) Execute(ctx context.Context, cmd string, accept, fatal []string, timeout time.Duration) (Outcome, error) {
	cmd = strings.TrimSpace(cmd)
	return c.transact(ctx, cmd+c.terminator, cmd, accept, fatal, timeout)
}

// Send is Execute for raw payloads, such as the data following a ">"
// prompt. Nothing is appended to data.
func (c *Correlator) Send(ctx context.Context, data string, accept, fatal []string, timeout time.Duration) (Outcome, error) {
	return c.transact(ctx, data, "", accept, fatal, timeout)
}

func (c *Correlator) transact(ctx context.Context, wire, echo string, accept, fatal []string, timeout time.Duration) (Outcome, error) {
	if len(accept) == 0 {
		return Outcome{}, ErrNoAcceptTokens
	}
	if !c.busy.CompareAndSwap(false, true) {
		c.stats.TxBusy.Inc()
		return Outcome{}, ErrTransactionBusy
	}
	defer c.busy.Store(false)

	select {
	case <-c.done:
		return Outcome{Kind: TimedOut}, ErrStopped
	default:
	}

	c.stats.TxAttempted.Inc()
	tx := &transaction{
		id:     uuid.New(),
		echo:   echo,
		accept: accept,
		fatal:  fatal,
		result: make(chan Outcome, 1),
	}
	logger := c.logger.With("tx", tx.id.String())

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(waitCtx); err != nil {
			// The pacing delay alone would overrun the deadline.
			c.stats.TxTimedOut.Inc()
			logger.Debug("command paced past its deadline", "command", echo)
			return Outcome{Kind: TimedOut}, ctx.Err()
		}
	}

	c.mu.Lock()
	c.active = tx
	c.mu.Unlock()

	logger.Debug("sending command", "command", echo, "bytes", len(wire))
	if err := c.link.Write([]byte(wire)); err != nil {
		c.resolve(tx, Outcome{Kind: TimedOut})
		c.stats.LinkErrors.Inc()
		logger.Error("command write failed", "command", echo, "error", err)
		return Outcome{}, link.Wrap("write", err)
	}

	var (
		out Outcome
		err error
	)
	select {
	case out = <-tx.result:
	case <-waitCtx.Done():
		out = c.expire(tx)
		if out.Kind == TimedOut {
			err = ctx.Err()
		}
	case <-c.done:
		out = c.expire(tx)
		if out.Kind == TimedOut {
			err = ErrStopped
		}
	}

	switch out.Kind {
	case Matched:
		c.stats.TxMatched.Inc()
	case FatalMatched:
		c.stats.TxFatal.Inc()
	default:
		c.stats.TxTimedOut.Inc()
	}
	logger.Debug("command resolved", "command", echo, "outcome", out.Kind, "token", out.Token)
	return out, err
}

// expire resolves tx as TimedOut unless the dispatcher got there first, in
// which case that result wins.
func (c *Correlator) expire(tx *transaction) Outcome {
	c.mu.Lock()
	out := Outcome{Kind: TimedOut, Captured: tx.captured(-1)}
	c.mu.Unlock()
	if c.resolve(tx, out) {
		return out
	}
	return <-tx.result
}

// resolve settles tx if it is still the active transaction.
func (c *Correlator) resolve(tx *transaction, out Outcome) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != tx {
		return false
	}
	c.active = nil
	tx.result <- out
	return true
}

// Run consumes the command channel until ctx is done. Every chunk is
// offered to the pending transaction before its buffer is released.
// On return any pending transaction is resolved as TimedOut.
func (c *Correlator) Run(ctx context.Context) error {
	defer c.stop()
	for {
		buf, err := c.commands.Receive(ctx)
		if err != nil {
			if errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		}
		text := string(buf.Bytes())
		if err := c.pool.Release(buf); err != nil {
			c.logger.Error("failed to release buffer", "error", err)
		}
		c.dispatch(text)
	}
}

// Done is closed once the dispatcher has stopped.
func (c *Correlator) Done() <-chan struct{} {
	return c.done
}

func (c *Correlator) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *Correlator) dispatch(text string) {
	c.mu.Lock()
	if tx := c.active; tx != nil {
		tx.text.WriteString(text)
		acc := tx.text.String()
		if m := at.Search(acc, tx.accept, tx.fatal); m.Kind != at.NoMatch {
			out := Outcome{Kind: Matched, Token: m.Token, Captured: tx.captured(m.LineEnd(acc))}
			if m.Kind == at.FatalMatch {
				out.Kind = FatalMatched
			}
			c.active = nil
			tx.result <- out
		}
	}
	lines := c.completeLines(text)
	c.mu.Unlock()

	for _, line := range lines {
		if at.Classify(line) != at.TypeURC {
			continue
		}
		select {
		case c.urcs <- line:
			c.stats.URCsDispatched.Inc()
		default:
			c.stats.URCsDropped.Inc()
			c.logger.Debug("URC channel full, dropping", "urc", line)
		}
	}
}

// completeLines appends text to the unterminated tail from earlier chunks
// and returns the lines it completes. Called with mu held.
func (c *Correlator) completeLines(text string) []string {
	data := []byte(c.partial + text)
	var lines []string
	for len(data) > 0 {
		advance, token, _ := at.Splitter(data, false)
		if advance == 0 {
			break
		}
		data = data[advance:]
		if line := strings.TrimSpace(string(token)); line != "" {
			lines = append(lines, line)
		}
	}
	if len(data) > maxPartialLine {
		data = data[len(data)-maxPartialLine:]
	}
	c.partial = string(data)
	return lines
}
