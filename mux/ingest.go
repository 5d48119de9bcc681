package mux

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"i4.energy/across/linkmux/bufpool"
	"i4.energy/across/linkmux/link"
	"i4.energy/across/linkmux/stream"
)

// DefaultPollInterval bounds every link read, and with it how long shutdown
// can take to be noticed.
const DefaultPollInterval = 100 * time.Millisecond

// IngesterConfig wires an Ingester. Link, Pool, Router and Stats are
// required.
type IngesterConfig struct {
	Link         link.Link
	Pool         *bufpool.Pool
	Router       *Router
	Stats        *Stats
	Classifier   *stream.Classifier
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Ingester is the only reader of the link. Each cycle reads whatever is
// available into a pool buffer and hands it to the router.
type Ingester struct {
	link       link.Link
	pool       *bufpool.Pool
	router     *Router
	stats      *Stats
	classifier *stream.Classifier
	poll       time.Duration
	logger     *slog.Logger
}

func NewIngester(cfg IngesterConfig) *Ingester {
	if cfg.Classifier == nil {
		cfg.Classifier = &stream.Classifier{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Ingester{
		link:       cfg.Link,
		pool:       cfg.Pool,
		router:     cfg.Router,
		stats:      cfg.Stats,
		classifier: cfg.Classifier,
		poll:       cfg.PollInterval,
		logger:     cfg.Logger.With("component", "ingest"),
	}
}

// Run reads until ctx is done or the link fails. It returns nil on shutdown
// and a *link.Error on a link failure.
func (in *Ingester) Run(ctx context.Context) error {
	var buf *bufpool.Buffer
	defer func() {
		if buf != nil {
			in.release(buf)
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		if buf == nil {
			b, err := in.pool.Acquire()
			if errors.Is(err, bufpool.ErrExhausted) {
				in.stats.PoolDrops.Inc()
				in.logger.Debug("buffer pool exhausted, skipping cycle")
				if !sleep(ctx, in.poll) {
					return nil
				}
				continue
			}
			if err != nil {
				return err
			}
			buf = b
		}

		n, err := in.link.Read(buf.Scratch(), in.poll)
		in.stats.ReadCycles.Inc()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			in.stats.LinkErrors.Inc()
			in.logger.Error("link read failed", "error", err)
			return link.Wrap("read", err)
		}
		if n == 0 {
			// Keep the scratch buffer for the next poll.
			continue
		}

		if err := buf.SetLen(n); err != nil {
			return err
		}
		in.stats.BytesIngested.Add(uint64(n))

		class := in.classifier.Classify(buf.Bytes())
		if err := in.router.Route(buf, class); err != nil {
			in.logger.Debug("chunk dropped", "class", class, "bytes", n, "error", err)
		}
		buf = nil
	}
}

func (in *Ingester) release(buf *bufpool.Buffer) {
	if err := in.pool.Release(buf); err != nil {
		in.logger.Error("failed to release buffer", "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
