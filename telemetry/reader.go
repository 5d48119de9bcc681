package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"go.uber.org/atomic"

	"i4.energy/across/linkmux/bufpool"
)

// MaxSentenceLength bounds a sentence, CRLF included. NMEA 0183 allows 82
// characters; receivers in practice exceed that with long GSV and
// proprietary sentences.
const MaxSentenceLength = 256

// Source hands out telemetry chunks. *modem.Modem implements it.
type Source interface {
	ReceiveTelemetry(ctx context.Context) (*bufpool.Buffer, error)
	Release(buf *bufpool.Buffer) error
}

// Stats counts what a Reader did with the bytes it consumed.
type Stats struct {
	Sentences      atomic.Uint64
	ChecksumErrors atomic.Uint64
	Malformed      atomic.Uint64
	// DiscardedBytes counts bytes outside any sentence, including sentences
	// abandoned for exceeding MaxSentenceLength.
	DiscardedBytes atomic.Uint64
}

// Reader reassembles sentences from telemetry chunks. Chunk boundaries are
// arbitrary; a sentence may span several chunks. Buffers are released as
// soon as their bytes are copied. A Reader is not safe for concurrent use.
type Reader struct {
	src     Source
	logger  *slog.Logger
	pending []byte
	stats   Stats
}

func NewReader(src Source, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		src:    src,
		logger: logger.With("component", "telemetry"),
	}
}

// Stats exposes the reader counters.
func (r *Reader) Stats() *Stats {
	return &r.stats
}

// Next returns the next valid sentence. Sentences that fail to parse are
// counted and skipped. It returns the source's error once the source
// stops, and ctx.Err() when ctx is done.
func (r *Reader) Next(ctx context.Context) (Sentence, error) {
	for {
		for {
			line, ok := r.extract()
			if !ok {
				break
			}
			s, err := Parse(line)
			switch {
			case err == nil:
				r.stats.Sentences.Inc()
				return s, nil
			case errors.Is(err, ErrChecksum):
				r.stats.ChecksumErrors.Inc()
			default:
				r.stats.Malformed.Inc()
			}
			r.logger.Debug("dropping sentence", "error", err)
		}

		if err := r.fill(ctx); err != nil {
			return Sentence{}, err
		}
	}
}

func (r *Reader) fill(ctx context.Context) error {
	buf, err := r.src.ReceiveTelemetry(ctx)
	if err != nil {
		return err
	}
	r.pending = append(r.pending, buf.Bytes()...)
	if err := r.src.Release(buf); err != nil {
		r.logger.Error("failed to release buffer", "error", err)
	}
	return nil
}

// extract cuts the next complete line that starts with '$' from pending.
func (r *Reader) extract() (string, bool) {
	for {
		start := bytes.IndexByte(r.pending, '$')
		if start < 0 {
			r.discard(len(r.pending))
			return "", false
		}
		r.discard(start)

		end := bytes.IndexByte(r.pending, '\n')
		if next := bytes.IndexByte(r.pending[1:], '$'); next >= 0 && (end < 0 || next+1 < end) {
			// A new sentence began before this one ended: the tail was lost.
			r.stats.Malformed.Inc()
			r.discard(next + 1)
			continue
		}
		if end < 0 {
			if len(r.pending) > MaxSentenceLength {
				r.stats.Malformed.Inc()
				r.discard(len(r.pending))
			}
			return "", false
		}

		if end+1 > MaxSentenceLength {
			r.stats.Malformed.Inc()
			r.discard(end + 1)
			continue
		}

		line := string(r.pending[:end+1])
		r.pending = r.pending[end+1:]
		return line, true
	}
}

func (r *Reader) discard(n int) {
	if n == 0 {
		return
	}
	r.stats.DiscardedBytes.Add(uint64(n))
	r.pending = r.pending[n:]
	if len(r.pending) == 0 {
		r.pending = nil
	}
}
