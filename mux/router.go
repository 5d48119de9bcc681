package mux

import (
	"errors"
	"fmt"
	"log/slog"

	"i4.energy/across/linkmux/bufpool"
	"i4.energy/across/linkmux/stream"
)

// Channel names used in logs and metrics.
const (
	TelemetryChannel = "telemetry"
	CommandChannel   = "command"
)

// Router moves classified chunks into their channel. It never blocks: a
// full channel or an unclassified chunk costs the chunk, not the link.
type Router struct {
	pool      *bufpool.Pool
	telemetry *Channel
	command   *Channel
	stats     *Stats
	logger    *slog.Logger
}

// NewRouter wires a router to its two channels.
func NewRouter(pool *bufpool.Pool, telemetry, command *Channel, stats *Stats, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		pool:      pool,
		telemetry: telemetry,
		command:   command,
		stats:     stats,
		logger:    logger.With("component", "router"),
	}
}

// Route takes ownership of a Filling buffer. On success the buffer is queued;
// on any error it has already been released to the pool.
func (r *Router) Route(buf *bufpool.Buffer, class stream.Classification) error {
	r.stats.Chunk(class)

	var dst *Channel
	switch {
	case class == stream.Telemetry:
		dst = r.telemetry
	case class.IsCommand():
		dst = r.command
	default:
		r.logger.Debug("discarding unclassified chunk", "len", buf.Len())
		r.release(buf)
		return ErrUnclassified
	}

	err := dst.Offer(buf)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrChannelFull) {
		if dst == r.telemetry {
			r.stats.TelemetryOverflows.Inc()
		} else {
			r.stats.CommandOverflows.Inc()
		}
		r.logger.Debug("channel full, dropping chunk", "channel", dst.Name(), "class", class, "len", buf.Len())
	}
	r.release(buf)
	return fmt.Errorf("route %s chunk: %w", class, err)
}

func (r *Router) release(buf *bufpool.Buffer) {
	if err := r.pool.Release(buf); err != nil {
		r.logger.Error("failed to release buffer", "error", err)
	}
}
