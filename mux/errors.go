package mux

import "errors"

var (
	// ErrChannelFull is returned when a chunk is dropped because its
	// destination channel is at capacity.
	//
	// The newest chunk is rejected and counted; queued chunks are never
	// evicted, so consumers keep seeing data in read order.
	ErrChannelFull = errors.New("channel full")

	// ErrUnclassified is returned when a chunk matched no sub-stream and was
	// discarded.
	ErrUnclassified = errors.New("chunk not classified")
)
