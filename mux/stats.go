package mux

import (
	"go.uber.org/atomic"

	"i4.energy/across/linkmux/stream"
)

// Stats holds the pipeline counters. Every field only ever increases and is
// safe for concurrent use; the ingest path and the correlator update them
// without locks.
type Stats struct {
	BytesIngested atomic.Uint64
	ReadCycles    atomic.Uint64

	ChunksTelemetry atomic.Uint64
	ChunksResponse  atomic.Uint64
	ChunksEcho      atomic.Uint64
	ChunksUnknown   atomic.Uint64

	TelemetryOverflows atomic.Uint64
	CommandOverflows   atomic.Uint64
	PoolDrops          atomic.Uint64

	TxAttempted atomic.Uint64
	TxMatched   atomic.Uint64
	TxTimedOut  atomic.Uint64
	TxFatal     atomic.Uint64
	TxBusy      atomic.Uint64

	LinkErrors     atomic.Uint64
	URCsDispatched atomic.Uint64
	URCsDropped    atomic.Uint64
}

// Chunk counts one routed chunk of the given class.
func (s *Stats) Chunk(c stream.Classification) {
	switch c {
	case stream.Telemetry:
		s.ChunksTelemetry.Inc()
	case stream.CommandResponse:
		s.ChunksResponse.Inc()
	case stream.CommandEcho:
		s.ChunksEcho.Inc()
	default:
		s.ChunksUnknown.Inc()
	}
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	BytesIngested uint64 `json:"bytes_ingested"`
	ReadCycles    uint64 `json:"read_cycles"`

	ChunksTelemetry uint64 `json:"chunks_telemetry"`
	ChunksResponse  uint64 `json:"chunks_command_response"`
	ChunksEcho      uint64 `json:"chunks_command_echo"`
	ChunksUnknown   uint64 `json:"chunks_unknown"`

	TelemetryOverflows uint64 `json:"telemetry_overflows"`
	CommandOverflows   uint64 `json:"command_overflows"`
	PoolDrops          uint64 `json:"pool_drops"`

	TxAttempted uint64 `json:"transactions_attempted"`
	TxMatched   uint64 `json:"transactions_matched"`
	TxTimedOut  uint64 `json:"transactions_timed_out"`
	TxFatal     uint64 `json:"transactions_fatal"`
	TxBusy      uint64 `json:"transactions_busy"`

	LinkErrors     uint64 `json:"link_errors"`
	URCsDispatched uint64 `json:"urcs_dispatched"`
	URCsDropped    uint64 `json:"urcs_dropped"`
}

// Snapshot reads every counter. Counters are read one by one, so a snapshot
// taken under load is not a single atomic cut.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		BytesIngested:      s.BytesIngested.Load(),
		ReadCycles:         s.ReadCycles.Load(),
		ChunksTelemetry:    s.ChunksTelemetry.Load(),
		ChunksResponse:     s.ChunksResponse.Load(),
		ChunksEcho:         s.ChunksEcho.Load(),
		ChunksUnknown:      s.ChunksUnknown.Load(),
		TelemetryOverflows: s.TelemetryOverflows.Load(),
		CommandOverflows:   s.CommandOverflows.Load(),
		PoolDrops:          s.PoolDrops.Load(),
		TxAttempted:        s.TxAttempted.Load(),
		TxMatched:          s.TxMatched.Load(),
		TxTimedOut:         s.TxTimedOut.Load(),
		TxFatal:            s.TxFatal.Load(),
		TxBusy:             s.TxBusy.Load(),
		LinkErrors:         s.LinkErrors.Load(),
		URCsDispatched:     s.URCsDispatched.Load(),
		URCsDropped:        s.URCsDropped.Load(),
	}
}
