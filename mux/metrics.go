package mux

import (
	"github.com/prometheus/client_golang/prometheus"

	"i4.energy/across/linkmux/bufpool"
)

const namespace = "linkmux"

type counterDesc struct {
	desc   *prometheus.Desc
	value  func(Snapshot) uint64
	labels []string
}

// Collector exports Stats, and optionally pool and channel occupancy, as
// Prometheus metrics. Values are read at scrape time.
type Collector struct {
	stats    *Stats
	pool     *bufpool.Pool
	channels []*Channel

	counters  []counterDesc
	poolFree  *prometheus.Desc
	queueLen  *prometheus.Desc
	queueSize *prometheus.Desc
}

// NewCollector returns a collector for stats. pool may be nil.
func NewCollector(stats *Stats, pool *bufpool.Pool, channels ...*Channel) *Collector {
	chunks := prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "chunks_total"),
		"Chunks routed, by classification.", []string{"class"}, nil)
	overflows := prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "channel_overflows_total"),
		"Chunks dropped because their channel was full.", []string{"channel"}, nil)
	tx := prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "transactions_total"),
		"Command transactions, by outcome.", []string{"outcome"}, nil)
	urcs := prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "urcs_total"),
		"Unsolicited result codes seen on the command stream.", []string{"result"}, nil)
	single := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}

	return &Collector{
		stats:    stats,
		pool:     pool,
		channels: channels,
		counters: []counterDesc{
			{single("bytes_ingested_total", "Bytes read from the link."), func(s Snapshot) uint64 { return s.BytesIngested }, nil},
			{single("read_cycles_total", "Link read calls made by the ingest worker."), func(s Snapshot) uint64 { return s.ReadCycles }, nil},
			{single("pool_drops_total", "Ingest cycles skipped because the buffer pool was exhausted."), func(s Snapshot) uint64 { return s.PoolDrops }, nil},
			{single("link_errors_total", "Hard link failures."), func(s Snapshot) uint64 { return s.LinkErrors }, nil},
			{single("transactions_attempted_total", "Command transactions started."), func(s Snapshot) uint64 { return s.TxAttempted }, nil},
			{chunks, func(s Snapshot) uint64 { return s.ChunksTelemetry }, []string{"telemetry"}},
			{chunks, func(s Snapshot) uint64 { return s.ChunksResponse }, []string{"command-response"}},
			{chunks, func(s Snapshot) uint64 { return s.ChunksEcho }, []string{"command-echo"}},
			{chunks, func(s Snapshot) uint64 { return s.ChunksUnknown }, []string{"unknown"}},
			{overflows, func(s Snapshot) uint64 { return s.TelemetryOverflows }, []string{TelemetryChannel}},
			{overflows, func(s Snapshot) uint64 { return s.CommandOverflows }, []string{CommandChannel}},
			{tx, func(s Snapshot) uint64 { return s.TxMatched }, []string{"matched"}},
			{tx, func(s Snapshot) uint64 { return s.TxTimedOut }, []string{"timed_out"}},
			{tx, func(s Snapshot) uint64 { return s.TxFatal }, []string{"fatal"}},
			{tx, func(s Snapshot) uint64 { return s.TxBusy }, []string{"busy"}},
			{urcs, func(s Snapshot) uint64 { return s.URCsDispatched }, []string{"dispatched"}},
			{urcs, func(s Snapshot) uint64 { return s.URCsDropped }, []string{"dropped"}},
		},
		poolFree: single("pool_free_buffers", "Buffers currently free in the pool."),
		queueLen: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "channel_queued_buffers"),
			"Buffers queued in a channel.", []string{"channel"}, nil),
		queueSize: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "channel_capacity_buffers"),
			"Channel capacity.", []string{"channel"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	seen := make(map[*prometheus.Desc]bool)
	for _, m := range c.counters {
		if !seen[m.desc] {
			seen[m.desc] = true
			ch <- m.desc
		}
	}
	if c.pool != nil {
		ch <- c.poolFree
	}
	if len(c.channels) > 0 {
		ch <- c.queueLen
		ch <- c.queueSize
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.stats.Snapshot()
	for _, m := range c.counters {
		ch <- prometheus.MustNewConstMetric(m.desc, prometheus.CounterValue, float64(m.value(snap)), m.labels...)
	}
	if c.pool != nil {
		ch <- prometheus.MustNewConstMetric(c.poolFree, prometheus.GaugeValue, float64(c.pool.Available()))
	}
	for _, q := range c.channels {
		ch <- prometheus.MustNewConstMetric(c.queueLen, prometheus.GaugeValue, float64(q.Len()), q.Name())
		ch <- prometheus.MustNewConstMetric(c.queueSize, prometheus.GaugeValue, float64(q.Cap()), q.Name())
	}
}
