package mux_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i4.energy/across/linkmux/bufpool"
	"i4.energy/across/linkmux/mux"
	"i4.energy/across/linkmux/stream"
)

type routerFixture struct {
	pool      *bufpool.Pool
	telemetry *mux.Channel
	command   *mux.Channel
	stats     *mux.Stats
	router    *mux.Router
}

func newRouterFixture(t *testing.T, poolSize, capacity int) *routerFixture {
	t.Helper()
	p, err := bufpool.New(poolSize, 64)
	require.NoError(t, err)
	f := &routerFixture{
		pool:      p,
		telemetry: mux.NewChannel(mux.TelemetryChannel, capacity),
		command:   mux.NewChannel(mux.CommandChannel, capacity),
		stats:     &mux.Stats{},
	}
	f.router = mux.NewRouter(p, f.telemetry, f.command, f.stats, nil)
	return f
}

// Capacity 2, three telemetry chunks and no consumer: the third is dropped
// and the first two come out in order.
func TestRouterTelemetryOverflow(t *testing.T) {
	f := newRouterFixture(t, 4, 2)

	chunks := []string{"$GPGGA,1", "$GPGGA,2", "$GPGGA,3"}
	var errs []error
	for _, c := range chunks {
		errs = append(errs, f.router.Route(fill(t, f.pool, c), stream.Telemetry))
	}

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.ErrorIs(t, errs[2], mux.ErrChannelFull)

	snap := f.stats.Snapshot()
	assert.Equal(t, uint64(1), snap.TelemetryOverflows)
	assert.Equal(t, uint64(0), snap.CommandOverflows)
	assert.Equal(t, uint64(3), snap.ChunksTelemetry)
	assert.Equal(t, 4-2, f.pool.Available(), "dropped buffer returns to the pool")

	for _, want := range chunks[:2] {
		b, err := f.telemetry.TryReceive(0)
		require.NoError(t, err)
		require.NotNil(t, b)
		assert.Equal(t, want, string(b.Bytes()))
		require.NoError(t, f.pool.Release(b))
	}
	b, err := f.telemetry.TryReceive(0)
	assert.NoError(t, err)
	assert.Nil(t, b)
}

func TestRouterDestinations(t *testing.T) {
	tests := []struct {
		name      string
		class     stream.Classification
		telemetry int
		command   int
		err       error
	}{
		{name: "telemetry", class: stream.Telemetry, telemetry: 1},
		{name: "command response", class: stream.CommandResponse, command: 1},
		{name: "command echo", class: stream.CommandEcho, command: 1},
		{name: "unknown", class: stream.Unknown, err: mux.ErrUnclassified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t, 2, 2)
			err := f.router.Route(fill(t, f.pool, "chunk"), tt.class)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.telemetry, f.telemetry.Len())
			assert.Equal(t, tt.command, f.command.Len())
			assert.Equal(t, 2-tt.telemetry-tt.command, f.pool.Available())
		})
	}
}

func TestRouterCommandOverflow(t *testing.T) {
	f := newRouterFixture(t, 3, 1)

	require.NoError(t, f.router.Route(fill(t, f.pool, "AT+CSQ\r\n"), stream.CommandEcho))
	err := f.router.Route(fill(t, f.pool, "OK\r\n"), stream.CommandResponse)
	assert.ErrorIs(t, err, mux.ErrChannelFull)

	snap := f.stats.Snapshot()
	assert.Equal(t, uint64(1), snap.CommandOverflows)
	assert.Equal(t, uint64(1), snap.ChunksEcho)
	assert.Equal(t, uint64(1), snap.ChunksResponse)
	assert.Equal(t, 2, f.pool.Available())
}
