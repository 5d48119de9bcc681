package modem_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"i4.energy/across/linkmux/at"
	"i4.energy/across/linkmux/link"
	"i4.energy/across/linkmux/modem"
)

const gga = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47\r\n"

type execResult struct {
	out modem.Outcome
	err error
}

func (h *harness) execAsync(cmd string, timeout time.Duration) <-chan execResult {
	ch := make(chan execResult, 1)
	go func() {
		out, err := h.Execute(context.Background(), cmd, at.SuccessTokens, at.FailureTokens, timeout)
		ch <- execResult{out, err}
	}()
	return ch
}

func wait(t *testing.T, ch <-chan execResult) execResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("command never resolved")
		return execResult{}
	}
}

func TestModemNew(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mockLink := link.NewMockLink(ctrl)
		mockDialer := link.NewMockDialer(ctrl)

		mockDialer.EXPECT().Dial(gomock.Any()).Return(mockLink, nil)
		mockLink.EXPECT().Close().Return(nil)

		m, err := modem.New(context.Background(), newConfig(t, mockDialer))
		require.NoError(t, err)
		require.NotNil(t, m)

		snap := m.Stats()
		assert.Zero(t, snap.BytesIngested)
		assert.NoError(t, m.Close())
	})

	t.Run("Dialer error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mockDialer := link.NewMockDialer(ctrl)
		dialErr := errors.New("connection failed")
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, dialErr)

		m, err := modem.New(context.Background(), newConfig(t, mockDialer))
		assert.ErrorIs(t, err, dialErr)
		assert.Nil(t, m)
	})

	t.Run("ErrNoDialer when no dialer provided", func(t *testing.T) {
		m, err := modem.New(context.Background(), modem.Config{})
		assert.ErrorIs(t, err, modem.ErrNoDialer)
		assert.Nil(t, m)
	})

	t.Run("ErrNotInitialized on nil link", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mockDialer := link.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, nil)

		_, err := modem.New(context.Background(), newConfig(t, mockDialer))
		assert.ErrorIs(t, err, modem.ErrNotInitialized)
	})
}

func TestModemClose(t *testing.T) {
	t.Run("Returns link error on close failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mockLink := link.NewMockLink(ctrl)
		mockDialer := link.NewMockDialer(ctrl)

		closeErr := errors.New("link close failed")
		mockDialer.EXPECT().Dial(gomock.Any()).Return(mockLink, nil)
		mockLink.EXPECT().Close().Return(closeErr)

		m, err := modem.New(context.Background(), newConfig(t, mockDialer))
		require.NoError(t, err)
		assert.ErrorIs(t, m.Close(), closeErr)
	})

	t.Run("ErrAlreadyClosed on double close", func(t *testing.T) {
		h := startHarness(t)
		require.NoError(t, h.Close())
		assert.ErrorIs(t, h.Close(), modem.ErrAlreadyClosed)

		_, err := h.Execute(context.Background(), "AT", at.SuccessTokens, nil, time.Second)
		assert.ErrorIs(t, err, modem.ErrAlreadyClosed)
	})

	t.Run("Stops a running loop", func(t *testing.T) {
		h := startHarness(t)
		require.NoError(t, h.Close())
		select {
		case err := <-h.loop:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("loop did not stop")
		}
	})
}

func TestModemLoop(t *testing.T) {
	t.Run("ErrLoopRunning on consecutive calls", func(t *testing.T) {
		h := startHarness(t)
		assert.ErrorIs(t, h.Loop(context.Background()), modem.ErrLoopRunning)
	})

	t.Run("Start runs the loop in the background", func(t *testing.T) {
		h := newHarness(t)
		NewScript().AT().Attach(h.fake)
		require.NoError(t, h.Start(context.Background()))
		assert.ErrorIs(t, h.Start(context.Background()), modem.ErrLoopRunning)

		_, err := h.ExpectOK(context.Background(), "AT")
		require.NoError(t, err)

		require.NoError(t, h.Close())
		<-h.Done()
		assert.False(t, h.Running())
	})

	t.Run("ErrAlreadyClosed after close", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.Close())
		assert.ErrorIs(t, h.Loop(context.Background()), modem.ErrAlreadyClosed)
	})

	t.Run("Exits gracefully on context cancellation", func(t *testing.T) {
		h := startHarness(t)
		h.cancel()
		select {
		case err := <-h.loop:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("loop did not stop")
		}
		assert.NoError(t, h.Err())
		<-h.Done()
	})

	t.Run("Returns link errors", func(t *testing.T) {
		h := startHarness(t)
		h.fake.FailReads(errors.New("unplugged"))

		var err error
		select {
		case err = <-h.loop:
		case <-time.After(time.Second):
			t.Fatal("loop did not stop")
		}
		var linkErr *link.Error
		require.ErrorAs(t, err, &linkErr)
		assert.Equal(t, "read", linkErr.Op)
		assert.Equal(t, uint64(1), h.Stats().LinkErrors)

		_, err = h.Execute(context.Background(), "AT", at.SuccessTokens, nil, time.Second)
		assert.ErrorAs(t, err, &linkErr, "commands after a link failure report it")
	})
}

func TestExecute(t *testing.T) {
	t.Run("Matched with captured response", func(t *testing.T) {
		h := startHarness(t)
		NewScript().On("AT+CSQ", "AT+CSQ\r\n\r\n+CSQ: 18,99\r\n\r\nOK\r\n").Attach(h.fake)

		out, err := h.Execute(context.Background(), "AT+CSQ", at.SuccessTokens, at.FailureTokens, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, modem.Matched, out.Kind)
		assert.Equal(t, at.OK, out.Token)
		assert.Contains(t, out.Captured, "+CSQ: 18,99")
		assert.NotContains(t, out.Captured, "AT+CSQ", "echo is not part of the response")

		assert.Equal(t, []string{"AT+CSQ\r\n"}, h.fake.Writes())
		snap := h.Stats()
		assert.Equal(t, uint64(1), snap.TxAttempted)
		assert.Equal(t, uint64(1), snap.TxMatched)
	})

	t.Run("Times out when the modem stays silent", func(t *testing.T) {
		h := startHarness(t)

		start := time.Now()
		out, err := h.Execute(context.Background(), "AT+COPS?", at.SuccessTokens, at.FailureTokens, 200*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, modem.TimedOut, out.Kind)
		assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
		assert.Equal(t, uint64(1), h.Stats().TxTimedOut)

		// The link is free again.
		NewScript().On("AT", "\r\nOK\r\n").Attach(h.fake)
		out, err = h.Execute(context.Background(), "AT", at.SuccessTokens, nil, time.Second)
		require.NoError(t, err)
		assert.Equal(t, modem.Matched, out.Kind)
	})

	t.Run("Fatal token resolves the command", func(t *testing.T) {
		h := startHarness(t)
		NewScript().On("AT+CPIN=\"0000\"", "\r\n+CME ERROR: incorrect password\r\n").Attach(h.fake)

		out, err := h.Execute(context.Background(), `AT+CPIN="0000"`, at.SuccessTokens, at.FailureTokens, time.Second)
		require.NoError(t, err)
		assert.Equal(t, modem.FatalMatched, out.Kind)
		assert.Equal(t, at.CmeError, out.Token)
		assert.Contains(t, out.Captured, "incorrect password")
		assert.Equal(t, uint64(1), h.Stats().TxFatal)
	})

	t.Run("Token inside a word does not match", func(t *testing.T) {
		h := startHarness(t)
		pending := h.execAsync("AT+CPBR=1", 2*time.Second)
		h.waitWrites(t, 1)

		h.fake.Feed("\r\n+CPBR: 1,\"BOOK123\",129\r\n")
		select {
		case r := <-pending:
			t.Fatalf("resolved early: %+v", r)
		case <-time.After(50 * time.Millisecond):
		}

		h.fake.Feed("\r\nOK\r\n")
		r := wait(t, pending)
		require.NoError(t, r.err)
		assert.Equal(t, modem.Matched, r.out.Kind)
		assert.Equal(t, "+CPBR: 1,\"BOOK123\",129\nOK", r.out.Captured)
	})

	t.Run("ErrTransactionBusy while a command is pending", func(t *testing.T) {
		h := startHarness(t)
		pending := h.execAsync("AT+CSQ", 2*time.Second)
		h.waitWrites(t, 1)

		_, err := h.Execute(context.Background(), "AT", at.SuccessTokens, nil, time.Second)
		assert.ErrorIs(t, err, modem.ErrTransactionBusy)
		assert.Len(t, h.fake.Writes(), 1, "a rejected command is never written")

		h.fake.Feed("\r\nOK\r\n")
		r := wait(t, pending)
		require.NoError(t, r.err)
		assert.Equal(t, modem.Matched, r.out.Kind)
		assert.Equal(t, uint64(1), h.Stats().TxBusy)
	})

	t.Run("ErrNoAcceptTokens", func(t *testing.T) {
		h := startHarness(t)
		_, err := h.Execute(context.Background(), "AT", nil, at.FailureTokens, time.Second)
		assert.ErrorIs(t, err, modem.ErrNoAcceptTokens)
	})

	t.Run("ErrLoopNotRunning before Loop", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.Execute(context.Background(), "AT", at.SuccessTokens, nil, time.Second)
		assert.ErrorIs(t, err, modem.ErrLoopNotRunning)
	})

	t.Run("Caller cancellation", func(t *testing.T) {
		h := startHarness(t)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		out, err := h.Execute(ctx, "AT", at.SuccessTokens, nil, 5*time.Second)
		assert.Equal(t, modem.TimedOut, out.Kind)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("Shutdown resolves a pending command", func(t *testing.T) {
		h := startHarness(t)
		pending := h.execAsync("AT+CSQ", 5*time.Second)
		h.waitWrites(t, 1)

		h.cancel()
		r := wait(t, pending)
		assert.Equal(t, modem.TimedOut, r.out.Kind)
		assert.ErrorIs(t, r.err, modem.ErrStopped)
	})

	t.Run("Link failure resolves a pending command", func(t *testing.T) {
		h := startHarness(t)
		pending := h.execAsync("AT+CSQ", 5*time.Second)
		h.waitWrites(t, 1)

		h.fake.FailReads(errors.New("unplugged"))
		r := wait(t, pending)
		assert.Equal(t, modem.TimedOut, r.out.Kind)
		var linkErr *link.Error
		assert.ErrorAs(t, r.err, &linkErr)
	})

	t.Run("Write failure", func(t *testing.T) {
		h := startHarness(t)
		h.fake.FailWrites(errors.New("tx fifo stuck"))

		_, err := h.Execute(context.Background(), "AT", at.SuccessTokens, nil, time.Second)
		var linkErr *link.Error
		require.ErrorAs(t, err, &linkErr)
		assert.Equal(t, "write", linkErr.Op)
	})
}

func TestExpect(t *testing.T) {
	h := startHarness(t)
	NewScript().
		On("AT+CGMR", "\r\n+CGMR: LE20B04SIM7600M22\r\n\r\nOK\r\n").
		On("AT+CFUN=7", "\r\nERROR\r\n").
		Attach(h.fake)

	resp, err := h.ExpectOK(context.Background(), "AT+CGMR")
	require.NoError(t, err)
	assert.Equal(t, "+CGMR: LE20B04SIM7600M22\nOK", resp)

	_, err = h.ExpectOK(context.Background(), "AT+CFUN=7")
	assert.ErrorIs(t, err, modem.ErrFatalResponse)

	_, err = h.ExpectOK(context.Background(), "AT+SILENT")
	assert.ErrorIs(t, err, modem.ErrTimeout)
}

func TestTelemetry(t *testing.T) {
	t.Run("Sentences arrive on the telemetry channel", func(t *testing.T) {
		h := startHarness(t)
		h.fake.Feed(gga)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		buf, err := h.ReceiveTelemetry(ctx)
		require.NoError(t, err)
		assert.Equal(t, gga, string(buf.Bytes()))
		require.NoError(t, h.Release(buf))
	})

	t.Run("Interleaved with a command", func(t *testing.T) {
		h := startHarness(t)
		NewScript().On("AT+CSQ", gga, "\r\n+CSQ: 18,99\r\n\r\nOK\r\n").Attach(h.fake)

		out, err := h.Execute(context.Background(), "AT+CSQ", at.SuccessTokens, at.FailureTokens, time.Second)
		require.NoError(t, err)
		assert.Equal(t, modem.Matched, out.Kind)
		assert.NotContains(t, out.Captured, "$GPGGA")

		buf, err := h.TryReceiveTelemetry(time.Second)
		require.NoError(t, err)
		require.NotNil(t, buf)
		assert.Equal(t, gga, string(buf.Bytes()))
		require.NoError(t, h.Release(buf))

		snap := h.Stats()
		assert.Equal(t, uint64(1), snap.ChunksTelemetry)
		assert.Equal(t, uint64(1), snap.ChunksResponse)
	})

	t.Run("TryReceiveTelemetry times out empty", func(t *testing.T) {
		h := startHarness(t)
		buf, err := h.TryReceiveTelemetry(20 * time.Millisecond)
		assert.NoError(t, err)
		assert.Nil(t, buf)
	})

	t.Run("Receivers are released on shutdown", func(t *testing.T) {
		h := startHarness(t)
		errc := make(chan error, 1)
		go func() {
			_, err := h.ReceiveTelemetry(context.Background())
			errc <- err
		}()

		h.cancel()
		select {
		case err := <-errc:
			assert.ErrorIs(t, err, modem.ErrStopped)
		case <-time.After(time.Second):
			t.Fatal("receiver still blocked")
		}
	})
}

func TestURC(t *testing.T) {
	t.Run("Dispatch URCs to the designated channel", func(t *testing.T) {
		h := startHarness(t)
		h.fake.Feed("\r\n+CMQTTCONNLOST: 0,1\r\n")

		select {
		case urc := <-h.URC():
			assert.Equal(t, "+CMQTTCONNLOST: 0,1", urc)
		case <-time.After(time.Second):
			t.Fatal("URC not dispatched")
		}
		assert.Equal(t, uint64(1), h.Stats().URCsDispatched)
	})

	t.Run("URCs during a command are not captured", func(t *testing.T) {
		h := startHarness(t)
		NewScript().On("AT+CSQ", "\r\n+CMTI: \"SM\",3\r\n\r\n+CSQ: 20,99\r\n\r\nOK\r\n").Attach(h.fake)

		out, err := h.Execute(context.Background(), "AT+CSQ", at.SuccessTokens, at.FailureTokens, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "+CSQ: 20,99\nOK", out.Captured)

		select {
		case urc := <-h.URC():
			assert.Equal(t, "+CMTI: \"SM\",3", urc)
		case <-time.After(time.Second):
			t.Fatal("URC not dispatched")
		}
	})
}

func TestCollector(t *testing.T) {
	h := startHarness(t)
	assert.NotNil(t, h.Collector())
}
