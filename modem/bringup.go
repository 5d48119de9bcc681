package modem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"i4.energy/across/linkmux/at"
)

// BringUp runs the modem initialisation sequence through the correlator:
// sanity check, echo off, verbose errors, SIM unlock, signal report and,
// when enabled, GNSS power with NMEA output on the shared port.
//
// The loop must be running (Loop or Start). Each step is retried with
// exponential backoff when it times out; a fatal response fails the
// sequence at once.
func (m *Modem) BringUp(ctx context.Context) error {
	if m.config.initTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.initTimeout)
		defer cancel()
	}

	// 1. Wake-up / sanity check
	if _, err := m.retry(ctx, at.CmdAt); err != nil {
		return fmt.Errorf("modem not responding: %w", err)
	}

	if _, err := m.retry(ctx, at.CmdEchoOff); err != nil {
		return fmt.Errorf("could not disable echo: %w", err)
	}

	if _, err := m.retry(ctx, at.CmdVerboseErrors); err != nil {
		return fmt.Errorf("could not enable verbose errors: %w", err)
	}

	// 4. Check SIM status
	simStatus, err := m.retry(ctx, at.CmdSimStatus)
	if err != nil {
		return fmt.Errorf("query SIM status: %w", err)
	}

	switch {
	case strings.Contains(simStatus, at.SimReady):
		// OK

	case strings.Contains(simStatus, at.SimPin):
		if m.config.simPIN == "" {
			return ErrSIMPinRequired
		}
		if _, err := m.ExpectOK(ctx, fmt.Sprintf(`AT+CPIN="%s"`, m.config.simPIN)); err != nil {
			return fmt.Errorf("enter SIM PIN: %w", err)
		}

		// Wait until SIM becomes ready
		if err := m.waitForSIMReady(ctx, m.config.simPoll); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unsupported SIM state: %q", simStatus)
	}
	m.logger.Info("SIM ready")

	// 5. Report signal; a weak signal is not fatal during bring-up.
	if sig, err := m.SignalQuality(ctx); err != nil {
		m.logger.Warn("signal quality unavailable", "error", err)
	} else if dbm, ok := sig.DBm(); ok {
		m.logger.Info("signal quality", "rssi", sig.RSSI, "dbm", dbm, "ber", sig.BER)
	} else {
		m.logger.Warn("signal not detectable", "rssi", sig.RSSI)
	}

	// 6. GNSS on the shared UART
	if m.config.enableGNSS {
		if _, err := m.retry(ctx, at.CmdGNSSPowerOn); err != nil {
			return fmt.Errorf("power on GNSS: %w", err)
		}
		if _, err := m.retry(ctx, at.CmdGNSSOutputOn); err != nil {
			return fmt.Errorf("enable NMEA output: %w", err)
		}
		m.logger.Info("GNSS output enabled")
	}

	return nil
}

// retry issues cmd expecting OK, retrying timeouts and a busy link with
// exponential backoff up to the configured number of attempts.
func (m *Modem) retry(ctx context.Context, cmd string) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	op := func() (string, error) {
		resp, err := m.ExpectOK(ctx, cmd)
		switch {
		case err == nil:
			return resp, nil
		case errors.Is(err, ErrTimeout), errors.Is(err, ErrTransactionBusy):
			return "", err
		default:
			return "", backoff.Permanent(err)
		}
	}
	notify := func(err error, next time.Duration) {
		m.logger.Debug("retrying command", "command", cmd, "error", err, "backoff", next)
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(m.config.maxRetries)),
		backoff.WithNotify(notify),
	)
}

// waitForSIMReady polls the SIM card status until it reports ready state.
// This is necessary after entering a SIM PIN, as the SIM card needs time
// to authenticate and become operational. Uses configurable polling interval
// and retry limits to avoid infinite waiting.
func (m *Modem) waitForSIMReady(ctx context.Context, config PollConfig) error {
	var (
		pollInterval = config.Interval
		timeout      = config.Timeout
		maxRetries   = config.MaxRetries
	)

	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = int(timeout / pollInterval)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	retries := 0

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("SIM not ready: %w", ctx.Err())
		case <-ticker.C:
			retries++
			if retries > maxRetries {
				return fmt.Errorf("SIM not ready after %d retries", maxRetries)
			}
			resp, err := m.ExpectOK(ctx, at.CmdSimStatus)
			if err != nil {
				// Fail fast on critical errors
				if errors.Is(err, ErrAlreadyClosed) || errors.Is(err, ErrNotInitialized) || m.life.Err() != nil {
					return fmt.Errorf("SIM status check failed: %w", err)
				}
				continue
			}
			if strings.Contains(resp, at.SimReady) {
				return nil
			}
		}
	}
}
