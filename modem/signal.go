package modem

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"i4.energy/across/linkmux/at"
)

const signalPrefix = "+CSQ:"

// Signal is the radio signal report from AT+CSQ.
type Signal struct {
	// RSSI is 0..31, or 99 when not known or not detectable.
	RSSI int
	// BER is the bit error rate class 0..7, or 99 when not known.
	BER int
}

// DBm converts RSSI to dBm. ok is false when the modem reported no signal.
func (s Signal) DBm() (dbm int, ok bool) {
	if s.RSSI < 0 || s.RSSI > 31 {
		return 0, false
	}
	return -113 + 2*s.RSSI, true
}

// ParseSignalQuality extracts the signal report from an AT+CSQ response.
func ParseSignalQuality(resp string) (Signal, error) {
	for _, line := range at.Lines(resp) {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, signalPrefix) {
			continue
		}
		rssi, ber, found := strings.Cut(strings.TrimSpace(strings.TrimPrefix(line, signalPrefix)), ",")
		if !found {
			break
		}
		r, err := strconv.Atoi(strings.TrimSpace(rssi))
		if err != nil {
			return Signal{}, fmt.Errorf("rssi in %q: %w", line, ErrUnexpectedResponse)
		}
		b, err := strconv.Atoi(strings.TrimSpace(ber))
		if err != nil {
			return Signal{}, fmt.Errorf("ber in %q: %w", line, ErrUnexpectedResponse)
		}
		return Signal{RSSI: r, BER: b}, nil
	}
	return Signal{}, fmt.Errorf("no %s line in %q: %w", signalPrefix, resp, ErrUnexpectedResponse)
}

// SignalQuality queries and parses AT+CSQ.
func (m *Modem) SignalQuality(ctx context.Context) (Signal, error) {
	resp, err := m.ExpectOK(ctx, at.CmdSignalQuality)
	if err != nil {
		return Signal{}, err
	}
	return ParseSignalQuality(resp)
}
