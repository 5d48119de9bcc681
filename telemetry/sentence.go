// Package telemetry reassembles NMEA 0183 sentences from the telemetry
// sub-stream of a shared modem link.
package telemetry

import (
	"fmt"
	"strconv"
	"strings"
)

// Sentence is one NMEA 0183 sentence.
type Sentence struct {
	// Raw is the sentence from '$' through the checksum, without CRLF.
	Raw string
	// Talker is the two letter source ("GP", "GN", "GL"), or "P" for
	// proprietary sentences.
	Talker string
	// Type is the sentence formatter ("GGA", "RMC").
	Type string
	// Fields are the comma separated data fields after the address.
	Fields []string
	// Checksum is the transmitted checksum; HasChecksum is false for
	// sentences sent without one.
	Checksum    byte
	HasChecksum bool
}

// Address returns the talker and type as transmitted, e.g. "GPGGA".
func (s Sentence) Address() string {
	return s.Talker + s.Type
}

func (s Sentence) String() string {
	return s.Raw
}

// Checksum computes the NMEA checksum of body, the bytes between '$' and '*'.
func Checksum(body string) byte {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return sum
}

// Parse parses a single sentence. Trailing CR and LF are ignored. A
// present checksum must match.
func Parse(line string) (Sentence, error) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "$") {
		return Sentence{}, fmt.Errorf("%q: %w", line, ErrNoStart)
	}

	s := Sentence{Raw: line}
	body := line[1:]
	if star := strings.LastIndexByte(body, '*'); star >= 0 {
		sum, err := strconv.ParseUint(body[star+1:], 16, 8)
		if err != nil || len(body)-star-1 != 2 {
			return Sentence{}, fmt.Errorf("checksum field of %q: %w", line, ErrMalformed)
		}
		body = body[:star]
		s.Checksum = byte(sum)
		s.HasChecksum = true
		if got := Checksum(body); got != s.Checksum {
			return Sentence{}, fmt.Errorf("%q: computed %02X, sent %02X: %w", line, got, s.Checksum, ErrChecksum)
		}
	}

	fields := strings.Split(body, ",")
	address := fields[0]
	switch {
	case strings.HasPrefix(address, "P") && len(address) > 1:
		s.Talker, s.Type = "P", address[1:]
	case len(address) >= 3:
		s.Talker, s.Type = address[:2], address[2:]
	default:
		return Sentence{}, fmt.Errorf("address %q: %w", address, ErrMalformed)
	}
	s.Fields = fields[1:]
	return s, nil
}
