// Package stream decides which logical sub-stream a raw chunk read from the
// shared link belongs to.
package stream

import (
	"bytes"
	"fmt"
	"slices"

	"i4.energy/across/linkmux/at"
)

// Classification is the sub-stream a chunk is routed to.
type Classification int

const (
	Unknown Classification = iota
	Telemetry
	CommandResponse
	CommandEcho
)

func (c Classification) String() string {
	switch c {
	case Telemetry:
		return "telemetry"
	case CommandResponse:
		return "command-response"
	case CommandEcho:
		return "command-echo"
	case Unknown:
		return "unknown"
	default:
		return fmt.Sprintf("Classification(%d)", int(c))
	}
}

// IsCommand reports whether the chunk belongs on the command sub-stream.
func (c Classification) IsCommand() bool {
	return c == CommandResponse || c == CommandEcho
}

// Thresholds calibrates the telemetry heuristics.
type Thresholds struct {
	// MarkerWindow is how far into the chunk a '$' sentence start is looked for.
	MarkerWindow int
	// SampleWindow is the prefix inspected by the fragment heuristic.
	SampleWindow int
	// MinPrintable is the number of printable bytes the sample must hold
	// before the fragment heuristic is trusted.
	MinPrintable int
	// PlausibleRatio is the share of printable bytes that must be
	// telemetry characters.
	PlausibleRatio float64
	// RequireSeparator additionally requires a ',' or '*' in the sample, which
	// keeps short upper-case command echoes such as "ATE0" out of telemetry.
	RequireSeparator bool
	// CommandSyntax lists bytes that never occur in a sentence body but do
	// occur in command lines and information responses ("AT+CMQTTTOPIC=0,9",
	// "+CMQTTCONNECT: 0,0"). A sample whose first line holds any of them is
	// not a fragment. Later lines may be a response interleaved after the
	// sentence tail and do not veto.
	CommandSyntax string
}

// DefaultThresholds are calibrated for NMEA 0183 sentences interleaved with
// SIMCom AT traffic.
var DefaultThresholds = Thresholds{
	MarkerWindow:     10,
	SampleWindow:     32,
	MinPrintable:     6,
	PlausibleRatio:   0.8,
	RequireSeparator: true,
	CommandSyntax:    `+=:?"`,
}

// bareTokens are final result codes, the RING indication and the data
// prompt, which arrive without a '+' prefix.
var bareTokens = func() [][]byte {
	var tokens [][]byte
	for _, tok := range slices.Concat(at.BareTokens, []string{at.UrcCall}) {
		tokens = append(tokens, []byte(tok))
	}
	return tokens
}()

// Classifier classifies chunks with a fixed set of thresholds. The zero
// value uses DefaultThresholds.
type Classifier struct {
	Thresholds Thresholds
}

// NewClassifier returns a classifier using t.
func NewClassifier(t Thresholds) *Classifier {
	return &Classifier{Thresholds: t}
}

// Classify returns the classification of chunk using DefaultThresholds.
func Classify(chunk []byte) Classification {
	return classify(chunk, DefaultThresholds)
}

// Classify returns the classification of chunk. It is a pure function of
// the chunk and the thresholds.
func (c *Classifier) Classify(chunk []byte) Classification {
	t := c.Thresholds
	if t == (Thresholds{}) {
		t = DefaultThresholds
	}
	return classify(chunk, t)
}

func classify(chunk []byte, t Thresholds) Classification {
	if len(chunk) == 0 {
		return Unknown
	}

	if bytes.IndexByte(window(chunk, t.MarkerWindow), at.SentenceMarker) >= 0 {
		return Telemetry
	}

	if isFragment(window(chunk, t.SampleWindow), t) {
		return Telemetry
	}

	head := bytes.TrimLeft(chunk, " \r\n")
	if len(head) == 0 {
		return Unknown
	}

	if head[0] == at.ResponseMarker {
		return CommandResponse
	}

	if len(head) >= len(at.CommandPrefix) && bytes.EqualFold(head[:len(at.CommandPrefix)], []byte(at.CommandPrefix)) {
		return CommandEcho
	}

	for _, tok := range bareTokens {
		if bytes.HasPrefix(head, tok) {
			return CommandResponse
		}
	}

	return Unknown
}

// isFragment recognises the tail of a sentence whose '$' was consumed by an
// earlier read. CR and LF are neither counted as printable nor as evidence
// against telemetry.
func isFragment(sample []byte, t Thresholds) bool {
	line := firstLine(sample)
	if bytes.ContainsAny(line, t.CommandSyntax) || isBareToken(line) {
		return false
	}

	var printable, plausible int
	separator := false
	for _, b := range sample {
		if b < 0x20 || b > 0x7e {
			continue
		}
		printable++
		if telemetryByte(b) {
			plausible++
		}
		if b == ',' || b == '*' {
			separator = true
		}
	}

	if printable < t.MinPrintable {
		return false
	}
	if float64(plausible) < t.PlausibleRatio*float64(printable) {
		return false
	}
	return separator || !t.RequireSeparator
}

func telemetryByte(b byte) bool {
	switch {
	case b >= '0' && b <= '9':
		return true
	case b >= 'A' && b <= 'Z':
		return true
	case b == ',' || b == '.' || b == '*':
		return true
	}
	return false
}

// firstLine returns the first line of b, skipping leading line endings.
func firstLine(b []byte) []byte {
	b = bytes.TrimLeft(b, "\r\n")
	if i := bytes.IndexAny(b, "\r\n"); i >= 0 {
		return b[:i]
	}
	return b
}

func isBareToken(line []byte) bool {
	line = bytes.TrimSpace(line)
	for _, tok := range bareTokens {
		if bytes.Equal(line, tok) {
			return true
		}
	}
	return false
}

func window(chunk []byte, n int) []byte {
	if n < len(chunk) {
		return chunk[:n]
	}
	return chunk
}
