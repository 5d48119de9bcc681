package telemetry

import "errors"

var (
	// ErrNoStart is returned by Parse for a line that does not begin with '$'.
	ErrNoStart = errors.New("sentence does not start with '$'")

	// ErrChecksum is returned by Parse when the *hh checksum does not match
	// the sentence body. Such sentences were usually torn by a dropped chunk.
	ErrChecksum = errors.New("checksum mismatch")

	// ErrMalformed is returned by Parse for a sentence without an address
	// field or with an unreadable checksum.
	ErrMalformed = errors.New("malformed sentence")
)
