package at

import (
	"bufio"
	"bytes"
	"strings"
)

// Splitter is used for tokenizing AT command modem responses. It uses
// the signature of bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// It splits the input by CRLF line endings and also recognizes the payload
// input prompt ("> ") that the modem sends without a line ending.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// 1. Match payload prompt
	if bytes.HasPrefix(data, []byte(Prompt+" ")) {
		return len(Prompt) + 1, data[0:len(Prompt)], nil
	}

	// 2. Match standard line ending with CRLF
	if i := bytes.Index(data, []byte(CRLF)); i >= 0 {
		return i + len(CRLF), data[0:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

var urcPrefixes = []string{
	UrcNewMsg,
	UrcMQTTConnLost,
	UrcMQTTRxStart,
	UrcMQTTRxTopic,
	UrcMQTTRxPayld,
	UrcMQTTRxEnd,
}

// Classify identifies the nature of one line of modem output.
func Classify(line string) ResponseType {
	line = strings.TrimSpace(line)
	if line == Prompt {
		return TypePrompt
	}

	// Direct matches for final results
	switch line {
	case OK, ERROR, NoCarrier, NoDialtone, Busy, NoAnswer:
		return TypeFinal
	case UrcCall, UrcPowerDown, UrcPBDone:
		return TypeURC
	}

	// Prefix matches
	switch {
	case strings.HasPrefix(line, CmeError), strings.HasPrefix(line, CmsError):
		return TypeFinal
	case len(line) >= 2 && strings.EqualFold(line[:2], CommandPrefix):
		return TypeEcho
	}
	for _, prefix := range urcPrefixes {
		if strings.HasPrefix(line, prefix) {
			return TypeURC
		}
	}
	return TypeData
}

// Lines splits text into its non-empty CRLF (or bare LF) terminated lines.
// A trailing line without terminator is included.
func Lines(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '\r' || r == '\n'
	})
}
