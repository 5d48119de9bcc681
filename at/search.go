package at

import "strings"

// MatchKind tells which token set a Search hit came from.
type MatchKind int

const (
	NoMatch MatchKind = iota
	AcceptMatch
	FatalMatch
)

func (k MatchKind) String() string {
	switch k {
	case AcceptMatch:
		return "accept"
	case FatalMatch:
		return "fatal"
	default:
		return "none"
	}
}

// Match is the result of Search.
type Match struct {
	Kind  MatchKind
	Token string
	// Index is the byte offset of Token in the searched text.
	Index int
}

// End returns the offset just past the matched token.
func (m Match) End() int {
	return m.Index + len(m.Token)
}

// LineEnd returns the offset of the line ending that follows the match, or
// len(text) when the line is not terminated yet.
func (m Match) LineEnd(text string) int {
	if m.Kind == NoMatch {
		return 0
	}
	if i := strings.IndexAny(text[m.End():], "\r\n"); i >= 0 {
		return m.End() + i
	}
	return len(text)
}

// Search looks for the earliest boundary-delimited occurrence of any accept
// or fatal token in text.
//
// A token is delimited when the byte before it is the start of text or
// whitespace (space, tab, CR, LF) and the byte after it is the end of text or
// whitespace. This accepts a token on its own line as well as a token that
// follows an echoed command in the same chunk, and rejects tokens embedded
// in longer words ("OK" inside "BOOK123").
//
// The earliest position wins. When an accept and a fatal token start at the
// same position the fatal token wins.
func Search(text string, accept, fatal []string) Match {
	best := Match{Kind: NoMatch, Index: -1}
	consider := func(kind MatchKind, tokens []string) {
		for _, token := range tokens {
			idx := FindToken(text, token)
			if idx < 0 {
				continue
			}
			switch {
			case best.Index < 0, idx < best.Index:
				best = Match{Kind: kind, Token: token, Index: idx}
			case idx == best.Index && kind == FatalMatch && best.Kind == AcceptMatch:
				best = Match{Kind: kind, Token: token, Index: idx}
			case idx == best.Index && kind == best.Kind && len(token) > len(best.Token):
				best = Match{Kind: kind, Token: token, Index: idx}
			}
		}
	}
	consider(AcceptMatch, accept)
	consider(FatalMatch, fatal)
	if best.Index < 0 {
		return Match{Kind: NoMatch, Index: -1}
	}
	return best
}

// FindToken returns the offset of the first boundary-delimited occurrence of
// token in text, or -1.
func FindToken(text, token string) int {
	if token == "" {
		return -1
	}
	from := 0
	for from <= len(text)-len(token) {
		i := strings.Index(text[from:], token)
		if i < 0 {
			return -1
		}
		start := from + i
		end := start + len(token)
		if (start == 0 || isBoundary(text[start-1])) && (end == len(text) || isBoundary(text[end])) {
			return start
		}
		from = start + 1
	}
	return -1
}

func isBoundary(b byte) bool {
	switch b {
	case ' ', '\t', '\r', '\n':
		return true
	}
	return false
}
