// Package verdict recovers the structured payload embedded in a chat reply.
//
// The chat application sometimes answers with the JSON object inline, and
// sometimes with the object serialized as a quoted string literal (quotes,
// newlines and backslashes escaped), usually behind a line of prose.
package verdict

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"gardenbot/internal/domain"
)

var errNoObject = errors.New("no JSON object in reply")

// Extract parses the first JSON object found in raw.
func Extract(raw string) (domain.Verdict, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return nil, domain.NewError(domain.KindVerdictMalformed, "extract verdict", errNoObject)
	}
	candidate := raw[start:]

	wrapped := false
	if start > 0 && isQuote(raw[start-1]) {
		q := raw[start-1]
		trimmed := strings.TrimRightFunc(candidate, isSpace)
		if strings.HasSuffix(trimmed, string(q)) {
			candidate = trimmed[:len(trimmed)-1]
			wrapped = true
		}
	}

	// A quoted payload is most likely escaped; a bare one most likely clean.
	attempts := []string{candidate, Unescape(candidate)}
	if wrapped {
		attempts[0], attempts[1] = attempts[1], attempts[0]
	}

	var firstErr error
	for _, s := range attempts {
		v, err := decodeObject(s)
		if err == nil {
			return v, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, domain.NewError(domain.KindVerdictMalformed, "extract verdict", firstErr)
}

// Unescape reverses the string-literal escaping the chat application applies:
// \" becomes ", \n is dropped and \\ becomes \. Sequences are read left to
// right so an escaped backslash is never re-read as the start of another escape.
func Unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		switch s[i+1] {
		case '"':
			b.WriteByte('"')
			i++
		case 'n':
			i++
		case '\\':
			b.WriteByte('\\')
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// decodeObject reads one JSON object from the front of s and ignores whatever follows.
func decodeObject(s string) (domain.Verdict, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	var v domain.Verdict
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errNoObject
	}
	return v, nil
}

func isQuote(c byte) bool { return c == '"' || c == '\'' }

func isSpace(r rune) bool { return r == ' ' || r == '\n' || r == '\t' || r == '\r' }
