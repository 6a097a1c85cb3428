package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrParse is the sentinel wrapped by every ParseError.
var ErrParse = errors.New("llm: unparseable response")

// ParseError describes model output that is not valid JSON of the expected
// shape or fails validation.
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse model output: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// Parsed is either a decoded value or a parse failure carrying the raw text.
type Parsed[T any] struct {
	Value T
	Raw   string
	Err   *ParseError
}

// OK reports whether parsing and validation succeeded.
func (p Parsed[T]) OK() bool { return p.Err == nil }

// ParseJSON extracts a JSON value from raw model output, tolerating code
// fences and surrounding prose, then runs validate on it.
func ParseJSON[T any](raw string, validate func(T) error) Parsed[T] {
	out := Parsed[T]{Raw: raw}
	body := extractJSON(raw)
	if body == "" {
		out.Err = &ParseError{Raw: raw, Reason: "no JSON value found"}
		return out
	}
	var v T
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		out.Err = &ParseError{Raw: raw, Reason: err.Error()}
		return out
	}
	if validate != nil {
		if err := validate(v); err != nil {
			out.Err = &ParseError{Raw: raw, Reason: "invalid: " + err.Error()}
			return out
		}
	}
	out.Value = v
	return out
}

func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			s = strings.TrimSpace(rest[:j])
		}
	}
	if json.Valid([]byte(s)) {
		return s
	}
	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return ""
	}
	return s[start : end+1]
}
