// Package jsonstream extracts array elements from JSON text that arrives in
// arbitrary fragments, such as the deltas of a streaming model response.
package jsonstream

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrTruncated is returned when the input ends inside an open value.
var ErrTruncated = errors.New("json input ended inside an open value")

// SyntaxError reports a byte that cannot appear at its position.
type SyntaxError struct {
	Offset int64
	Char   byte
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("json syntax error at offset %d (%q): %s", e.Offset, e.Char, e.Msg)
}

type frame struct {
	kind  byte // '{' or '['
	start int  // index in buf where a captured object starts, -1 if not captured
}

// Scanner is an incremental JSON tokenizer. Every object that is a direct
// element of an array, at any nesting depth, is returned as soon as its
// closing brace has been written. Nested captures complete before their
// parents, so results come back in completion order.
//
// A Scanner is not safe for concurrent use. After an error it stays failed.
type Scanner struct {
	stack    []frame
	buf      []byte
	inString bool
	escape   bool
	closed   bool // a top-level container has been closed
	offset   int64
	err      error
}

// Write feeds p to the scanner and returns the elements completed by it.
// Elements completed before a syntax error are still returned.
func (s *Scanner) Write(p []byte) ([]json.RawMessage, error) {
	if s.err != nil {
		return nil, s.err
	}

	var out []json.RawMessage
	for _, c := range p {
		s.offset++
		if s.capturing() {
			s.buf = append(s.buf, c)
		}

		if s.inString {
			switch {
			case s.escape:
				s.escape = false
			case c == '\\':
				s.escape = true
			case c == '"':
				s.inString = false
			}
			continue
		}

		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '"':
			if err := s.requireOpen(c); err != nil {
				return out, err
			}
			s.inString = true
		case '{', '[':
			if s.closed {
				return out, s.fail(c, "data after top-level value")
			}
			f := frame{kind: c, start: -1}
			if c == '{' && s.top() == '[' {
				if !s.capturing() {
					s.buf = append(s.buf[:0], c)
				}
				f.start = len(s.buf) - 1
			}
			s.stack = append(s.stack, f)
		case '}', ']':
			if len(s.stack) == 0 {
				return out, s.fail(c, "unbalanced closing bracket")
			}
			f := s.stack[len(s.stack)-1]
			if (c == '}' && f.kind != '{') || (c == ']' && f.kind != '[') {
				return out, s.fail(c, "mismatched closing bracket")
			}
			s.stack = s.stack[:len(s.stack)-1]
			if f.start >= 0 {
				elem := make(json.RawMessage, len(s.buf)-f.start)
				copy(elem, s.buf[f.start:])
				out = append(out, elem)
			}
			if len(s.stack) == 0 {
				s.closed = true
			}
			if !s.capturing() {
				s.buf = s.buf[:0]
			}
		case ',', ':':
			if err := s.requireOpen(c); err != nil {
				return out, err
			}
		default:
			if !isLiteralByte(c) {
				return out, s.fail(c, "unexpected character")
			}
			if err := s.requireOpen(c); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

// Close reports whether the input ended cleanly. Input that stopped inside
// an open container or string yields ErrTruncated.
func (s *Scanner) Close() error {
	if s.err != nil {
		return s.err
	}
	if len(s.stack) > 0 || s.inString {
		return ErrTruncated
	}
	return nil
}

func (s *Scanner) top() byte {
	if len(s.stack) == 0 {
		return 0
	}
	return s.stack[len(s.stack)-1].kind
}

func (s *Scanner) capturing() bool {
	for i := range s.stack {
		if s.stack[i].start >= 0 {
			return true
		}
	}
	return false
}

// requireOpen rejects tokens that appear outside any container. Bare
// top-level scalars carry no elements, so they are treated as malformed.
func (s *Scanner) requireOpen(c byte) error {
	if len(s.stack) == 0 {
		return s.fail(c, "value outside of a container")
	}
	return nil
}

func (s *Scanner) fail(c byte, msg string) error {
	s.err = &SyntaxError{Offset: s.offset - 1, Char: c, Msg: msg}
	return s.err
}

func isLiteralByte(c byte) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c == '-' || c == '+' || c == '.':
		return true
	}
	return false
}
