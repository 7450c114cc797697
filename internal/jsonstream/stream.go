package jsonstream

import (
	"encoding/json"
	"iter"

	"github.com/tidwall/gjson"
)

// Elements turns a sequence of text deltas into the sequence of array
// element objects they contain. The first delta error, syntax error, or
// truncation ends the sequence with that error. The result is lazy and
// single-use, like the delta sequence it consumes.
func Elements(deltas iter.Seq2[string, error]) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		var s Scanner
		for delta, err := range deltas {
			if err != nil {
				yield(nil, err)
				return
			}
			elems, werr := s.Write([]byte(delta))
			for _, e := range elems {
				if !yield(e, nil) {
					return
				}
			}
			if werr != nil {
				yield(nil, werr)
				return
			}
		}
		if err := s.Close(); err != nil {
			yield(nil, err)
		}
	}
}

// Decode decodes every element accepted by valid into T. Elements that fail
// the check or do not unmarshal into T are dropped.
func Decode[T any](deltas iter.Seq2[string, error], valid func(json.RawMessage) bool) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for raw, err := range Elements(deltas) {
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if valid != nil && !valid(raw) {
				continue
			}
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				continue
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Has returns a check that accepts elements where every path is present and
// truthy: non-empty strings, non-zero numbers, true, objects and arrays.
func Has(paths ...string) func(json.RawMessage) bool {
	return func(raw json.RawMessage) bool {
		for _, r := range gjson.GetManyBytes(raw, paths...) {
			if !truthy(r) {
				return false
			}
		}
		return true
	}
}

func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.String:
		return r.Str != ""
	case gjson.Number:
		return r.Num != 0
	case gjson.True, gjson.JSON:
		return true
	default:
		return false
	}
}
