package jsonstream

import (
	"encoding/json"
	"errors"
	"iter"
	"strings"
	"testing"
)

func deltasOf(parts ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, p := range parts {
			if !yield(p, nil) {
				return
			}
		}
	}
}

func splitEvery(s string, n int) []string {
	var parts []string
	for len(s) > n {
		parts = append(parts, s[:n])
		s = s[n:]
	}
	return append(parts, s)
}

func collect(t *testing.T, seq iter.Seq2[json.RawMessage, error]) ([]string, error) {
	t.Helper()
	var got []string
	for raw, err := range seq {
		if err != nil {
			return got, err
		}
		got = append(got, string(raw))
	}
	return got, nil
}

func TestScanner_EmitsArrayElements(t *testing.T) {
	doc := `{"concepts":[{"concept":"Orbit","description":"circular path"},{"concept":"Weightlessness","description":"no \"up\" or down"}]}`

	for _, size := range []int{1, 2, 3, 7, len(doc)} {
		got, err := collect(t, Elements(deltasOf(splitEvery(doc, size)...)))
		if err != nil {
			t.Fatalf("chunk size %d: unexpected error: %v", size, err)
		}
		if len(got) != 2 {
			t.Fatalf("chunk size %d: got %d elements, want 2: %v", size, len(got), got)
		}
		if got[0] != `{"concept":"Orbit","description":"circular path"}` {
			t.Errorf("chunk size %d: first = %s", size, got[0])
		}
		if got[1] != `{"concept":"Weightlessness","description":"no \"up\" or down"}` {
			t.Errorf("chunk size %d: second = %s", size, got[1])
		}
	}
}

func TestScanner_NestedElementsCompleteFirst(t *testing.T) {
	doc := `[{"name":"outer","items":[{"name":"inner"}]}]`

	got, err := collect(t, Elements(deltasOf(doc)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{`{"name":"inner"}`, `{"name":"outer","items":[{"name":"inner"}]}`}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestScanner_IgnoresObjectsOutsideArrays(t *testing.T) {
	doc := `{"meta":{"a":1},"list":[1,"two",{"x":"}]"}]}`

	got, err := collect(t, Elements(deltasOf(doc)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != `{"x":"}]"}` {
		t.Errorf("got %v, want only the object element", got)
	}
}

func TestScanner_MultiByteRunesSplit(t *testing.T) {
	doc := `[{"name":"Café ☕","description":"naïve"}]`
	b := []byte(doc)

	var s Scanner
	var got []json.RawMessage
	for i := range b {
		elems, err := s.Write(b[i : i+1])
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
		got = append(got, elems...)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d elements, want 1", len(got))
	}
	var v struct{ Name string }
	if err := json.Unmarshal(got[0], &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.Name != "Café ☕" {
		t.Errorf("Name = %q", v.Name)
	}
}

func TestScanner_Malformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unbalanced closer", `[{"a":1}]]`},
		{"mismatched closer", `[{"a":1]`},
		{"bare text", `hello`},
		{"garbage char", `[{"a":1}, #]`},
		{"second root", `[] []`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := collect(t, Elements(deltasOf(tt.doc)))
			var synErr *SyntaxError
			if !errors.As(err, &synErr) {
				t.Fatalf("err = %v, want *SyntaxError", err)
			}
		})
	}
}

func TestScanner_StaysFailed(t *testing.T) {
	var s Scanner
	if _, err := s.Write([]byte(`]`)); err == nil {
		t.Fatal("expected error")
	}
	if _, err := s.Write([]byte(`[{"a":1}]`)); err == nil {
		t.Fatal("expected scanner to stay failed")
	}
}

func TestScanner_KeepsElementsBeforeError(t *testing.T) {
	got, err := collect(t, Elements(deltasOf(`[{"a":1},{"b":2}`, `}`)))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(got) != 2 {
		t.Errorf("got %d elements before error, want 2", len(got))
	}
}

func TestElements_Truncated(t *testing.T) {
	got, err := collect(t, Elements(deltasOf(`{"items":[{"a":"x"},{"a":"y`)))
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d elements, want 1", len(got))
	}
}

func TestElements_DeltaError(t *testing.T) {
	boom := errors.New("connection reset")
	deltas := func(yield func(string, error) bool) {
		if !yield(`[{"a":"1"},`, nil) {
			return
		}
		yield("", boom)
	}

	got, err := collect(t, Elements(deltas))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if len(got) != 1 {
		t.Errorf("got %d elements, want 1", len(got))
	}
}

func TestElements_StopsEarly(t *testing.T) {
	pulled := 0
	deltas := func(yield func(string, error) bool) {
		for _, p := range []string{`[{"a":1},`, `{"a":2},`, `{"a":3}]`} {
			pulled++
			if !yield(p, nil) {
				return
			}
		}
	}

	for range Elements(deltas) {
		break
	}
	if pulled != 1 {
		t.Errorf("pulled %d deltas, want 1", pulled)
	}
}

type concept struct {
	Concept     string `json:"concept"`
	Description string `json:"description"`
}

func TestDecode_DropsInvalidShapes(t *testing.T) {
	doc := `{"concepts":[` +
		`{"concept":"Orbit","description":"path"},` +
		`{"concept":"","description":"no name"},` +
		`{"concept":"Drift"},` +
		`{"concept":"Tether","description":"line"}]}`

	var got []string
	for c, err := range Decode[concept](deltasOf(splitEvery(doc, 5)...), Has("concept", "description")) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, c.Concept)
	}
	if strings.Join(got, ",") != "Orbit,Tether" {
		t.Errorf("got %v, want [Orbit Tether]", got)
	}
}

func TestHas(t *testing.T) {
	check := Has("name", "parameterAssignments")
	tests := []struct {
		raw  string
		want bool
	}{
		{`{"name":"A","parameterAssignments":{"Color":"red"}}`, true},
		{`{"name":"A","parameterAssignments":{}}`, true},
		{`{"name":"A"}`, false},
		{`{"name":"","parameterAssignments":{}}`, false},
		{`{"name":"A","parameterAssignments":null}`, false},
	}
	for _, tt := range tests {
		if got := check(json.RawMessage(tt.raw)); got != tt.want {
			t.Errorf("Has(%s) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
