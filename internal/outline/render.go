package outline

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
)

// Markdown renders the tree as nested bullets. Citations are numbered in
// order of first use and listed after the outline.
func (t *Tree) Markdown() string {
	snap := t.Snapshot()

	var b strings.Builder
	var order []string
	number := make(map[string]int)

	var walk func(items []*Item, depth int)
	walk = func(items []*Item, depth int) {
		for _, it := range items {
			b.WriteString(strings.Repeat("  ", depth))
			b.WriteString("- ")
			if it.Source == SourceQuestion {
				b.WriteString("**Q:** ")
			}
			b.WriteString(it.BulletPoint)
			for _, cid := range it.CitationIDs {
				n, ok := number[cid]
				if !ok {
					order = append(order, cid)
					n = len(order)
					number[cid] = n
				}
				fmt.Fprintf(&b, " [%d]", n)
			}
			b.WriteByte('\n')
			walk(it.Children, depth+1)
		}
	}
	walk(snap.Items, 0)

	if len(order) > 0 {
		b.WriteString("\n## Sources\n\n")
		for i, cid := range order {
			fmt.Fprintf(&b, "%d. %s\n", i+1, oneLine(snap.Citations[cid]))
		}
	}
	return b.String()
}

// HTML renders Markdown through goldmark.
func (t *Tree) HTML() (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(t.Markdown()), &buf); err != nil {
		return "", fmt.Errorf("rendering outline: %w", err)
	}
	return buf.String(), nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
