package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// itemLabel picks the display name of a board item value.
func itemLabel(value map[string]any) string {
	for _, k := range []string{"concept", "name", "src"} {
		if s, ok := value[k].(string); ok && s != "" {
			return s
		}
	}
	return "(unnamed)"
}

// printItem writes one board entry as "id  name  description".
func printItem(w io.Writer, id string, pinned bool, value map[string]any) {
	mark := " "
	if pinned {
		mark = "*"
	}
	fmt.Fprintf(w, "%s %s  %s\n", mark, colorize(colorDim, id), colorize(colorBold, itemLabel(value)))
	if d, ok := value["description"].(string); ok && d != "" {
		fmt.Fprintf(w, "    %s\n", d)
	}
	if u, ok := value["imageUrl"].(string); ok && u != "" {
		fmt.Fprintf(w, "    %s\n", colorize(colorCyan, u))
	}
}
