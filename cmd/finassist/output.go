package main

import (
	"fmt"
	"io"
	"os"

	"github.com/kalambet/finassist/internal/router"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
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

// renderResult writes a routed result for a terminal: the invoice table
// followed by its summary, or the answer text.
func renderResult(w io.Writer, res router.Result) {
	switch v := res.(type) {
	case router.Table:
		fmt.Fprintln(w, v.Markdown())
		if v.Summary != "" {
			fmt.Fprintln(w)
			fmt.Fprintln(w, v.Summary)
		}
	case router.Text:
		fmt.Fprintln(w, v.Content)
	case router.Info:
		fmt.Fprintln(w, colorize(colorYellow, v.Content))
	case router.Error:
		fmt.Fprintln(w, colorize(colorRed, "Error: "+v.Content))
	}
}
