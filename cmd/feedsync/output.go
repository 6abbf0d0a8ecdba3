package main

import (
	"fmt"
	"io"
	"os"

	"github.com/kalambet/feedsync/internal/pipeline"
	"github.com/kalambet/feedsync/internal/report"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// errOut receives human-facing status lines; stdout is kept for reports.
var errOut io.Writer = os.Stderr

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(errOut, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(errOut, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(errOut, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(errOut, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(errOut, colorize(colorCyan, "→ "+msg))
}

// printOutcome summarizes a finished sync on stderr.
func printOutcome(s report.Sync) {
	switch pipeline.Outcome(s.Outcome) {
	case pipeline.OutcomeCommitted:
		if s.Error != "" {
			printWarning("Committed %s but the email could not be archived", s.MessageID)
			return
		}
		printSuccess("Committed %s: %d rows (+%d -%d ~%d)", s.MessageID, s.Rows, s.Summary.Added, s.Summary.Removed, s.Summary.Changed)
	case pipeline.OutcomePreview:
		printSuccess("Preview of %s: %d changes, nothing written", s.MessageID, len(s.Changes))
	case pipeline.OutcomeDuplicate:
		printWarning("Feed email %s was already processed", s.MessageID)
	case pipeline.OutcomeNoFeed:
		printWarning("No feed email found")
	}
}
