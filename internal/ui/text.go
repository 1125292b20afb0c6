package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"scopetrace/internal/calltree"
)

var printer = message.NewPrinter(language.English)

const (
	indentWidth   = 2
	numberColumns = 4*12 + 10
	minNameWidth  = 20
	emptyCell     = "<empty>"
)

// RenderText writes the visible rows of v as a fixed-width table no wider
// than width columns. v must be disconnected.
func RenderText(w io.Writer, v *calltree.View, width int) error {
	rows := Rows(v)
	nameWidth := max(width-numberColumns, minNameWidth)

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s frames)\n", sourceLabel(v.ConnectionName()), printer.Sprintf("%d", v.FrameCount()))
	b.WriteString(runewidth.FillRight("scope", nameWidth))
	fmt.Fprintf(&b, "%12s%12s%12s%12s%10s\n", "ms/frame", "self", "ms/inst", "max", "count")

	if len(rows) == 0 {
		b.WriteString("  no data\n")
	}
	for _, r := range rows {
		b.WriteString(runewidth.FillRight(rowLabel(r, nameWidth), nameWidth))
		b.WriteString(numbers(r))
		b.WriteByte('\n')
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func sourceLabel(name string) string {
	if name == "" {
		return "<no source>"
	}
	return name
}

func rowLabel(r Row, width int) string {
	marker := "  "
	if r.HasChildren {
		marker = "+ "
		if r.Opened {
			marker = "- "
		}
	}
	label := strings.Repeat(" ", r.Depth*indentWidth) + marker + r.Name()
	return truncate(label, width-1)
}

func numbers(r Row) string {
	if r.Empty {
		return fmt.Sprintf("%12s%12s%12s%12s%10s", emptyCell, "", "", "", "")
	}
	return fmt.Sprintf("%12s%12s%12s%12s%10s",
		millis(r.AvgPerFrame), millis(r.SelfPerFrame), millis(r.AvgPerInst), millis(r.Max),
		printer.Sprintf("%d", r.Instances))
}

func millis(seconds float64) string {
	return printer.Sprintf("%.3f", seconds*1e3)
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width, "...")
}
