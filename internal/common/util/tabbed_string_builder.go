package util

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

// TabbedStringBuilder aligns tab separated columns into a string. Writes to a strings.Builder cannot fail, so
// unlike tabwriter.Writer it has no error returns.
type TabbedStringBuilder struct {
	sb     *strings.Builder
	writer *tabwriter.Writer
}

// NewTabbedStringBuilder takes the same parameters as tabwriter.NewWriter.
func NewTabbedStringBuilder(minwidth, tabwidth, padding int, padchar byte, flags uint) *TabbedStringBuilder {
	sb := &strings.Builder{}
	return &TabbedStringBuilder{
		sb:     sb,
		writer: tabwriter.NewWriter(sb, minwidth, tabwidth, padding, padchar, flags),
	}
}

func (t *TabbedStringBuilder) Writef(format string, a ...any) {
	_, _ = fmt.Fprintf(t.writer, format, a...)
}

func (t *TabbedStringBuilder) Write(a ...any) {
	_, _ = fmt.Fprint(t.writer, a...)
}

// String flushes pending cells and returns everything written so far.
func (t *TabbedStringBuilder) String() string {
	_ = t.writer.Flush()
	return t.sb.String()
}
