// Package render formats query analyses for terminals.
package render

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/engine"
	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/pkg/querylang"
)

var (
	keyStyle      = color.New(color.FgCyan)
	valueStyle    = color.New(color.FgGreen)
	operatorStyle = color.New(color.FgMagenta, color.Bold)
	errorStyle    = color.New(color.FgRed, color.Bold, color.Underline)

	errorLabel   = color.New(color.FgRed, color.Bold)
	warningLabel = color.New(color.FgHiYellow, color.Bold)
	codeStyle    = color.New(color.FgYellow, color.Bold)
	lineStyle    = color.New(color.FgHiBlue, color.Bold)
	okStyle      = color.New(color.FgGreen, color.Bold)
)

func styleOf(c querylang.Class) *color.Color {
	switch c {
	case querylang.ClassKey:
		return keyStyle
	case querylang.ClassValue:
		return valueStyle
	case querylang.ClassOperator:
		return operatorStyle
	case querylang.ClassError:
		return errorStyle
	}
	return nil
}

// Highlight colors text along spans. Zero-width error spans, such as the
// one at end of input, are drawn as a marker.
func Highlight(text string, spans []querylang.HighlightSpan) string {
	var b strings.Builder
	for _, seg := range querylang.Segments(text, spans) {
		if st := styleOf(seg.Class); st != nil {
			b.WriteString(st.Sprint(seg.Text))
		} else {
			b.WriteString(seg.Text)
		}
	}
	for _, s := range spans {
		if s.Class == querylang.ClassError && s.Start == s.End && s.Start >= len(text) {
			b.WriteString(errorStyle.Sprint("␣"))
		}
	}
	return b.String()
}

// Diagnostics renders every diagnostic of a with the query and a caret
// underline below the offending range.
func Diagnostics(a engine.Analysis) string {
	var b strings.Builder
	if len(a.Diagnostics) == 0 {
		b.WriteString(okStyle.Sprint("ok"))
		fmt.Fprintf(&b, ": %s query\n", a.Kind)
		return b.String()
	}

	for _, d := range a.Diagnostics {
		switch d.Severity {
		case engine.SeverityError:
			b.WriteString(errorLabel.Sprint("error: "))
		default:
			b.WriteString(warningLabel.Sprint("warning: "))
		}
		b.WriteString(codeStyle.Sprint(d.Code))
		b.WriteString("\n")
		b.WriteString(lineStyle.Sprint("  | "))
		b.WriteString(Highlight(a.Query, a.Spans))
		b.WriteString("\n")
		b.WriteString(lineStyle.Sprint("  | "))
		b.WriteString(underline(a.Query, d.Start, d.End, d.Message))
		b.WriteString("\n")
	}
	return b.String()
}

func underline(text string, start, end int, msg string) string {
	start = min(max(start, 0), len(text))
	end = min(max(end, start), len(text))

	col := utf8.RuneCountInString(text[:start])
	width := max(utf8.RuneCountInString(text[start:end]), 1)

	return strings.Repeat(" ", col) + errorLabel.Sprint(strings.Repeat("^", width)+" "+msg)
}
