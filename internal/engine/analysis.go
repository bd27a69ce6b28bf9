package engine

import (
	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/pkg/querylang"
)

// Severity of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is a problem found in a query, located by byte offsets.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Start    int      `json:"start"`
	End      int      `json:"end"`
}

// Offset units reported by an Analysis.
const (
	OffsetsByte = "byte"
	OffsetsRune = "rune"
)

// Analysis bundles everything the front end derives from one query.
type Analysis struct {
	Query       string                    `json:"query"`
	Offsets     string                    `json:"offsets"` // OffsetsByte or OffsetsRune
	Tokens      []querylang.Token         `json:"tokens"`
	Gaps        []querylang.Gap           `json:"gaps"`
	Tree        querylang.Node            `json:"tree"`
	Spans       []querylang.HighlightSpan `json:"spans"`
	Valid       bool                      `json:"valid"`
	Kind        querylang.Kind            `json:"kind"`
	Diagnostics []Diagnostic              `json:"diagnostics"`
}

// Code returns the error code of an invalid analysis, 0 otherwise.
func (a Analysis) Code() querylang.ErrorCode {
	if e, ok := a.Tree.(querylang.ErrorExpr); ok {
		return e.Code
	}
	return 0
}

// InRunes returns a copy of a whose tokens, gaps, spans and diagnostics are
// located by rune indexes. The tree keeps byte offsets.
func (a Analysis) InRunes() Analysis {
	if a.Offsets == OffsetsRune {
		return a
	}
	text := a.Query
	out := a
	out.Offsets = OffsetsRune

	out.Tokens = make([]querylang.Token, len(a.Tokens))
	for i, t := range a.Tokens {
		t.Start, t.End = querylang.RuneIndex(text, t.Start), querylang.RuneIndex(text, t.End)
		out.Tokens[i] = t
	}
	out.Gaps = make([]querylang.Gap, len(a.Gaps))
	for i, g := range a.Gaps {
		g.Start, g.End = querylang.RuneIndex(text, g.Start), querylang.RuneIndex(text, g.End)
		out.Gaps[i] = g
	}
	out.Spans = querylang.RuneOffsets(text, a.Spans)
	out.Diagnostics = make([]Diagnostic, len(a.Diagnostics))
	for i, d := range a.Diagnostics {
		d.Start, d.End = querylang.RuneIndex(text, d.Start), querylang.RuneIndex(text, d.End)
		out.Diagnostics[i] = d
	}
	return out
}

// Analyze tokenizes, parses and projects text. Lexical gaps are reported as
// warnings; they never make a query invalid on their own.
func Analyze(text string) Analysis {
	tokens, gaps := querylang.Scan(text)
	tree := querylang.Parse(text)

	a := Analysis{
		Query:       text,
		Offsets:     OffsetsByte,
		Tokens:      tokens,
		Gaps:        gaps,
		Tree:        tree,
		Spans:       querylang.Project(tree),
		Kind:        querylang.KindOf(tree),
		Diagnostics: []Diagnostic{},
	}
	if a.Tokens == nil {
		a.Tokens = []querylang.Token{}
	}
	if a.Gaps == nil {
		a.Gaps = []querylang.Gap{}
	}

	if e, ok := tree.(querylang.ErrorExpr); ok {
		a.Diagnostics = append(a.Diagnostics, Diagnostic{
			Severity: SeverityError,
			Code:     e.Code.String(),
			Message:  e.Message,
			Start:    e.Start,
			End:      e.End,
		})
	} else {
		a.Valid = true
	}

	for _, g := range gaps {
		a.Diagnostics = append(a.Diagnostics, Diagnostic{
			Severity: SeverityWarning,
			Code:     "lexical_gap",
			Message:  "ignored characters: " + g.Text,
			Start:    g.Start,
			End:      g.End,
		})
	}

	return a
}
