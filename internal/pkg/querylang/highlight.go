package querylang

import (
	"fmt"
	"sort"
	"unicode/utf8"
)

// Class is the highlight category of a span.
type Class int

const (
	ClassNone Class = iota
	ClassKey
	ClassValue
	ClassOperator
	ClassError
)

func (c Class) String() string {
	switch c {
	case ClassKey:
		return "key"
	case ClassValue:
		return "value"
	case ClassOperator:
		return "operator"
	case ClassError:
		return "error"
	default:
		return "none"
	}
}

func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Class) UnmarshalText(b []byte) error {
	for _, k := range []Class{ClassNone, ClassKey, ClassValue, ClassOperator, ClassError} {
		if k.String() == string(b) {
			*c = k
			return nil
		}
	}
	return fmt.Errorf("querylang: unknown highlight class %q", b)
}

// HighlightSpan is a classified range of the query text.
type HighlightSpan struct {
	Start int   `json:"start"`
	End   int   `json:"end"`
	Class Class `json:"class"`
}

// Project returns the highlight spans of a tree ordered by start offset.
func Project(node Node) []HighlightSpan {
	var spans []HighlightSpan
	spans = project(node, spans)
	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].Start < spans[j].Start
	})
	return spans
}

// Highlight is Project(Parse(text)).
func Highlight(text string) []HighlightSpan {
	return Project(Parse(text))
}

func project(node Node, spans []HighlightSpan) []HighlightSpan {
	switch n := node.(type) {
	case nil:
		return spans
	case Condition:
		if n.Key != "" {
			spans = append(spans, HighlightSpan{Start: n.Start, End: n.Start + len(n.Key), Class: ClassKey})
		}
		return append(spans, HighlightSpan{Start: n.End - len(n.Value), End: n.End, Class: ClassValue})
	case LogicalExpr:
		spans = project(n.Left, spans)
		spans = project(n.Right, spans)
		return append(spans, HighlightSpan{
			Start: n.Left.Bounds().End,
			End:   n.Right.Bounds().Start,
			Class: ClassOperator,
		})
	case NotExpr:
		spans = append(spans, HighlightSpan{Start: n.Start, End: n.Expr.Bounds().Start, Class: ClassOperator})
		return project(n.Expr, spans)
	case GroupExpr:
		return project(n.Expr, spans)
	case ErrorExpr:
		return append(spans, HighlightSpan{Start: n.Start, End: n.End, Class: ClassError})
	default:
		panic(fmt.Sprintf("querylang: unknown node %T", node))
	}
}

// Segment is a contiguous piece of text with its class. Text not covered by
// any span has ClassNone.
type Segment struct {
	Text  string `json:"text"`
	Class Class  `json:"class"`
}

// Segments cuts text into consecutive segments along spans, which must be
// sorted and non-overlapping as returned by Project. Out of range spans are
// clamped.
func Segments(text string, spans []HighlightSpan) []Segment {
	var segs []Segment
	pos := 0
	for _, s := range spans {
		start, end := clamp(s.Start, pos, len(text)), clamp(s.End, pos, len(text))
		if start > pos {
			segs = append(segs, Segment{Text: text[pos:start]})
		}
		if end > start {
			segs = append(segs, Segment{Text: text[start:end], Class: s.Class})
		}
		if end > pos {
			pos = end
		}
	}
	if pos < len(text) {
		segs = append(segs, Segment{Text: text[pos:]})
	}
	return segs
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RuneOffsets converts byte-offset spans into rune-index spans of text, for
// display layers that count characters.
func RuneOffsets(text string, spans []HighlightSpan) []HighlightSpan {
	out := make([]HighlightSpan, len(spans))
	for i, s := range spans {
		out[i] = HighlightSpan{Start: RuneIndex(text, s.Start), End: RuneIndex(text, s.End), Class: s.Class}
	}
	return out
}

// RuneIndex returns the number of runes of text before byte offset off.
func RuneIndex(text string, off int) int {
	return utf8.RuneCountInString(text[:clamp(off, 0, len(text))])
}
