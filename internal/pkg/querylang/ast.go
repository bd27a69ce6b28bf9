package querylang

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Span is a half-open byte range [Start, End) into the query text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Bounds returns the span itself so that every node embedding Span
// satisfies Node's Bounds method.
func (s Span) Bounds() Span { return s }

// Len returns the number of bytes covered.
func (s Span) Len() int { return s.End - s.Start }

// Node is the interface implemented by all AST nodes.
// The set of implementations is closed: Condition, LogicalExpr, NotExpr,
// GroupExpr and ErrorExpr.
type Node interface {
	node() // marker method
	Bounds() Span
}

// Operator is a binary logical operator.
type Operator int

const (
	OpAnd Operator = iota
	OpOr
)

func (o Operator) String() string {
	switch o {
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	default:
		return fmt.Sprintf("Operator(%d)", int(o))
	}
}

func (o Operator) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Condition is an atomic predicate. An empty Key means an unkeyed condition
// matched against any field.
type Condition struct {
	Span
	Key string
	// Value is the literal as written, quotes and escapes included.
	Value string
}

func (Condition) node() {}

// Text returns the value with surrounding quotes and escapes removed.
func (c Condition) Text() string {
	return Unquote(c.Value)
}

// LogicalExpr represents a binary logical expression (AND, OR).
type LogicalExpr struct {
	Span
	Op    Operator
	Left  Node
	Right Node
}

func (LogicalExpr) node() {}

// NotExpr represents a NOT expression that negates its inner expression.
type NotExpr struct {
	Span
	Expr Node
}

func (NotExpr) node() {}

// GroupExpr is a parenthesized expression. It spans both parentheses.
type GroupExpr struct {
	Span
	Expr Node
}

func (GroupExpr) node() {}

// ErrorExpr is the first syntax error found in a query. A tree containing
// an ErrorExpr consists of that node alone.
type ErrorExpr struct {
	Span
	Code    ErrorCode
	Message string
}

func (ErrorExpr) node() {}

func (e ErrorExpr) Error() string {
	return fmt.Sprintf("%s at %d:%d", e.Message, e.Start, e.End)
}

// Unquote strips matching single or double quotes from a literal and
// resolves backslash escapes. Bare words are returned unchanged.
func Unquote(lit string) string {
	if len(lit) < 2 {
		return lit
	}
	q := lit[0]
	if (q != '"' && q != '\'') || lit[len(lit)-1] != q {
		return lit
	}
	body := lit[1 : len(lit)-1]
	if !strings.Contains(body, `\`) {
		return body
	}
	var b strings.Builder
	b.Grow(len(body))
	escaped := false
	for _, r := range body {
		if !escaped && r == '\\' {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}

// Walk visits node and its descendants in pre-order. Returning false from fn
// skips the children of the current node.
func Walk(node Node, fn func(Node) bool) {
	if node == nil || !fn(node) {
		return
	}
	switch n := node.(type) {
	case LogicalExpr:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case NotExpr:
		Walk(n.Expr, fn)
	case GroupExpr:
		Walk(n.Expr, fn)
	case Condition, ErrorExpr:
	default:
		panic(fmt.Sprintf("querylang: unknown node %T", node))
	}
}

// Kind reports whether the conditions of a query carry keys.
type Kind int

const (
	KindUnset Kind = iota
	KindKeyed
	KindUnkeyed
)

func (k Kind) String() string {
	switch k {
	case KindKeyed:
		return "keyed"
	case KindUnkeyed:
		return "unkeyed"
	default:
		return "unset"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func kindOf(c Condition) Kind {
	if c.Key == "" {
		return KindUnkeyed
	}
	return KindKeyed
}

// KindOf returns the kind of the first condition in the tree, or KindUnset
// for error trees.
func KindOf(node Node) Kind {
	kind := KindUnset
	Walk(node, func(n Node) bool {
		if c, ok := n.(Condition); ok && kind == KindUnset {
			kind = kindOf(c)
		}
		return kind == KindUnset
	})
	return kind
}

// JSON encoding. Each node is tagged with a "type" field.

func (c Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Key   string `json:"key"`
		Value string `json:"value"`
		Span
	}{"Condition", c.Key, c.Value, c.Span})
}

func (e LogicalExpr) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string   `json:"type"`
		Operator Operator `json:"operator"`
		Left     Node     `json:"left"`
		Right    Node     `json:"right"`
		Span
	}{"LogicalExpression", e.Op, e.Left, e.Right, e.Span})
}

func (e NotExpr) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type       string `json:"type"`
		Expression Node   `json:"expression"`
		Span
	}{"NotExpression", e.Expr, e.Span})
}

func (e GroupExpr) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type       string `json:"type"`
		Expression Node   `json:"expression"`
		Span
	}{"Group", e.Expr, e.Span})
}

func (e ErrorExpr) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string    `json:"type"`
		Code    ErrorCode `json:"code"`
		Message string    `json:"message"`
		Span
	}{"Error", e.Code, e.Message, e.Span})
}
