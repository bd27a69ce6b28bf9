package querylang

import (
	"strings"
)

// Record is anything a query can be matched against.
type Record interface {
	// Lookup returns the value of a field. Key comparison is up to the
	// implementation; Fields compares case-insensitively.
	Lookup(key string) (string, bool)
	// Values returns every field value, searched by unkeyed conditions.
	Values() []string
}

// Fields is a Record backed by a map.
type Fields map[string]string

func (f Fields) Lookup(key string) (string, bool) {
	if v, ok := f[key]; ok {
		return v, true
	}
	for k, v := range f {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func (f Fields) Values() []string {
	values := make([]string, 0, len(f))
	for _, v := range f {
		values = append(values, v)
	}
	return values
}

// Match evaluates the AST node against a Record and returns true if it matches.
func Match(node Node, rec Record) bool {
	if node == nil {
		return true // No filter means match all
	}

	switch n := node.(type) {
	case LogicalExpr:
		return evalLogical(n, rec)
	case Condition:
		return evalCondition(n, rec)
	case NotExpr:
		return !Match(n.Expr, rec)
	case GroupExpr:
		return Match(n.Expr, rec)
	default:
		return false
	}
}

func evalLogical(expr LogicalExpr, rec Record) bool {
	switch expr.Op {
	case OpAnd:
		return Match(expr.Left, rec) && Match(expr.Right, rec)
	case OpOr:
		return Match(expr.Left, rec) || Match(expr.Right, rec)
	default:
		return false
	}
}

func evalCondition(c Condition, rec Record) bool {
	value := c.Text()

	// Unkeyed conditions search every field
	if c.Key == "" {
		q := strings.ToLower(value)
		for _, f := range rec.Values() {
			if strings.Contains(strings.ToLower(f), q) {
				return true
			}
		}
		return false
	}

	field, ok := rec.Lookup(c.Key)
	return ok && strings.EqualFold(field, value)
}
