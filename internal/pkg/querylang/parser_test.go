package querylang

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cond(start, end int, key, value string) Condition {
	return Condition{Span: Span{Start: start, End: end}, Key: key, Value: value}
}

func TestParseSimple(t *testing.T) {
	tests := []struct {
		input    string
		expected Node
	}{
		{"service=order", cond(0, 13, "service", "order")},
		{`level="ERROR"`, cond(0, 13, "level", `"ERROR"`)},
		{`"timeout"`, cond(0, 9, "", `"timeout"`)},
		{"timeout", cond(0, 7, "", "timeout")},
		{
			"NOT k=v",
			NotExpr{Span: Span{Start: 0, End: 7}, Expr: cond(4, 7, "k", "v")},
		},
		{
			"(a)",
			GroupExpr{Span: Span{Start: 0, End: 3}, Expr: cond(1, 2, "", "a")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, Parse(tt.input))
		})
	}
}

func TestParsePrecedence(t *testing.T) {
	a, b, c := cond(0, 1, "", "a"), cond(6, 7, "", "b"), cond(11, 12, "", "c")

	t.Run("AND binds tighter on the left", func(t *testing.T) {
		expected := LogicalExpr{
			Span:  Span{Start: 0, End: 12},
			Op:    OpOr,
			Left:  LogicalExpr{Span: Span{Start: 0, End: 7}, Op: OpAnd, Left: a, Right: b},
			Right: c,
		}
		assert.Equal(t, expected, Parse("a AND b OR c"))
	})

	t.Run("AND binds tighter on the right", func(t *testing.T) {
		b, c := cond(5, 6, "", "b"), cond(11, 12, "", "c")
		expected := LogicalExpr{
			Span:  Span{Start: 0, End: 12},
			Op:    OpOr,
			Left:  a,
			Right: LogicalExpr{Span: Span{Start: 5, End: 12}, Op: OpAnd, Left: b, Right: c},
		}
		assert.Equal(t, expected, Parse("a OR b AND c"))
	})

	t.Run("left associative", func(t *testing.T) {
		root, ok := Parse("a AND b AND c").(LogicalExpr)
		require.True(t, ok)
		assert.Equal(t, OpAnd, root.Op)
		assert.IsType(t, LogicalExpr{}, root.Left)
		assert.IsType(t, Condition{}, root.Right)
	})

	t.Run("NOT binds tighter than AND", func(t *testing.T) {
		root, ok := Parse("NOT a AND b").(LogicalExpr)
		require.True(t, ok)
		assert.IsType(t, NotExpr{}, root.Left)
	})

	t.Run("group overrides precedence", func(t *testing.T) {
		root, ok := Parse("a AND (b OR c)").(LogicalExpr)
		require.True(t, ok)
		assert.Equal(t, OpAnd, root.Op)
		group, ok := root.Right.(GroupExpr)
		require.True(t, ok)
		assert.Equal(t, OpOr, group.Expr.(LogicalExpr).Op)
	})
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		input   string
		code    ErrorCode
		message string
		start   int
		end     int
	}{
		{"", ErrUnexpectedEOF, "unexpected end of input", 0, 0},
		{"   ", ErrUnexpectedEOF, "unexpected end of input", 3, 3},
		{"a AND", ErrUnexpectedEOF, "unexpected end of input", 5, 5},
		{"k=v NOT", ErrNotAfterOperand, "NOT operator cannot follow an expression or condition", 4, 7},
		{"(a) NOT b", ErrNotAfterOperand, "NOT operator cannot follow an expression or condition", 4, 7},
		{"AND a", ErrMissingLeftOperand, "expected expression or condition before logical operator", 0, 3},
		{"a OR OR b", ErrMissingLeftOperand, "expected expression or condition before logical operator", 5, 7},
		{"a b", ErrMissingOperator, "expected logical operator between two expressions or conditions", 1, 3},
		{"(a) (b)", ErrMissingOperator, "expected logical operator between two expressions or conditions", 3, 5},
		{"(a b)", ErrMissingOperator, "expected logical operator between two expressions or conditions", 2, 4},
		{"(k=v", ErrUnclosedParen, "expected closing parenthesis", 0, 1},
		{"a AND (b OR (c)", ErrUnclosedParen, "expected closing parenthesis", 6, 7},
		{")", ErrUnexpectedRParen, "unexpected closing parenthesis", 0, 1},
		{"()", ErrUnexpectedRParen, "unexpected closing parenthesis", 1, 2},
		{"a)", ErrUnexpectedRParen, "unexpected closing parenthesis", 1, 2},
		{"k=", ErrMissingValue, "expected value after '='", 0, 1},
		{"k==v", ErrMissingValue, "expected value after '='", 0, 1},
		{"k=(v)", ErrMissingValue, "expected value after '='", 0, 1},
		{`k=v OR "x"`, ErrMixedKinds, "cannot mix expressions with and without keys", 7, 10},
		{`x AND k="v"`, ErrMixedKinds, "cannot mix expressions with and without keys", 6, 11},
		{"k=v AND x=y OR z", ErrMixedKinds, "cannot mix expressions with and without keys", 15, 16},
		{"NOT NOT a", ErrUnexpectedToken, "unexpected token: NOT", 4, 7},
		{"= a", ErrUnexpectedToken, "unexpected token: =", 0, 1},
		{`"x" = y`, ErrUnexpectedToken, "unexpected token: =", 4, 5},
		{"(a = )", ErrMissingValue, "expected value after '='", 1, 2},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			node := Parse(tt.input)
			e, ok := node.(ErrorExpr)
			require.True(t, ok, "expected error, got %#v", node)
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, tt.message, e.Message)
			assert.Equal(t, Span{Start: tt.start, End: tt.end}, e.Span)
		})
	}
}

func TestParseTotal(t *testing.T) {
	inputs := []string{
		"", " ", "(", ")", "=", "((((", "))))", `"`, `'`, `\`, "NOT", "AND OR NOT",
		"!@#$%^&*", "k=v=w", `"a" "b" "c"`, "((a AND b) OR (c AND NOT d))",
		"a AND (b OR", "\x00\xff", "ü=ö AND ß=ä",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			var first Node
			require.NotPanics(t, func() { first = Parse(input) })
			assert.Equal(t, first, Parse(input))

			b := first.Bounds()
			assert.LessOrEqual(t, 0, b.Start)
			assert.LessOrEqual(t, b.Start, b.End)
			assert.LessOrEqual(t, b.End, len(input))
		})
	}
}

func TestParseNoErrorChildren(t *testing.T) {
	for _, input := range []string{"a AND b OR c", "NOT (a OR b) AND c", "k=v OR (x=y AND NOT z=w)"} {
		Walk(Parse(input), func(n Node) bool {
			_, isErr := n.(ErrorExpr)
			assert.False(t, isErr, input)
			return true
		})
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("a OR b"))

	err := Validate("a OR")
	require.Error(t, err)
	var e ErrorExpr
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrUnexpectedEOF, e.Code)
	assert.Equal(t, "unexpected end of input at 4:4", err.Error())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindKeyed, KindOf(Parse("NOT (k=v OR a=b)")))
	assert.Equal(t, KindUnkeyed, KindOf(Parse(`"x" AND y`)))
	assert.Equal(t, KindUnset, KindOf(Parse("k=v OR x")))
}

func TestUnquote(t *testing.T) {
	tests := map[string]string{
		`plain`:         "plain",
		`"quoted"`:      "quoted",
		`'single'`:      "single",
		`"say \"hi\""`:  `say "hi"`,
		`'it\'s'`:       "it's",
		`"back\\slash"`: `back\slash`,
		`"`:             `"`,
		`"mismatched'`:  `"mismatched'`,
	}
	for in, want := range tests {
		assert.Equal(t, want, Unquote(in), in)
	}
}

func TestNodeJSON(t *testing.T) {
	data, err := json.Marshal(Parse(`NOT k="v"`))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "NotExpression",
		"start": 0,
		"end": 9,
		"expression": {"type": "Condition", "key": "k", "value": "\"v\"", "start": 4, "end": 9}
	}`, string(data))

	data, err = json.Marshal(Parse("a OR"))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "Error",
		"code": "unexpected_eof",
		"message": "unexpected end of input",
		"start": 4,
		"end": 4
	}`, string(data))

	data, err = json.Marshal(Parse("(a) AND b"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"LogicalExpression"`)
	assert.Contains(t, string(data), `"operator":"AND"`)
	assert.Contains(t, string(data), `"type":"Group"`)
}

func TestErrorCodes(t *testing.T) {
	codes := ErrorCodes()
	require.Len(t, codes, 9)
	for _, c := range codes {
		assert.NotEmpty(t, c.Message())
		assert.Equal(t, c, ParseErrorCode(c.String()))
	}
	assert.Equal(t, ErrorCode(0), ParseErrorCode("bogus"))
}
