package querylang

import "fmt"

// ErrorCode identifies a syntax error. The set is closed.
type ErrorCode int

const (
	ErrUnexpectedEOF ErrorCode = iota + 1
	ErrNotAfterOperand
	ErrMissingLeftOperand
	ErrMissingOperator
	ErrUnclosedParen
	ErrUnexpectedRParen
	ErrMissingValue
	ErrMixedKinds
	ErrUnexpectedToken
)

var errorCodeNames = map[ErrorCode]string{
	ErrUnexpectedEOF:      "unexpected_eof",
	ErrNotAfterOperand:    "not_after_operand",
	ErrMissingLeftOperand: "missing_left_operand",
	ErrMissingOperator:    "missing_operator",
	ErrUnclosedParen:      "unclosed_paren",
	ErrUnexpectedRParen:   "unexpected_rparen",
	ErrMissingValue:       "missing_value",
	ErrMixedKinds:         "mixed_kinds",
	ErrUnexpectedToken:    "unexpected_token",
}

var errorMessages = map[ErrorCode]string{
	ErrUnexpectedEOF:      "unexpected end of input",
	ErrNotAfterOperand:    "NOT operator cannot follow an expression or condition",
	ErrMissingLeftOperand: "expected expression or condition before logical operator",
	ErrMissingOperator:    "expected logical operator between two expressions or conditions",
	ErrUnclosedParen:      "expected closing parenthesis",
	ErrUnexpectedRParen:   "unexpected closing parenthesis",
	ErrMissingValue:       "expected value after '='",
	ErrMixedKinds:         "cannot mix expressions with and without keys",
	ErrUnexpectedToken:    "unexpected token",
}

// ErrorCodes lists every code in declaration order.
func ErrorCodes() []ErrorCode {
	codes := make([]ErrorCode, 0, len(errorCodeNames))
	for c := ErrUnexpectedEOF; c <= ErrUnexpectedToken; c++ {
		codes = append(codes, c)
	}
	return codes
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Message returns the canonical message for the code. ErrUnexpectedToken
// messages additionally carry the offending text, see newError.
func (c ErrorCode) Message() string {
	return errorMessages[c]
}

func (c ErrorCode) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ParseErrorCode is the inverse of ErrorCode.String. It returns 0 for unknown names.
func ParseErrorCode(name string) ErrorCode {
	for c, n := range errorCodeNames {
		if n == name {
			return c
		}
	}
	return 0
}

func newError(code ErrorCode, start, end int) ErrorExpr {
	return ErrorExpr{Span: Span{Start: start, End: end}, Code: code, Message: code.Message()}
}

func unexpectedToken(tok Token) ErrorExpr {
	e := newError(ErrUnexpectedToken, tok.Start, tok.End)
	e.Message = fmt.Sprintf("unexpected token: %s", tok.Text)
	return e
}
