package querylang

import "fmt"

// TokenType represents the type of a lexical token.
type TokenType int

const (
	TokenKey TokenType = iota
	TokenEq
	TokenValue
	TokenAnd
	TokenOr
	TokenNot
	TokenLParen
	TokenRParen

	// TokenEOF is returned by Lexer.Next at the end of input. Tokenize never emits it.
	TokenEOF
)

var tokenNames = [...]string{
	TokenKey:    "KEY",
	TokenEq:     "EQ",
	TokenValue:  "VALUE",
	TokenAnd:    "AND",
	TokenOr:     "OR",
	TokenNot:    "NOT",
	TokenLParen: "LPAREN",
	TokenRParen: "RPAREN",
	TokenEOF:    "EOF",
}

func (t TokenType) String() string {
	if t >= 0 && int(t) < len(tokenNames) {
		return tokenNames[t]
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// MarshalText encodes the type by name so JSON output reads "KEY" rather than 0.
func (t TokenType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Token represents a lexical token. Start and End are half-open byte offsets
// into the scanned text.
type Token struct {
	Type  TokenType `json:"type"`
	Text  string    `json:"text"`
	Start int       `json:"start"`
	End   int       `json:"end"`
}

// Gap is a run of input the lexer could not assign to any token.
type Gap struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}
