package querylang

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Lexer tokenizes query input. Offsets are byte positions into the input and
// always fall on rune boundaries.
type Lexer struct {
	input string
	pos   int
	gaps  []Gap
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// Tokenize returns every token of text in source order. Whitespace and
// unrecognized characters produce no token.
func Tokenize(text string) []Token {
	tokens, _ := Scan(text)
	return tokens
}

// Scan is Tokenize that also reports the lexical gaps it dropped.
func Scan(text string) ([]Token, []Gap) {
	l := NewLexer(text)
	var tokens []Token
	for {
		tok := l.Next()
		if tok.Type == TokenEOF {
			break
		}
		tokens = append(tokens, tok)
	}
	return tokens, l.Gaps()
}

// Gaps returns the unrecognized input skipped so far.
func (l *Lexer) Gaps() []Gap {
	return l.gaps
}

// Next returns the next token from the input, or a TokenEOF positioned at
// len(input) once the input is exhausted.
func (l *Lexer) Next() Token {
	for {
		l.skipWhitespace()

		if l.pos >= len(l.input) {
			return Token{Type: TokenEOF, Start: len(l.input), End: len(l.input)}
		}

		r, size := utf8.DecodeRuneInString(l.input[l.pos:])

		switch r {
		case '(':
			return l.single(TokenLParen, size)
		case ')':
			return l.single(TokenRParen, size)
		case '=':
			return l.single(TokenEq, size)
		case '"', '\'':
			if tok, ok := l.readQuoted(r); ok {
				return tok
			}
			// Unterminated literal: drop the quote and keep scanning after it.
			l.skip(l.pos + size)
			continue
		}

		if isWordRune(r) {
			return l.readWord()
		}

		start := l.pos
		for l.pos < len(l.input) {
			r, size := utf8.DecodeRuneInString(l.input[l.pos:])
			if unicode.IsSpace(r) || isWordRune(r) || strings.ContainsRune(`()="'`, r) {
				break
			}
			l.pos += size
		}
		l.addGap(start, l.pos)
	}
}

func (l *Lexer) single(typ TokenType, size int) Token {
	start := l.pos
	l.pos += size
	return Token{Type: typ, Text: l.input[start:l.pos], Start: start, End: l.pos}
}

func (l *Lexer) skip(end int) {
	l.addGap(l.pos, end)
	l.pos = end
}

func (l *Lexer) addGap(start, end int) {
	if start >= end {
		return
	}
	if n := len(l.gaps); n > 0 && l.gaps[n-1].End == start {
		l.gaps[n-1].End = end
		l.gaps[n-1].Text = l.input[l.gaps[n-1].Start:end]
		return
	}
	l.gaps = append(l.gaps, Gap{Text: l.input[start:end], Start: start, End: end})
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		l.pos += size
	}
}

// readQuoted reads a literal delimited by quote. The token keeps its quotes
// and escapes verbatim. It reports false when the literal is never closed.
func (l *Lexer) readQuoted(quote rune) (Token, bool) {
	start := l.pos
	i := l.pos + 1 // skip opening quote
	for i < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[i:])
		switch {
		case r == '\\' && i+size < len(l.input):
			_, next := utf8.DecodeRuneInString(l.input[i+size:])
			i += size + next // skip escaped char
			continue
		case r == '\\':
			return Token{}, false
		case r == quote:
			l.pos = i + size
			return Token{Type: TokenValue, Text: l.input[start:l.pos], Start: start, End: l.pos}, true
		}
		i += size
	}
	return Token{}, false
}

func (l *Lexer) readWord() Token {
	start := l.pos
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if !isWordRune(r) {
			break
		}
		l.pos += size
	}
	text := l.input[start:l.pos]
	tok := Token{Text: text, Start: start, End: l.pos}

	// Check for keywords
	switch strings.ToUpper(text) {
	case "AND":
		tok.Type = TokenAnd
	case "OR":
		tok.Type = TokenOr
	case "NOT":
		tok.Type = TokenNot
	default:
		tok.Type = TokenValue
		if l.peekRune() == '=' {
			tok.Type = TokenKey
		}
	}
	return tok
}

// peekRune returns the next non-space rune without consuming it, or -1 at end of input.
func (l *Lexer) peekRune() rune {
	for i := l.pos; i < len(l.input); {
		r, size := utf8.DecodeRuneInString(l.input[i:])
		if !unicode.IsSpace(r) {
			return r
		}
		i += size
	}
	return -1
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
