package querylang

// Parser parses queries into an AST. A Parser holds the cursor and the
// keyed/unkeyed state of a single parse and must not be reused.
type Parser struct {
	tokens []Token
	pos    int
	eof    int
	kind   Kind
}

// NewParser creates a parser over the tokens of text.
func NewParser(text string) *Parser {
	return &Parser{tokens: Tokenize(text), eof: len(text)}
}

// Parse parses text and returns the root node. Parse never fails: syntax
// errors are reported as a single ErrorExpr root.
func Parse(text string) Node {
	return NewParser(text).Parse()
}

// Validate parses text and returns its syntax error, if any.
func Validate(text string) error {
	if e, ok := Parse(text).(ErrorExpr); ok {
		return e
	}
	return nil
}

// Parse runs the parser to completion.
func (p *Parser) Parse() Node {
	node := p.parseOr()
	if isError(node) {
		return node
	}
	if tok, ok := p.peek(); ok {
		if tok.Type == TokenRParen {
			return newError(ErrUnexpectedRParen, tok.Start, tok.End)
		}
		return unexpectedToken(tok)
	}
	return node
}

func (p *Parser) peek() (Token, bool) {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF, Start: p.eof, End: p.eof}, false
	}
	return p.tokens[p.pos], true
}

func (p *Parser) advance() Token {
	tok := p.tokens[p.pos]
	p.pos++
	return tok
}

func isError(n Node) bool {
	_, ok := n.(ErrorExpr)
	return ok
}

// parseOr handles OR expressions (lowest precedence).
func (p *Parser) parseOr() Node {
	left := p.parseAnd()
	if isError(left) {
		return left
	}

	for {
		tok, ok := p.peek()
		if !ok || tok.Type != TokenOr {
			return left
		}
		p.advance()
		right := p.parseAnd()
		if isError(right) {
			return right
		}
		left = LogicalExpr{
			Span:  Span{Start: left.Bounds().Start, End: right.Bounds().End},
			Op:    OpOr,
			Left:  left,
			Right: right,
		}
	}
}

// parseAnd handles AND expressions. It is also where operand adjacency is
// detected, since AND binds tightest among the infix positions.
func (p *Parser) parseAnd() Node {
	left := p.parseNotTerm()
	if isError(left) {
		return left
	}

	for {
		tok, ok := p.peek()
		if !ok {
			return left
		}
		switch tok.Type {
		case TokenAnd:
			p.advance()
			right := p.parseNotTerm()
			if isError(right) {
				return right
			}
			left = LogicalExpr{
				Span:  Span{Start: left.Bounds().Start, End: right.Bounds().End},
				Op:    OpAnd,
				Left:  left,
				Right: right,
			}
		case TokenNot:
			return newError(ErrNotAfterOperand, tok.Start, tok.End)
		case TokenKey, TokenValue, TokenLParen:
			return newError(ErrMissingOperator, left.Bounds().End, tok.End)
		default:
			return left
		}
	}
}

// parseNotTerm handles a single optional NOT prefix.
func (p *Parser) parseNotTerm() Node {
	tok, ok := p.peek()
	if !ok || tok.Type != TokenNot {
		return p.parsePrimary()
	}
	p.advance()
	expr := p.parsePrimary()
	if isError(expr) {
		return expr
	}
	return NotExpr{Span: Span{Start: tok.Start, End: expr.Bounds().End}, Expr: expr}
}

// parsePrimary handles primary expressions: (expr), key=value, value.
func (p *Parser) parsePrimary() Node {
	tok, ok := p.peek()
	if !ok {
		return newError(ErrUnexpectedEOF, p.eof, p.eof)
	}

	switch tok.Type {
	case TokenLParen:
		p.advance()
		expr := p.parseOr()
		if isError(expr) {
			return expr
		}
		closing, ok := p.peek()
		if !ok {
			return newError(ErrUnclosedParen, tok.Start, tok.End)
		}
		if closing.Type != TokenRParen {
			return unexpectedToken(closing)
		}
		p.advance()
		return GroupExpr{Span: Span{Start: tok.Start, End: closing.End}, Expr: expr}

	case TokenRParen:
		return newError(ErrUnexpectedRParen, tok.Start, tok.End)

	case TokenAnd, TokenOr:
		return newError(ErrMissingLeftOperand, tok.Start, tok.End)

	case TokenKey:
		p.advance()
		if eq, ok := p.peek(); !ok || eq.Type != TokenEq {
			return newError(ErrMissingValue, tok.Start, tok.End)
		}
		p.advance()
		value, ok := p.peek()
		if !ok || value.Type != TokenValue {
			return newError(ErrMissingValue, tok.Start, tok.End)
		}
		p.advance()
		return p.condition(Condition{
			Span:  Span{Start: tok.Start, End: value.End},
			Key:   tok.Text,
			Value: value.Text,
		})

	case TokenValue:
		p.advance()
		return p.condition(Condition{Span: Span{Start: tok.Start, End: tok.End}, Value: tok.Text})

	default:
		return unexpectedToken(tok)
	}
}

// condition enforces that all conditions of a parse share one kind.
func (p *Parser) condition(c Condition) Node {
	kind := kindOf(c)
	if p.kind == KindUnset {
		p.kind = kind
	}
	if p.kind != kind {
		return newError(ErrMixedKinds, c.Start, c.End)
	}
	return c
}
