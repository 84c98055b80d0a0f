package nanoql

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnexpectedToken is returned when the parser meets a token it cannot place.
	ErrUnexpectedToken = errors.New("unexpected token")
	// ErrUnterminated is returned for an unclosed string, regex or parenthesis.
	ErrUnterminated = errors.New("unterminated expression")
)

// SyntaxError describes where and why a query failed to parse.
type SyntaxError struct {
	Pos   int
	Msg   string
	cause error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d: %s", e.Pos, e.Msg)
}

func (e *SyntaxError) Unwrap() error { return e.cause }

// Parser parses NanoQL queries into an AST.
type Parser struct {
	lexer   *Lexer
	builder Builder
	current Token
}

// Parse parses the input string and returns the AST root node.
// An empty (or blank) query returns a nil node, which matches everything.
func Parse(input string) (Node, error) {
	return DefaultBuilder.Parse(input)
}

// Parse parses input using b to compile regex literals.
func (b Builder) Parse(input string) (Node, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	p := &Parser{lexer: NewLexer(input), builder: b}
	p.advance()
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.current.Type != TokenEOF {
		return nil, p.errorf(ErrUnexpectedToken, "unexpected %v", p.current.Type)
	}
	return node, nil
}

func (p *Parser) advance() {
	p.current = p.lexer.NextToken()
}

func (p *Parser) errorf(cause error, format string, args ...any) error {
	return &SyntaxError{Pos: p.current.Pos, Msg: fmt.Sprintf(format, args...), cause: cause}
}

// parseOr handles OR expressions (lowest precedence).
func (p *Parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.current.Type == TokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: OpOr, Operands: []Node{left, right}}
	}

	return left, nil
}

// parseAnd handles explicit AND and implicit (juxtaposed) conjunction.
func (p *Parser) parseAnd() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		if p.current.Type == TokenAnd {
			p.advance()
		} else if !startsOperand(p.current.Type) {
			break
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: OpAnd, Operands: []Node{left, right}}
	}

	return left, nil
}

func startsOperand(t TokenType) bool {
	switch t {
	case TokenWord, TokenString, TokenRegex, TokenModifier, TokenLParen, TokenNot, TokenIllegal:
		return true
	}
	return false
}

// parseUnary handles negation and field modifiers, both right-associative.
func (p *Parser) parseUnary() (Node, error) {
	switch p.current.Type {
	case TokenNot:
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Unary{Op: OpNot, Operand: operand}, nil
	case TokenModifier:
		mod := p.current.Value
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Unary{Op: mod, Operand: operand}, nil
	}
	return p.parsePrimary()
}

// parsePrimary handles (expr), words, "phrases" and /regex/.
func (p *Parser) parsePrimary() (Node, error) {
	switch p.current.Type {
	case TokenLParen:
		p.advance()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.current.Type != TokenRParen {
			return nil, p.errorf(ErrUnterminated, "expected ')' but got %v", p.current.Type)
		}
		p.advance()
		return expr, nil

	case TokenWord:
		value := strings.ToLower(p.current.Value)
		p.advance()
		return Text{Value: value}, nil

	case TokenString:
		value := strings.ToLower(p.current.Value)
		p.advance()
		return Quoted{Value: value}, nil

	case TokenRegex:
		src := []Source{{Kind: SourcePattern, Value: p.current.Value}}
		p.advance()
		value, ok := p.builder.BuildPattern(src)
		return Pattern{Value: value, Failed: !ok, Sources: src}, nil

	case TokenIllegal:
		return nil, p.errorf(ErrUnterminated, "unterminated literal %q", p.current.Value)

	case TokenEOF:
		return nil, p.errorf(ErrUnexpectedToken, "unexpected end of query")

	default:
		return nil, p.errorf(ErrUnexpectedToken, "unexpected %v", p.current.Type)
	}
}
