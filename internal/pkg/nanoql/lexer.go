package nanoql

import (
	"strings"
	"unicode"
)

// TokenType represents the type of a lexical token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenWord
	TokenString   // "quoted phrase"
	TokenRegex    // /pattern/
	TokenModifier // site: title: url:
	TokenLParen
	TokenRParen
	TokenAnd
	TokenOr
	TokenNot
	TokenIllegal // unterminated string or regex
)

func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "EOF"
	case TokenWord:
		return "word"
	case TokenString:
		return "string"
	case TokenRegex:
		return "regex"
	case TokenModifier:
		return "modifier"
	case TokenLParen:
		return "'('"
	case TokenRParen:
		return "')'"
	case TokenAnd:
		return "AND"
	case TokenOr:
		return "OR"
	case TokenNot:
		return "NOT"
	default:
		return "illegal"
	}
}

// Token represents a lexical token.
type Token struct {
	Type  TokenType
	Value string
	Pos   int
}

// Lexer tokenizes NanoQL input.
type Lexer struct {
	input string
	pos   int
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input, pos: 0}
}

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.pos}
	}

	start := l.pos
	ch := l.input[l.pos]

	switch ch {
	case '(':
		l.pos++
		return Token{Type: TokenLParen, Value: "(", Pos: start}
	case ')':
		l.pos++
		return Token{Type: TokenRParen, Value: ")", Pos: start}
	case '|':
		l.pos++
		return Token{Type: TokenOr, Value: "OR", Pos: start}
	case '-':
		l.pos++
		return Token{Type: TokenNot, Value: OpNot, Pos: start}
	case '"':
		return l.readDelimited('"', TokenString)
	case '/':
		return l.readDelimited('/', TokenRegex)
	}

	return l.readWord()
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
}

// readDelimited reads a string or regex literal. Inside a string a backslash
// escapes the next character and is dropped; inside a regex the backslash is
// kept so the expression reaches the compiler untouched, except for an
// escaped delimiter.
func (l *Lexer) readDelimited(delim byte, typ TokenType) Token {
	start := l.pos
	l.pos++ // skip opening delimiter
	var sb strings.Builder
	for l.pos < len(l.input) && l.input[l.pos] != delim {
		c := l.input[l.pos]
		if c == '\\' && l.pos+1 < len(l.input) {
			next := l.input[l.pos+1]
			if typ == TokenRegex && next != delim {
				sb.WriteByte(c)
			}
			sb.WriteByte(next)
			l.pos += 2
			continue
		}
		sb.WriteByte(c)
		l.pos++
	}
	if l.pos >= len(l.input) {
		return Token{Type: TokenIllegal, Value: l.input[start:], Pos: start}
	}
	l.pos++ // skip closing delimiter
	return Token{Type: typ, Value: sb.String(), Pos: start}
}

func (l *Lexer) readWord() Token {
	start := l.pos
	for l.pos < len(l.input) && isWordChar(l.input[l.pos]) {
		// A known modifier followed by a colon ends the word early.
		if l.input[l.pos] == ':' {
			if mod := strings.ToLower(l.input[start:l.pos]); IsModifier(mod) {
				l.pos++
				return Token{Type: TokenModifier, Value: mod, Pos: start}
			}
		}
		l.pos++
	}
	value := l.input[start:l.pos]

	// Check for keywords
	switch strings.ToUpper(value) {
	case "AND":
		return Token{Type: TokenAnd, Value: "AND", Pos: start}
	case "OR":
		return Token{Type: TokenOr, Value: "OR", Pos: start}
	case "NOT":
		return Token{Type: TokenNot, Value: OpNot, Pos: start}
	}

	return Token{Type: TokenWord, Value: value, Pos: start}
}

func isWordChar(ch byte) bool {
	switch ch {
	case '(', ')', '"':
		return false
	}
	return !unicode.IsSpace(rune(ch))
}
