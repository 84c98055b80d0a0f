package nanoql

import (
	"errors"
	"testing"
)

// testEntry implements Record for testing
type testEntry struct {
	site    string
	title   string
	url     string
	content string
}

func (e *testEntry) Field(name string) string {
	switch name {
	case ModSite:
		return e.site
	case ModTitle:
		return e.title
	case ModURL:
		return e.url
	case FieldContent:
		return e.content
	}
	return ""
}

func TestLexer(t *testing.T) {
	tests := []struct {
		input    string
		expected []TokenType
	}{
		{"site:golang.org", []TokenType{TokenModifier, TokenWord, TokenEOF}},
		{`title:"release notes"`, []TokenType{TokenModifier, TokenString, TokenEOF}},
		{"a AND b", []TokenType{TokenWord, TokenAnd, TokenWord, TokenEOF}},
		{"a OR b", []TokenType{TokenWord, TokenOr, TokenWord, TokenEOF}},
		{"a | b", []TokenType{TokenWord, TokenOr, TokenWord, TokenEOF}},
		{"NOT a", []TokenType{TokenNot, TokenWord, TokenEOF}},
		{"-a", []TokenType{TokenNot, TokenWord, TokenEOF}},
		{"e-mail", []TokenType{TokenWord, TokenEOF}},
		{"(a)", []TokenType{TokenLParen, TokenWord, TokenRParen, TokenEOF}},
		{`/go+gle/`, []TokenType{TokenRegex, TokenEOF}},
		{"https://example.com", []TokenType{TokenWord, TokenEOF}},
		{`"open`, []TokenType{TokenIllegal, TokenEOF}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			lexer := NewLexer(tt.input)
			for i, expected := range tt.expected {
				tok := lexer.NextToken()
				if tok.Type != expected {
					t.Errorf("token %d: expected %v, got %v (%q)", i, expected, tok.Type, tok.Value)
				}
			}
		})
	}
}

func TestLexerRegexEscapes(t *testing.T) {
	tok := NewLexer(`/a\/b\d/`).NextToken()
	if tok.Type != TokenRegex || tok.Value != `a/b\d` {
		t.Errorf("got %v %q", tok.Type, tok.Value)
	}
}

func TestParseSimple(t *testing.T) {
	tests := []struct {
		input    string
		expected Node
	}{
		{"golang", Text{Value: "golang"}},
		{"GoLang", Text{Value: "golang"}},
		{`"Release Notes"`, Quoted{Value: "release notes"}},
		{"site:golang.org", Unary{Op: ModSite, Operand: Text{Value: "golang.org"}}},
		{"SITE:golang.org", Unary{Op: ModSite, Operand: Text{Value: "golang.org"}}},
		{"-ads", Unary{Op: OpNot, Operand: Text{Value: "ads"}}},
		{"foo:bar", Text{Value: "foo:bar"}},
		{
			"/go+gle/",
			Pattern{Value: "go+gle", Sources: []Source{{Kind: SourcePattern, Value: "go+gle"}}},
		},
		{
			"/(/",
			Pattern{Failed: true, Sources: []Source{{Kind: SourcePattern, Value: "("}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			node, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("parse error: %v", err)
			}
			if !Equal(node, tt.expected) {
				t.Errorf("Parse(%q) = %#v, want %#v", tt.input, node, tt.expected)
			}
		})
	}
}

func TestParseCompound(t *testing.T) {
	node, err := Parse("site:golang.org AND generics")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}

	bin, ok := node.(Binary)
	if !ok || bin.Op != OpAnd || len(bin.Operands) != 2 {
		t.Fatalf("expected Binary and, got %+v", node)
	}

	left, ok := bin.Operands[0].(Unary)
	if !ok || left.Op != ModSite {
		t.Errorf("left expected site:golang.org, got %+v", left)
	}

	right, ok := bin.Operands[1].(Text)
	if !ok || right.Value != "generics" {
		t.Errorf("right expected generics, got %+v", right)
	}
}

func TestParseImplicitAnd(t *testing.T) {
	node, err := Parse("a b c")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	want := And(And(Text{"a"}, Text{"b"}), Text{"c"})
	if !Equal(node, want) {
		t.Errorf("got %s, want %s", String(node), String(want))
	}
}

func TestParsePrecedence(t *testing.T) {
	node, err := Parse("a b OR c")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	want := Or(And(Text{"a"}, Text{"b"}), Text{"c"})
	if !Equal(node, want) {
		t.Errorf("got %s, want %s", String(node), String(want))
	}
}

func TestParseParentheses(t *testing.T) {
	node, err := Parse("site:github.com (issue OR pull)")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}

	bin, ok := node.(Binary)
	if !ok || bin.Op != OpAnd {
		t.Fatalf("expected and at root, got %+v", node)
	}

	rightBin, ok := bin.Operands[1].(Binary)
	if !ok || rightBin.Op != OpOr {
		t.Errorf("expected or on right, got %+v", bin.Operands[1])
	}
}

func TestParseNot(t *testing.T) {
	node, err := Parse("NOT site:ads.example")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}

	not, ok := node.(Unary)
	if !ok || not.Op != OpNot {
		t.Fatalf("expected negation, got %+v", node)
	}

	m, ok := not.Operand.(Unary)
	if !ok || m.Op != ModSite {
		t.Errorf("expected site:ads.example, got %+v", not.Operand)
	}
}

func TestParseEmpty(t *testing.T) {
	node, err := Parse("   ")
	if err != nil || node != nil {
		t.Errorf("expected nil node, got %+v, %v", node, err)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		input string
		cause error
	}{
		{"(a OR b", ErrUnterminated},
		{`"open phrase`, ErrUnterminated},
		{"/open", ErrUnterminated},
		{"a OR", ErrUnexpectedToken},
		{"a )", ErrUnexpectedToken},
		{"site:", ErrUnexpectedToken},
		{"-", ErrUnexpectedToken},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := Parse(tt.input)
			if err == nil {
				t.Fatalf("expected error for %q", tt.input)
			}
			var se *SyntaxError
			if !errors.As(err, &se) {
				t.Fatalf("expected SyntaxError, got %T", err)
			}
			if !errors.Is(err, tt.cause) {
				t.Errorf("expected %v, got %v", tt.cause, err)
			}
		})
	}
}

func TestMatch(t *testing.T) {
	entry := &testEntry{
		site:    "go.dev",
		title:   "Tutorial: Getting started with generics",
		url:     "https://go.dev/doc/tutorial/generics",
		content: "This tutorial introduces the basics of generics in Go.",
	}

	tests := []struct {
		query    string
		expected bool
	}{
		{"generics", true},
		{"rust", false},
		{"site:go.dev", true},
		{"site:github.com", false},
		{"site:tutorial", false},
		{"title:tutorial", true},
		{`"getting started"`, true},
		{`"started getting"`, false},
		{"generics site:go.dev", true},
		{"generics site:github.com", false},
		{"rust OR generics", true},
		{"-generics", false},
		{"-site:github.com", true},
		{"site:-github", true},
		{"/gener[a-z]+/", true},
		{"url:/tutorial\\/generics$/", true},
		{"/(/", false},
		{"title:site:go.dev", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			node, err := Parse(tt.query)
			if err != nil {
				t.Fatalf("parse error: %v", err)
			}
			result := Match(node, entry)
			if result != tt.expected {
				t.Errorf("Match(%q) = %v, want %v", tt.query, result, tt.expected)
			}
		})
	}
}

func TestMatchCaseInsensitive(t *testing.T) {
	entry := &testEntry{
		site:    "GitHub.com",
		title:   "Pull Requests",
		content: "REVIEW requested",
	}

	tests := []struct {
		query    string
		expected bool
	}{
		{"site:github.com", true},
		{"site:GITHUB", true},
		{"title:pull", true},
		{`"review"`, true},
		{`"REVIEW"`, true},
		{"/REQUEST(ED|S)/", true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			node, err := Parse(tt.query)
			if err != nil {
				t.Fatalf("parse error: %v", err)
			}
			if Match(node, entry) != tt.expected {
				t.Errorf("Match(%q) failed", tt.query)
			}
		})
	}
}

func TestMatchBuiltTreeCaseInsensitive(t *testing.T) {
	entry := &testEntry{title: "foo"}

	tests := []struct {
		name string
		node Node
		want bool
	}{
		{"text", Text{Value: "Foo"}, true},
		{"quoted", Quoted{Value: "FOO"}, true},
		{"or", Or(Text{Value: "Foo"}, Text{Value: "bar"}), true},
		{"consolidated", Pattern{Value: `Foo|bar`, Sources: []Source{{SourceText, "Foo"}, {SourceText, "bar"}}}, true},
		{"scoped miss", Scope(ModSite, Text{Value: "Foo"}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Match(tt.node, entry); got != tt.want {
				t.Errorf("Match(%s) = %v, want %v", String(tt.node), got, tt.want)
			}
		})
	}
}
