package nanoql

import (
	"fmt"
	"regexp"
	"strings"
)

// Record is a candidate item that can be matched.
// This decouples nanoql from the engine package.
type Record interface {
	Field(name string) string
}

// FieldContent is the free-text field searched by unscoped terms only.
const FieldContent = "content"

// searchFields lists the fields an unscoped leaf is tested against.
// Field modifiers must be a subset of it so that a scoped match implies the
// unscoped one.
var searchFields = [...]string{ModSite, ModTitle, ModURL, FieldContent}

const allFields = -1

func fieldIndex(name string) int {
	for i, f := range searchFields {
		if f == name {
			return i
		}
	}
	return allFields
}

// Matcher evaluates a compiled tree against records.
// A Matcher is immutable and safe for concurrent use.
type Matcher struct {
	root     Node
	patterns map[string]*regexp.Regexp
}

// Compile prepares n for repeated evaluation, compiling each pattern once.
func Compile(n Node) (*Matcher, error) {
	m := &Matcher{root: n, patterns: make(map[string]*regexp.Regexp)}
	if err := m.compile(n); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Matcher) compile(n Node) error {
	switch x := n.(type) {
	case Pattern:
		if x.Failed {
			return nil
		}
		if _, ok := m.patterns[x.Value]; ok {
			return nil
		}
		re, err := CompilePattern(x.Value)
		if err != nil {
			return fmt.Errorf("compile pattern %q: %w", x.Value, err)
		}
		m.patterns[x.Value] = re
	case Unary:
		return m.compile(x.Operand)
	case Binary:
		for _, op := range x.Operands {
			if err := m.compile(op); err != nil {
				return err
			}
		}
	}
	return nil
}

// Root returns the tree the matcher was compiled from.
func (m *Matcher) Root() Node { return m.root }

// Match evaluates the tree against rec and returns true if it matches.
func (m *Matcher) Match(rec Record) bool {
	if m.root == nil {
		return true // No filter means match all
	}
	var fields [len(searchFields)]string
	var loaded [len(searchFields)]bool
	get := func(i int) string {
		if !loaded[i] {
			fields[i] = strings.ToLower(rec.Field(searchFields[i]))
			loaded[i] = true
		}
		return fields[i]
	}
	return m.eval(m.root, allFields, get)
}

func (m *Matcher) eval(n Node, scope int, get func(int) string) bool {
	switch x := n.(type) {
	case Binary:
		if x.Op == OpAnd {
			for _, op := range x.Operands {
				if !m.eval(op, scope, get) {
					return false
				}
			}
			return true
		}
		for _, op := range x.Operands {
			if m.eval(op, scope, get) {
				return true
			}
		}
		return false
	case Unary:
		if x.Op == OpNot {
			return !m.eval(x.Operand, scope, get)
		}
		return m.eval(x.Operand, fieldIndex(x.Op), get)
	case Truth:
		return x.Value
	case Text:
		v := strings.ToLower(x.Value)
		return m.matchLeaf(scope, get, func(s string) bool { return strings.Contains(s, v) })
	case Quoted:
		// Fields are lowercased; trees built outside the parser may not be.
		v := strings.ToLower(x.Value)
		return m.matchLeaf(scope, get, func(s string) bool { return strings.Contains(s, v) })
	case Pattern:
		if x.Failed {
			return false
		}
		re := m.patterns[x.Value]
		if re == nil {
			return false
		}
		return m.matchLeaf(scope, get, re.MatchString)
	default:
		return false
	}
}

func (m *Matcher) matchLeaf(scope int, get func(int) string, fn func(string) bool) bool {
	if scope != allFields {
		return fn(get(scope))
	}
	for i := range searchFields {
		if fn(get(i)) {
			return true
		}
	}
	return false
}

// Match evaluates n against rec. It compiles n on every call; use Compile
// when matching many records.
func Match(n Node, rec Record) bool {
	m, err := Compile(n)
	if err != nil {
		return false
	}
	return m.Match(rec)
}
