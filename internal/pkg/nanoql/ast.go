package nanoql

// Node is the interface implemented by all AST nodes.
//
// Nodes are values and are never modified after construction. Rewrites build
// new nodes and may share unchanged children (and pattern sources) with the
// tree they were derived from.
type Node interface {
	node() // marker method
}

// Operators understood by Unary and Binary nodes.
const (
	OpNot = "-"
	OpAnd = "and"
	OpOr  = "or"
)

// Field modifiers. A modifier restricts its operand to a single entry field.
const (
	ModSite  = "site"
	ModTitle = "title"
	ModURL   = "url"
)

// Modifiers lists every field modifier the parser produces.
var Modifiers = []string{ModSite, ModTitle, ModURL}

// IsModifier reports whether op is a field modifier (as opposed to negation).
func IsModifier(op string) bool {
	switch op {
	case ModSite, ModTitle, ModURL:
		return true
	}
	return false
}

// Text is a bare search term.
type Text struct {
	Value string
}

func (Text) node() {}

// Quoted is a "quoted phrase". It matches like Text.
type Quoted struct {
	Value string
}

func (Quoted) node() {}

// SourceKind tags the origin of a pattern fragment.
type SourceKind uint8

const (
	SourceText SourceKind = iota
	SourceQuoted
	SourcePattern
)

func (k SourceKind) String() string {
	switch k {
	case SourceText:
		return "text"
	case SourceQuoted:
		return "quoted"
	case SourcePattern:
		return "pattern"
	default:
		return "unknown"
	}
}

// Source records one literal or sub-pattern folded into a Pattern.
type Source struct {
	Kind  SourceKind
	Value string
}

// Pattern is a regular expression leaf.
//
// Value holds the compiled expression source. Failed is set when compilation
// failed, in which case the node never matches. Sources is shared between
// rewrites and must not be written to.
type Pattern struct {
	Value   string
	Failed  bool
	Sources []Source
}

func (Pattern) node() {}

// Unary applies negation or a field modifier to its operand.
type Unary struct {
	Op      string // OpNot or one of Modifiers
	Operand Node
}

func (Unary) node() {}

// Binary is an n-ary AND/OR. A valid Binary has at least two operands.
type Binary struct {
	Op       string // OpAnd or OpOr
	Operands []Node
}

func (Binary) node() {}

// Truth is a resolved tautology (true) or contradiction (false).
type Truth struct {
	Value bool
}

func (Truth) node() {}

// Not wraps n in a negation.
func Not(n Node) Node { return Unary{Op: OpNot, Operand: n} }

// And builds an AND over the given operands.
func And(operands ...Node) Node { return Binary{Op: OpAnd, Operands: operands} }

// Or builds an OR over the given operands.
func Or(operands ...Node) Node { return Binary{Op: OpOr, Operands: operands} }

// Scope wraps n in the field modifier mod.
func Scope(mod string, n Node) Node { return Unary{Op: mod, Operand: n} }

// Equal reports whether a and b are structurally identical.
func Equal(a, b Node) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case Text:
		y, ok := b.(Text)
		return ok && x.Value == y.Value
	case Quoted:
		y, ok := b.(Quoted)
		return ok && x.Value == y.Value
	case Pattern:
		y, ok := b.(Pattern)
		if !ok || x.Value != y.Value || x.Failed != y.Failed || len(x.Sources) != len(y.Sources) {
			return false
		}
		for i := range x.Sources {
			if x.Sources[i] != y.Sources[i] {
				return false
			}
		}
		return true
	case Unary:
		y, ok := b.(Unary)
		return ok && x.Op == y.Op && Equal(x.Operand, y.Operand)
	case Binary:
		y, ok := b.(Binary)
		if !ok || x.Op != y.Op || len(x.Operands) != len(y.Operands) {
			return false
		}
		for i := range x.Operands {
			if !Equal(x.Operands[i], y.Operands[i]) {
				return false
			}
		}
		return true
	case Truth:
		y, ok := b.(Truth)
		return ok && x.Value == y.Value
	default:
		return false
	}
}

// Count returns the number of nodes in the tree rooted at n.
func Count(n Node) int {
	switch x := n.(type) {
	case nil:
		return 0
	case Unary:
		return 1 + Count(x.Operand)
	case Binary:
		c := 1
		for _, op := range x.Operands {
			c += Count(op)
		}
		return c
	default:
		return 1
	}
}
