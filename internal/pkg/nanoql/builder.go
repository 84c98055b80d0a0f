package nanoql

import (
	"regexp"
	"strings"
)

// Builder provides the stateless tree services shared by the parser and the
// optimizer: cloning, pattern eligibility, pattern compilation and rendering.
// The zero value is ready to use.
type Builder struct {
	// MaxPatternLength caps the size of a compiled pattern. Zero means no cap.
	MaxPatternLength int
}

// DefaultBuilder is the Builder used by Parse.
var DefaultBuilder = Builder{MaxPatternLength: 4096}

// Clone returns a deep copy of n. Pattern sources are shared since they are
// never written after creation.
func (b Builder) Clone(n Node) Node {
	switch x := n.(type) {
	case Unary:
		return Unary{Op: x.Op, Operand: b.Clone(x.Operand)}
	case Binary:
		ops := make([]Node, len(x.Operands))
		for i, op := range x.Operands {
			ops[i] = b.Clone(op)
		}
		return Binary{Op: x.Op, Operands: ops}
	default:
		// Leaves are plain values.
		return n
	}
}

// IsPatternEligible reports whether leaf can be folded into a pattern.
func (b Builder) IsPatternEligible(leaf Node) bool {
	switch x := leaf.(type) {
	case Text:
		return x.Value != ""
	case Quoted:
		return x.Value != ""
	case Pattern:
		return !x.Failed && len(x.Sources) > 0
	}
	return false
}

// BuildPattern joins sources into one alternation and validates it.
// It returns false when the result does not compile or exceeds the size cap.
func (b Builder) BuildPattern(sources []Source) (string, bool) {
	if len(sources) == 0 {
		return "", false
	}
	parts := make([]string, len(sources))
	for i, src := range sources {
		switch src.Kind {
		case SourcePattern:
			if len(sources) == 1 {
				parts[i] = src.Value
			} else {
				parts[i] = "(?:" + src.Value + ")"
			}
		default:
			parts[i] = regexp.QuoteMeta(src.Value)
		}
	}
	expr := strings.Join(parts, "|")
	if b.MaxPatternLength > 0 && len(expr) > b.MaxPatternLength {
		return "", false
	}
	if _, err := CompilePattern(expr); err != nil {
		return "", false
	}
	return expr, true
}

// CompilePattern compiles a pattern value the way the Matcher evaluates it.
func CompilePattern(expr string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + expr)
}
