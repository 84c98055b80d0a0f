package optimizer

import (
	"cmp"
	"slices"

	"github.com/coffersTech/nanosearch/internal/pkg/nanoql"
)

// Canonicalize sorts the operands of every Binary in n, and the sources of
// every consolidated pattern, into a fixed order so that equivalent trees
// render identically. Optimize already applies it to its result.
func Canonicalize(services Services, n nanoql.Node) nanoql.Node {
	if n == nil {
		return nil
	}
	return canonicalize(services, n)
}

func canonicalize(services Services, n nanoql.Node) nanoql.Node {
	switch x := n.(type) {
	case nanoql.Unary:
		return nanoql.Unary{Op: x.Op, Operand: canonicalize(services, x.Operand)}

	case nanoql.Binary:
		operands := make([]nanoql.Node, len(x.Operands))
		for i, op := range x.Operands {
			operands[i] = canonicalize(services, op)
		}
		slices.SortStableFunc(operands, func(a, b nanoql.Node) int {
			return compareNodes(services, a, b)
		})
		return nanoql.Binary{Op: x.Op, Operands: operands}

	case nanoql.Pattern:
		return canonicalPattern(services, x)
	}
	return n
}

// canonicalPattern orders the sources of p. The value is rebuilt from the
// sorted sources; if the builder rejects it p is kept as it was.
func canonicalPattern(services Services, p nanoql.Pattern) nanoql.Node {
	if p.Failed || len(p.Sources) < 2 {
		return p
	}
	sorted := slices.Clone(p.Sources)
	sortSources(sorted)
	if slices.Equal(sorted, p.Sources) {
		return p
	}
	value, ok := services.BuildPattern(sorted)
	if !ok {
		return p
	}
	return nanoql.Pattern{Value: value, Sources: sorted}
}

// sortSources orders pattern sources by value, then kind.
func sortSources(sources []nanoql.Source) {
	slices.SortStableFunc(sources, func(a, b nanoql.Source) int {
		return cmp.Or(cmp.Compare(a.Value, b.Value), cmp.Compare(a.Kind, b.Kind))
	})
}

// rank orders node kinds: words and phrases, patterns, unary, binary, truth.
func rank(n nanoql.Node) int {
	switch n.(type) {
	case nanoql.Text, nanoql.Quoted:
		return 0
	case nanoql.Pattern:
		return 1
	case nanoql.Unary:
		return 2
	case nanoql.Binary:
		return 3
	case nanoql.Truth:
		return 4
	}
	return 5
}

func compareNodes(services Services, a, b nanoql.Node) int {
	if c := cmp.Compare(rank(a), rank(b)); c != 0 {
		return c
	}
	switch x := a.(type) {
	case nanoql.Text:
		switch y := b.(type) {
		case nanoql.Text:
			return cmp.Compare(x.Value, y.Value)
		case nanoql.Quoted:
			return cmp.Or(cmp.Compare(x.Value, y.Value), -1)
		}
	case nanoql.Quoted:
		switch y := b.(type) {
		case nanoql.Text:
			return cmp.Or(cmp.Compare(x.Value, y.Value), 1)
		case nanoql.Quoted:
			return cmp.Compare(x.Value, y.Value)
		}
	case nanoql.Pattern:
		y := b.(nanoql.Pattern)
		// Failed patterns first.
		if x.Failed != y.Failed {
			if x.Failed {
				return -1
			}
			return 1
		}
		return cmp.Compare(x.Value, y.Value)
	case nanoql.Unary, nanoql.Binary:
		return cmp.Compare(services.QueryString(a), services.QueryString(b))
	case nanoql.Truth:
		y := b.(nanoql.Truth)
		switch {
		case x.Value == y.Value:
			return 0
		case !x.Value:
			return -1
		default:
			return 1
		}
	}
	return 0
}
