package optimizer

import (
	"strings"

	"github.com/coffersTech/nanosearch/internal/pkg/nanoql"
)

// term is an operand split into its positive atom (leaf plus the modifier it
// is evaluated under) and a negation flag: mod:(-(leaf)) or -(leaf) or leaf.
// An empty modifier means every field.
type term struct {
	leaf     nanoql.Node
	modifier string
	negated  bool
}

// decompose splits n, found below the field modifier scope ("" at top level).
func decompose(n nanoql.Node, scope string) term {
	t := term{modifier: scope}
	if u, ok := n.(nanoql.Unary); ok && isModifier(u.Op) {
		t.modifier = u.Op
		n = u.Operand
	}
	if u, ok := n.(nanoql.Unary); ok && u.Op == nanoql.OpNot {
		t.negated = true
		n = u.Operand
	}
	t.leaf = n
	return t
}

// implies reports whether every entry matching atom p also matches atom q,
// judged by value inclusion and scope. An unscoped atom is the disjunction
// of the same atom over every field, so a scoped atom implies its unscoped
// counterpart but never the reverse. Atoms under different modifiers are
// unrelated.
func (r *run) implies(p, q term) bool {
	if p.modifier != q.modifier && q.modifier != "" {
		return false
	}
	switch pl := p.leaf.(type) {
	case nanoql.Text, nanoql.Quoted:
		pv, qv, ok := textValues(p.leaf, q.leaf)
		return ok && strings.Contains(pv, qv)
	case nanoql.Pattern:
		ql, ok := q.leaf.(nanoql.Pattern)
		return ok && pl.Failed == ql.Failed && pl.Value == ql.Value
	case nanoql.Truth:
		return false
	default:
		// Compound atoms only relate to the same atom under the same
		// modifier: a scoped compound may hide a negation, which does not
		// widen the way a plain leaf does. Operand order is ignored.
		return p.modifier == q.modifier &&
			nanoql.Equal(canonicalize(r.services, p.leaf), canonicalize(r.services, q.leaf))
	}
}

func textValues(a, b nanoql.Node) (string, string, bool) {
	av, ok := textValue(a)
	if !ok {
		return "", "", false
	}
	bv, ok := textValue(b)
	if !ok {
		return "", "", false
	}
	return av, bv, true
}

func textValue(n nanoql.Node) (string, bool) {
	switch x := n.(type) {
	case nanoql.Text:
		return x.Value, true
	case nanoql.Quoted:
		return x.Value, true
	}
	return "", false
}

// outcome is the verdict on one operand pair.
type outcome uint8

const (
	keepBoth outcome = iota
	dropRef
	dropCmp
	contradiction // the whole AND is false
	tautology     // the whole OR is true
)

// decide applies the negation truth table to the pair (ref, cmp) of an
// AND/OR node. With P and Q the positive atoms of ref and cmp:
//
//	AND   P,Q   P=>Q drop cmp    Q=>P drop ref
//	AND  -P,-Q  P=>Q drop ref    Q=>P drop cmp
//	AND   P,-Q  P=>Q false
//	AND  -P,Q   Q=>P false
//	OR    P,Q   P=>Q drop ref    Q=>P drop cmp
//	OR   -P,-Q  P=>Q drop cmp    Q=>P drop ref
//	OR    P,-Q  Q=>P true
//	OR   -P,Q   P=>Q true
//
// Equivalent atoms always drop cmp, keeping the earlier operand.
func (r *run) decide(op string, ref, cmp term) outcome {
	pq, qp := r.implies(ref, cmp), r.implies(cmp, ref)
	if !pq && !qp {
		return keepBoth
	}

	if ref.negated != cmp.negated {
		switch {
		case op == nanoql.OpAnd && !ref.negated && pq:
			return contradiction
		case op == nanoql.OpAnd && ref.negated && qp:
			return contradiction
		case op == nanoql.OpOr && !ref.negated && qp:
			return tautology
		case op == nanoql.OpOr && ref.negated && pq:
			return tautology
		}
		return keepBoth
	}

	if pq && qp {
		return dropCmp
	}
	// Both plain or both negated. Negating both sides flips the implication.
	keepNarrow := op == nanoql.OpAnd
	if ref.negated {
		keepNarrow = !keepNarrow
	}
	refNarrow := pq
	if keepNarrow == refNarrow {
		return dropCmp
	}
	return dropRef
}

// mergeOperands drops operands made redundant by another operand of the same
// Binary, and collapses the Binary to a Truth leaf on a contradiction (AND)
// or a tautology (OR). scope is the field modifier in effect at b.
func (r *run) mergeOperands(b nanoql.Binary, scope string) (nanoql.Node, bool) {
	terms := make([]term, len(b.Operands))
	keep := make([]bool, len(b.Operands))
	for i, op := range b.Operands {
		terms[i] = decompose(op, scope)
		keep[i] = true
	}

	// Truth operands: the absorbing value decides the node, the identity
	// value is dropped.
	absorbing := b.Op == nanoql.OpOr
	for i, t := range terms {
		tv, ok := t.leaf.(nanoql.Truth)
		if !ok {
			continue
		}
		if (tv.Value != t.negated) == absorbing {
			out := nanoql.Truth{Value: absorbing}
			r.record("merge operands", b, out)
			return out, true
		}
		keep[i] = false
	}

	for i := 0; i < len(terms); i++ {
		for j := i + 1; j < len(terms); j++ {
			if !keep[i] && !keep[j] {
				continue
			}
			switch r.decide(b.Op, terms[i], terms[j]) {
			case contradiction, tautology:
				// Checked for dropped operands too; the verdict is about the
				// original node.
				out := nanoql.Truth{Value: b.Op == nanoql.OpOr}
				r.record("merge operands", b, out)
				return out, true
			case dropRef:
				if keep[i] && keep[j] {
					keep[i] = false
				}
			case dropCmp:
				if keep[i] && keep[j] {
					keep[j] = false
				}
			}
		}
	}

	operands := make([]nanoql.Node, 0, len(b.Operands))
	for i, op := range b.Operands {
		if keep[i] {
			operands = append(operands, op)
		}
	}
	if len(operands) == len(b.Operands) {
		return b, false
	}

	out := rebuild(b.Op, operands)
	r.record("merge operands", b, out)
	return out, true
}
