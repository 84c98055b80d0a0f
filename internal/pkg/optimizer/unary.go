package optimizer

import "github.com/coffersTech/nanosearch/internal/pkg/nanoql"

// mergeUnaryChain simplifies chains of unary operators, bottom-up:
//
//	-<true>          -> <false>      mod:<true>  -> <true>
//	-(-(x))          -> x
//	-(mod:(x))       -> mod:(-(x))
//	outer:(inner:x)  -> inner:x      (also when outer == inner)
//
// Moving negation inside the modifier gives negated and plain operands under
// the same modifier a common outer wrapper, which promoteModifiers groups on.
func (r *run) mergeUnaryChain(n nanoql.Node) (nanoql.Node, bool) {
	switch x := n.(type) {
	case nanoql.Binary:
		changed := false
		operands := make([]nanoql.Node, len(x.Operands))
		for i, child := range x.Operands {
			c, ch := r.mergeUnaryChain(child)
			operands[i] = c
			changed = changed || ch
		}
		if !changed {
			return n, false
		}
		return nanoql.Binary{Op: x.Op, Operands: operands}, true

	case nanoql.Unary:
		operand, changed := r.mergeUnaryChain(x.Operand)
		u := x
		if changed {
			u = nanoql.Unary{Op: x.Op, Operand: operand}
		}
		out, simplified := r.simplifyUnary(u)
		return out, changed || simplified
	}
	return n, false
}

// simplifyUnary applies the chain rules to u, whose operand is already
// simplified.
func (r *run) simplifyUnary(u nanoql.Unary) (nanoql.Node, bool) {
	switch inner := u.Operand.(type) {
	case nanoql.Truth:
		out := nanoql.Node(inner)
		if u.Op == nanoql.OpNot {
			out = nanoql.Truth{Value: !inner.Value}
		}
		r.record("merge unary", u, out)
		return out, true

	case nanoql.Unary:
		switch {
		case u.Op == nanoql.OpNot && inner.Op == nanoql.OpNot:
			out := inner.Operand
			r.record("merge unary", u, out)
			return out, true

		case u.Op == nanoql.OpNot:
			neg, _ := r.simplifyUnary(nanoql.Unary{Op: nanoql.OpNot, Operand: inner.Operand})
			out, _ := r.simplifyUnary(nanoql.Unary{Op: inner.Op, Operand: neg})
			r.record("merge unary", u, out)
			return out, true

		case inner.Op == nanoql.OpNot:
			// mod:(-(x)) is the canonical form.
			return u, false

		default:
			// Nested modifiers: the inner one wins.
			r.record("merge unary", u, inner)
			return inner, true
		}
	}
	return u, false
}
