package optimizer

import "github.com/coffersTech/nanosearch/internal/pkg/nanoql"

// promoteModifiers factors a shared field modifier out of a Binary:
//
//	mod:(a) OP mod:(b) OP c  ->  mod:(a OP b) OP c
//
// Negation never groups. Each group takes the position of its first member;
// when the only thing left is a single group the Binary dissolves into it.
func (r *run) promoteModifiers(b nanoql.Binary) (nanoql.Node, bool) {
	groups := make(map[string][]int)
	for i, op := range b.Operands {
		if u, ok := op.(nanoql.Unary); ok && isModifier(u.Op) {
			groups[u.Op] = append(groups[u.Op], i)
		}
	}

	promotable := false
	for _, members := range groups {
		if len(members) >= 2 {
			promotable = true
			break
		}
	}
	if !promotable {
		return b, false
	}

	operands := make([]nanoql.Node, 0, len(b.Operands))
	emitted := make(map[string]bool)
	for _, op := range b.Operands {
		u, ok := op.(nanoql.Unary)
		if !ok || !isModifier(u.Op) || len(groups[u.Op]) < 2 {
			operands = append(operands, op)
			continue
		}
		if emitted[u.Op] {
			continue
		}
		emitted[u.Op] = true

		members := groups[u.Op]
		inner := make([]nanoql.Node, len(members))
		for j, idx := range members {
			m, ok := b.Operands[idx].(nanoql.Unary)
			r.invariant(ok && m.Op == u.Op, "group %q holds operand %d of another kind", u.Op, idx)
			if !ok {
				// Keep the tree intact rather than guess.
				return b, false
			}
			inner[j] = m.Operand
		}
		operands = append(operands, nanoql.Unary{
			Op:      u.Op,
			Operand: nanoql.Binary{Op: b.Op, Operands: inner},
		})
	}

	out := rebuild(b.Op, operands)
	r.record("promote modifier", b, out)
	return out, true
}
