package optimizer

import "github.com/coffersTech/nanosearch/internal/pkg/nanoql"

// mergeAssociative flattens a Binary whose child uses the same operator:
// AND(AND(a, b), c) becomes AND(a, b, c). Children are processed first.
func (r *run) mergeAssociative(n nanoql.Node) (nanoql.Node, bool) {
	switch x := n.(type) {
	case nanoql.Unary:
		operand, changed := r.mergeAssociative(x.Operand)
		if !changed {
			return n, false
		}
		return nanoql.Unary{Op: x.Op, Operand: operand}, true

	case nanoql.Binary:
		changed, flattened := false, false
		operands := make([]nanoql.Node, 0, len(x.Operands))
		for _, child := range x.Operands {
			c, ch := r.mergeAssociative(child)
			changed = changed || ch
			if cb, ok := c.(nanoql.Binary); ok && cb.Op == x.Op {
				operands = append(operands, cb.Operands...)
				flattened = true
				continue
			}
			operands = append(operands, c)
		}
		if !changed && !flattened {
			return n, false
		}
		out := rebuild(x.Op, operands)
		if flattened {
			r.record("merge associative", x, out)
		}
		return out, true
	}
	return n, false
}
