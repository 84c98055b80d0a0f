package optimizer

import "github.com/coffersTech/nanosearch/internal/pkg/nanoql"

// rewriteBinaries visits every Binary bottom-up and applies, in order,
// modifier promotion, operand merging and (for OR) pattern consolidation.
// A step that dissolves the Binary ends the sequence for that node.
func (r *run) rewriteBinaries(n nanoql.Node) (nanoql.Node, bool) {
	return r.rewriteScoped(n, "")
}

// rewriteScoped carries the field modifier in effect at n, which is what an
// unscoped leaf below it is evaluated against.
func (r *run) rewriteScoped(n nanoql.Node, scope string) (nanoql.Node, bool) {
	switch x := n.(type) {
	case nanoql.Unary:
		inner := scope
		if isModifier(x.Op) {
			inner = x.Op
		}
		operand, changed := r.rewriteScoped(x.Operand, inner)
		if !changed {
			return n, false
		}
		return nanoql.Unary{Op: x.Op, Operand: operand}, true

	case nanoql.Binary:
		changed := false
		operands := make([]nanoql.Node, len(x.Operands))
		for i, child := range x.Operands {
			c, ch := r.rewriteScoped(child, scope)
			operands[i] = c
			changed = changed || ch
		}
		b := x
		if changed {
			b = nanoql.Binary{Op: x.Op, Operands: operands}
		}
		out, ch := r.rewriteBinary(b, scope)
		return out, changed || ch
	}
	return n, false
}

func (r *run) rewriteBinary(b nanoql.Binary, scope string) (nanoql.Node, bool) {
	r.invariant(len(b.Operands) >= 2, "%s node with %d operands", b.Op, len(b.Operands))

	steps := []func(nanoql.Binary) (nanoql.Node, bool){
		r.promoteModifiers,
		func(b nanoql.Binary) (nanoql.Node, bool) { return r.mergeOperands(b, scope) },
		r.consolidatePattern,
	}

	var out nanoql.Node = b
	changed := false
	for _, step := range steps {
		cur, ok := out.(nanoql.Binary)
		if !ok {
			break
		}
		next, ch := step(cur)
		out = next
		changed = changed || ch
	}
	return out, changed
}
