package optimizer

import "github.com/coffersTech/nanosearch/internal/pkg/nanoql"

// consolidatePattern folds the plain word, phrase and pattern operands of an
// OR into a single pattern:
//
//	foo OR "bar baz" OR /qu+x/  ->  /bar baz|foo|(?:qu+x)/
//
// Only direct, unscoped operands take part. The merged pattern replaces the
// first of them and lists its sources in canonical order. When the merged expression is rejected by the builder the
// node is left alone.
func (r *run) consolidatePattern(b nanoql.Binary) (nanoql.Node, bool) {
	if b.Op != nanoql.OpOr {
		return b, false
	}

	var sources []nanoql.Source
	folded := make([]bool, len(b.Operands))
	first, merged := -1, 0
	for i, op := range b.Operands {
		if !r.services.IsPatternEligible(op) {
			continue
		}
		switch x := op.(type) {
		case nanoql.Text:
			sources = append(sources, nanoql.Source{Kind: nanoql.SourceText, Value: x.Value})
		case nanoql.Quoted:
			sources = append(sources, nanoql.Source{Kind: nanoql.SourceQuoted, Value: x.Value})
		case nanoql.Pattern:
			sources = append(sources, x.Sources...)
		default:
			r.invariant(false, "pattern-eligible operand of type %T", op)
			continue
		}
		if first < 0 {
			first = i
		}
		folded[i] = true
		merged++
	}
	if merged < 2 {
		return b, false
	}

	sortSources(sources)
	value, ok := r.services.BuildPattern(sources)
	if !ok {
		r.logger.Debug("pattern consolidation rejected", "sources", len(sources))
		return b, false
	}

	pattern := nanoql.Pattern{Value: value, Sources: sources}
	operands := make([]nanoql.Node, 0, len(b.Operands)-merged+1)
	for i, op := range b.Operands {
		switch {
		case i == first:
			operands = append(operands, pattern)
		case folded[i]:
		default:
			operands = append(operands, op)
		}
	}

	out := rebuild(b.Op, operands)
	r.record("consolidate pattern", b, out)
	return out, true
}
