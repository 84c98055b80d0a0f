package optimizer

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/coffersTech/nanosearch/internal/pkg/nanoql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOptimizer(opts ...Option) *Optimizer {
	opts = append([]Option{WithStrictInvariants(true)}, opts...)
	return New(nanoql.DefaultBuilder, opts...)
}

func optimizeQuery(t *testing.T, query string) (string, Diagnostics) {
	t.Helper()
	tree, err := nanoql.Parse(query)
	require.NoError(t, err)
	out, diag := newTestOptimizer().Optimize(tree)
	return nanoql.String(out), diag
}

func TestOptimize(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"single word", "foo", "foo"},
		{"contradiction", "foo AND -foo", "<false>"},
		{"contradiction in flattened and", "a AND b AND -a", "<false>"},
		{"tautology", "foo OR -foo", "<true>"},
		{"and keeps narrower", "foo AND foobar", "foobar"},
		{"or keeps broader", "foo OR foobar", "foo"},
		{"and of negations", "-foo AND -foobar", "-foo"},
		{"or of negations", "-foo OR -foobar", "-foobar"},
		{"duplicate word", "foo foo", "foo"},
		{"phrase implies word", `"foo bar" AND foo`, `"foo bar"`},
		{"scoped implies unscoped in and", "site:foo AND foo", "site:foo"},
		{"scoped implies unscoped in or", "site:foo OR foo", "foo"},
		{"different modifiers unrelated", "site:foo AND title:foo", "site:foo AND title:foo"},
		{"outer scope applies to plain words", "title:(site:foo OR foo)", "title:(foo OR site:foo)"},
		{"promote and", "site:a AND site:b", "site:(a AND b)"},
		{"promote or then consolidate", "site:a OR site:b", "site:/a|b/"},
		{"promote keeps other operands", "site:a AND x AND site:b", "x AND site:(a AND b)"},
		{"double negation", "NOT NOT foo", "foo"},
		{"negation moves inside modifier", "-(site:foo)", "site:-foo"},
		{"nested modifiers inner wins", "site:(title:foo)", "title:foo"},
		{"consolidate", `foo OR "bar baz" OR /qu+x/`, "/bar baz|foo|(?:qu+x)/"},
		{"consolidate skips scoped", "foo OR bar OR site:x", "/bar|foo/ OR site:x"},
		{"tautology absorbed by and", "foo AND (bar OR -bar)", "foo"},
		{"contradiction absorbed by or", "foo OR (bar AND -bar)", "foo"},
		{"canonical order", "zeta AND -alpha AND beta", "beta AND zeta AND -alpha"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, diag := optimizeQuery(t, tt.query)
			assert.Equal(t, tt.want, got)
			assert.False(t, diag.Interrupted)
		})
	}
}

func TestOptimizeNil(t *testing.T) {
	out, diag := newTestOptimizer().Optimize(nil)
	assert.Nil(t, out)
	assert.Zero(t, diag.Iterations)
	assert.Empty(t, diag.ChangeLog)
}

func TestDiagnostics(t *testing.T) {
	_, diag := optimizeQuery(t, "foo")
	assert.Equal(t, 1, diag.Iterations)
	assert.Empty(t, diag.ChangeLog)

	_, diag = optimizeQuery(t, "foo AND -foo")
	assert.Equal(t, 2, diag.Iterations)
	require.Len(t, diag.ChangeLog, 1)
	assert.Equal(t, "merge operands: foo AND -foo -> <false>", diag.ChangeLog[0])

	_, diag = optimizeQuery(t, "NOT NOT foo")
	require.NotEmpty(t, diag.ChangeLog)
	assert.True(t, strings.HasPrefix(diag.ChangeLog[0], "merge unary: "))
}

func TestInterrupted(t *testing.T) {
	for _, max := range []int{DefaultMaxIterations, 5} {
		t.Run(fmt.Sprint(max), func(t *testing.T) {
			o := newTestOptimizer(WithMaxIterations(max))
			// Undone by mergeUnaryChain on the next iteration, so the loop
			// never settles.
			o.passes = append(o.passes, func(r *run, n nanoql.Node) (nanoql.Node, bool) {
				return nanoql.Not(nanoql.Not(n)), true
			})

			_, diag := o.Optimize(nanoql.Text{Value: "foo"})
			assert.True(t, diag.Interrupted)
			assert.Equal(t, max-1, diag.Iterations)
			require.NotEmpty(t, diag.ChangeLog)
			assert.Equal(t, fmt.Sprintf("interrupted after %d iterations", max), diag.ChangeLog[len(diag.ChangeLog)-1])
		})
	}
}

func TestInputNotModified(t *testing.T) {
	queries := []string{
		"site:a OR site:b OR foo OR bar",
		"foo AND (foobar AND -(title:x))",
		`(a OR "b c") AND -(-d)`,
	}
	for _, q := range queries {
		tree, err := nanoql.Parse(q)
		require.NoError(t, err)
		snapshot := nanoql.DefaultBuilder.Clone(tree)

		newTestOptimizer().Optimize(tree)
		assert.True(t, nanoql.Equal(snapshot, tree), "input of %q was modified", q)
	}
}

func TestIdempotent(t *testing.T) {
	queries := []string{
		"foo OR bar OR baz",
		"site:a AND site:b AND -(site:c)",
		"(a OR -b) AND (-b OR a)",
		"(x OR y) AND (y OR x) AND z",
		"title:(foo OR bar) OR title:baz",
		"-(a AND b) OR c",
	}
	o := newTestOptimizer()
	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			tree, err := nanoql.Parse(q)
			require.NoError(t, err)
			first, _ := o.Optimize(tree)
			second, diag := o.Optimize(first)
			assert.Equal(t, nanoql.String(first), nanoql.String(second))
			assert.Empty(t, diag.ChangeLog)
		})
	}
}

func TestCanonicalize(t *testing.T) {
	tree := nanoql.Or(
		nanoql.Truth{Value: true},
		nanoql.And(nanoql.Text{Value: "b"}, nanoql.Text{Value: "a"}),
		nanoql.Not(nanoql.Text{Value: "z"}),
		nanoql.Pattern{Value: "x+", Sources: []nanoql.Source{{Kind: nanoql.SourcePattern, Value: "x+"}}},
		nanoql.Quoted{Value: "m"},
		nanoql.Text{Value: "m"},
		nanoql.Truth{Value: false},
	)
	got := Canonicalize(nanoql.DefaultBuilder, tree)
	assert.Equal(t, `m OR "m" OR /x+/ OR -z OR (a AND b) OR <false> OR <true>`, nanoql.String(got))
	assert.Nil(t, Canonicalize(nanoql.DefaultBuilder, nil))
}

func TestCanonicalPatternSources(t *testing.T) {
	p := nanoql.Pattern{
		Value: "b|a",
		Sources: []nanoql.Source{
			{Kind: nanoql.SourceText, Value: "b"},
			{Kind: nanoql.SourceText, Value: "a"},
		},
	}
	got, ok := Canonicalize(nanoql.DefaultBuilder, p).(nanoql.Pattern)
	require.True(t, ok)
	assert.Equal(t, "a|b", got.Value)
	assert.Equal(t, "a", got.Sources[0].Value)
	// The original sources are left alone.
	assert.Equal(t, "b", p.Sources[0].Value)
}

func TestConsolidateSources(t *testing.T) {
	tests := []struct {
		query   string
		value   string
		sources []nanoql.Source
	}{
		{
			query: "dog OR cat",
			value: "cat|dog",
			sources: []nanoql.Source{
				{Kind: nanoql.SourceText, Value: "cat"},
				{Kind: nanoql.SourceText, Value: "dog"},
			},
		},
		{
			query: `foo OR "bar baz" OR /qu+x/`,
			value: "bar baz|foo|(?:qu+x)",
			sources: []nanoql.Source{
				{Kind: nanoql.SourceQuoted, Value: "bar baz"},
				{Kind: nanoql.SourceText, Value: "foo"},
				{Kind: nanoql.SourcePattern, Value: "qu+x"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			tree, err := nanoql.Parse(tt.query)
			require.NoError(t, err)
			out, _ := newTestOptimizer().Optimize(tree)

			p, ok := out.(nanoql.Pattern)
			require.True(t, ok, "got %s", nanoql.String(out))
			assert.False(t, p.Failed)
			assert.Equal(t, tt.value, p.Value)
			assert.Equal(t, tt.sources, p.Sources)
		})
	}
}

func TestOptimizeMixedCaseTree(t *testing.T) {
	tree := nanoql.Or(nanoql.Text{Value: "Foo"}, nanoql.Text{Value: "bar"})
	optimized, _ := newTestOptimizer().Optimize(tree)
	_, ok := optimized.(nanoql.Pattern)
	require.True(t, ok, "got %s", nanoql.String(optimized))

	for _, e := range []entry{{"", "foo", "", ""}, {"", "FOO", "", ""}, {"", "baz", "", ""}} {
		assert.Equal(t, nanoql.Match(tree, e), nanoql.Match(optimized, e), "entry %v", e)
	}
	assert.True(t, nanoql.Match(tree, entry{"", "foo", "", ""}))
}

func TestConsolidateRejected(t *testing.T) {
	b := nanoql.Builder{MaxPatternLength: 4}
	tree := nanoql.Or(nanoql.Text{Value: "alpha"}, nanoql.Text{Value: "beta"})
	out, _ := New(b, WithStrictInvariants(true)).Optimize(tree)
	assert.Equal(t, "alpha OR beta", b.QueryString(out))
}

func TestStrictInvariant(t *testing.T) {
	o := newTestOptimizer()
	r := o.newRun()
	assert.Panics(t, func() { r.invariant(false, "boom") })

	lenient := New(nanoql.DefaultBuilder).newRun()
	assert.NotPanics(t, func() { lenient.invariant(false, "boom") })
}

// entry implements nanoql.Record for the equivalence test.
type entry [4]string

func (e entry) Field(name string) string {
	switch name {
	case nanoql.ModSite:
		return e[0]
	case nanoql.ModTitle:
		return e[1]
	case nanoql.ModURL:
		return e[2]
	case nanoql.FieldContent:
		return e[3]
	}
	return ""
}

type treeGen struct {
	rng *rand.Rand
}

var (
	genWords    = []string{"a", "ab", "b", "ba", "abc", "c"}
	genPatterns = []string{"a.?b", "^ab", "c$", "b+"}
)

func (g treeGen) leaf() nanoql.Node {
	switch g.rng.IntN(10) {
	case 0:
		return nanoql.Quoted{Value: genWords[g.rng.IntN(len(genWords))]}
	case 1:
		src := []nanoql.Source{{Kind: nanoql.SourcePattern, Value: genPatterns[g.rng.IntN(len(genPatterns))]}}
		value, ok := nanoql.DefaultBuilder.BuildPattern(src)
		return nanoql.Pattern{Value: value, Failed: !ok, Sources: src}
	case 2:
		return nanoql.Truth{Value: g.rng.IntN(2) == 0}
	default:
		return nanoql.Text{Value: genWords[g.rng.IntN(len(genWords))]}
	}
}

func (g treeGen) node(depth int) nanoql.Node {
	if depth == 0 {
		return g.leaf()
	}
	switch g.rng.IntN(6) {
	case 0:
		return g.leaf()
	case 1:
		return nanoql.Not(g.node(depth - 1))
	case 2:
		return nanoql.Scope(nanoql.Modifiers[g.rng.IntN(len(nanoql.Modifiers))], g.node(depth-1))
	default:
		operands := make([]nanoql.Node, 2+g.rng.IntN(3))
		for i := range operands {
			operands[i] = g.node(depth - 1)
		}
		op := nanoql.OpAnd
		if g.rng.IntN(2) == 0 {
			op = nanoql.OpOr
		}
		return nanoql.Binary{Op: op, Operands: operands}
	}
}

func (g treeGen) entry() entry {
	var e entry
	for i := range e {
		var sb strings.Builder
		for n := g.rng.IntN(5); n > 0; n-- {
			sb.WriteByte("abc"[g.rng.IntN(3)])
		}
		e[i] = sb.String()
	}
	return e
}

func TestOptimizePreservesMatches(t *testing.T) {
	g := treeGen{rng: rand.New(rand.NewPCG(7, 42))}
	o := newTestOptimizer()

	entries := make([]entry, 200)
	for i := range entries {
		entries[i] = g.entry()
	}

	for i := 0; i < 500; i++ {
		tree := g.node(4)
		optimized, diag := o.Optimize(tree)
		require.False(t, diag.Interrupted, "query %s", nanoql.String(tree))

		before, err := nanoql.Compile(tree)
		require.NoError(t, err)
		after, err := nanoql.Compile(optimized)
		require.NoError(t, err)

		for _, e := range entries {
			if before.Match(e) != after.Match(e) {
				t.Fatalf("match differs for %v\n  query:     %s\n  optimized: %s\n  changes:   %s",
					e, nanoql.String(tree), nanoql.String(optimized), strings.Join(diag.ChangeLog, "; "))
			}
		}

		again, _ := o.Optimize(optimized)
		require.Equal(t, nanoql.String(optimized), nanoql.String(again), "not idempotent for %s", nanoql.String(tree))
	}
}
