// Package optimizer rewrites a parsed NanoQL tree into a smaller, logically
// equivalent and canonical tree before it is matched against entries.
//
// The optimizer repeatedly applies a fixed set of structural passes until none
// of them reports a change, or until an iteration cap is reached, then sorts
// the result into canonical order. Every pass builds new nodes and never
// modifies the tree it was given.
package optimizer

import (
	"fmt"
	"log/slog"

	"github.com/coffersTech/nanosearch/internal/pkg/nanoql"
)

// DefaultMaxIterations bounds the fixpoint loop.
const DefaultMaxIterations = 100

// Services are the tree helpers the optimizer borrows from the tree builder.
// Implementations must be stateless so that Optimize stays safe for
// concurrent use. nanoql.Builder satisfies it.
type Services interface {
	Clone(n nanoql.Node) nanoql.Node
	IsPatternEligible(leaf nanoql.Node) bool
	BuildPattern(sources []nanoql.Source) (string, bool)
	QueryString(n nanoql.Node) string
}

// Diagnostics describes one Optimize call.
type Diagnostics struct {
	// Iterations is the number of fully applied iterations.
	Iterations int `json:"iterations"`
	// Interrupted is set when the iteration cap stopped the loop.
	Interrupted bool `json:"interrupted"`
	// ChangeLog has one line per structural change, in application order.
	ChangeLog []string `json:"changes"`
}

// pass rewrites a whole tree and reports whether anything changed.
type pass func(r *run, n nanoql.Node) (nanoql.Node, bool)

// Optimizer holds the configuration shared by all Optimize calls.
// It is immutable after New and safe for concurrent use.
type Optimizer struct {
	services      Services
	logger        *slog.Logger
	maxIterations int
	strict        bool
	passes        []pass
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithLogger sets the logger used for change and invariant messages.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Optimizer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMaxIterations overrides the iteration cap.
func WithMaxIterations(n int) Option {
	return func(o *Optimizer) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// WithStrictInvariants makes invariant violations panic instead of being
// logged. Intended for tests and debug builds.
func WithStrictInvariants(strict bool) Option {
	return func(o *Optimizer) {
		o.strict = strict
	}
}

// New creates an Optimizer using services for cloning, pattern building and
// rendering.
func New(services Services, opts ...Option) *Optimizer {
	o := &Optimizer{
		services:      services,
		logger:        slog.New(slog.DiscardHandler),
		maxIterations: DefaultMaxIterations,
		passes: []pass{
			(*run).mergeAssociative,
			(*run).mergeUnaryChain,
			(*run).rewriteBinaries,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("section", "optimizer")
	return o
}

// Optimize returns an optimized copy of root together with its diagnostics.
// root itself is never modified. A nil root (the empty query) is returned
// as is.
func (o *Optimizer) Optimize(root nanoql.Node) (nanoql.Node, Diagnostics) {
	if root == nil {
		return nil, Diagnostics{}
	}

	r := o.newRun()
	tree := o.services.Clone(root)

	changed := true
	iterations := 0
	for changed && iterations < o.maxIterations {
		changed = false
		iterations++
		for _, p := range o.passes {
			var c bool
			tree, c = p(r, tree)
			changed = changed || c
		}
	}

	diag := Diagnostics{Iterations: iterations, ChangeLog: r.log}
	if iterations == o.maxIterations {
		// The last iteration still changed the tree; report the last one
		// known to have been fully applied.
		diag.Interrupted = true
		diag.Iterations--
		diag.ChangeLog = append(diag.ChangeLog, fmt.Sprintf("interrupted after %d iterations", o.maxIterations))
		o.logger.Warn("optimization interrupted",
			"max_iterations", o.maxIterations,
			"query", o.services.QueryString(root),
		)
	}

	tree = canonicalize(o.services, tree)
	o.logger.Debug("optimization completed",
		"iterations", diag.Iterations,
		"changes", len(r.log),
		"result", o.services.QueryString(tree),
	)
	return tree, diag
}

// run carries the state of a single Optimize call.
type run struct {
	services Services
	logger   *slog.Logger
	strict   bool
	log      []string
}

func (o *Optimizer) newRun() *run {
	return &run{services: o.services, logger: o.logger, strict: o.strict}
}

// record appends a change log line for a rewrite of before into after.
func (r *run) record(rule string, before, after nanoql.Node) {
	b, a := r.services.QueryString(before), r.services.QueryString(after)
	r.log = append(r.log, fmt.Sprintf("%s: %s -> %s", rule, b, a))
	r.logger.Debug("rewrite", "rule", rule, "before", b, "after", a)
}

// invariant reports a programming error. It panics in strict mode and only
// logs otherwise, so a production search keeps working.
func (r *run) invariant(ok bool, format string, args ...any) {
	if ok {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if r.strict {
		panic("optimizer invariant violated: " + msg)
	}
	r.logger.Error("invariant violated", "detail", msg)
}

// rebuild returns the node for op over operands, dissolving the operator when
// fewer than two operands remain. An empty operand list yields the identity
// of op.
func rebuild(op string, operands []nanoql.Node) nanoql.Node {
	switch len(operands) {
	case 0:
		return nanoql.Truth{Value: op == nanoql.OpAnd}
	case 1:
		return operands[0]
	default:
		return nanoql.Binary{Op: op, Operands: operands}
	}
}

// isModifier reports whether op is a field modifier. Every unary operator
// other than negation is one.
func isModifier(op string) bool {
	return op != nanoql.OpNot
}
