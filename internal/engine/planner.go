package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/coffersTech/nanosearch/internal/pkg/nanoql"
	"github.com/coffersTech/nanosearch/internal/pkg/optimizer"
)

// ErrInvalidQuery wraps every query parse failure.
var ErrInvalidQuery = errors.New("invalid query syntax")

// Plan is a parsed, optimized and compiled query.
// A nil *Plan matches everything.
type Plan struct {
	Query       string
	Parsed      nanoql.Node
	Optimized   nanoql.Node
	Diagnostics optimizer.Diagnostics
	// SiteFilter holds the top-level conjuncts that only read the site
	// field, or nil. Storage layers use it to skip whole sites.
	SiteFilter nanoql.Node

	matcher *nanoql.Matcher
	site    *nanoql.Matcher // top-level conjuncts that only read the site field
}

// Never reports whether the optimized query can match no entry at all.
func (p *Plan) Never() bool {
	if p == nil {
		return false
	}
	t, ok := p.Optimized.(nanoql.Truth)
	return ok && !t.Value
}

// Match evaluates the plan against e.
func (p *Plan) Match(e *Entry) bool {
	if p == nil || p.matcher == nil {
		return true
	}
	return p.matcher.Match(e)
}

// HasSiteConstraint reports whether rows can be pruned by site alone.
func (p *Plan) HasSiteConstraint() bool {
	return p != nil && p.site != nil
}

// MatchSite reports whether an entry from site can satisfy the plan.
func (p *Plan) MatchSite(site string) bool {
	if !p.HasSiteConstraint() {
		return true
	}
	return p.site.Match(siteRecord(site))
}

// siteRecord is a record with only the site field set.
type siteRecord string

func (s siteRecord) Field(name string) string {
	if name == nanoql.ModSite {
		return string(s)
	}
	return ""
}

// Planner turns query strings into plans.
type Planner struct {
	builder   nanoql.Builder
	optimizer *optimizer.Optimizer
	metrics   *Metrics
	logger    *slog.Logger
}

// NewPlanner creates a planner. metrics may be nil.
func NewPlanner(builder nanoql.Builder, opt *optimizer.Optimizer, metrics *Metrics, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Planner{builder: builder, optimizer: opt, metrics: metrics, logger: logger}
}

// Plan parses, optimizes and compiles query. An empty query yields a plan
// that matches everything.
func (pl *Planner) Plan(query string) (*Plan, error) {
	parsed, err := pl.builder.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	p := &Plan{Query: query, Parsed: parsed}
	if parsed == nil {
		return p, nil
	}

	p.Optimized, p.Diagnostics = pl.optimizer.Optimize(parsed)
	pl.metrics.observeOptimize(p.Diagnostics)
	if p.Diagnostics.Interrupted {
		pl.logger.Warn("query optimization interrupted", "query", query, "iterations", p.Diagnostics.Iterations)
	}

	if p.matcher, err = nanoql.Compile(p.Optimized); err != nil {
		return nil, fmt.Errorf("compile query: %w", err)
	}
	if p.SiteFilter = siteConstraint(p.Optimized); p.SiteFilter != nil {
		if p.site, err = nanoql.Compile(p.SiteFilter); err != nil {
			return nil, fmt.Errorf("compile site constraint: %w", err)
		}
	}
	return p, nil
}

// siteConstraint returns the conjunction of the top-level conjuncts of n that
// are scoped to the site field and read no other field, or nil.
func siteConstraint(n nanoql.Node) nanoql.Node {
	conjuncts := []nanoql.Node{n}
	if b, ok := n.(nanoql.Binary); ok && b.Op == nanoql.OpAnd {
		conjuncts = b.Operands
	}
	var site []nanoql.Node
	for _, c := range conjuncts {
		u, ok := c.(nanoql.Unary)
		if ok && u.Op == nanoql.ModSite && siteOnly(u.Operand) {
			site = append(site, c)
		}
	}
	switch len(site) {
	case 0:
		return nil
	case 1:
		return site[0]
	default:
		return nanoql.And(site...)
	}
}

// siteOnly reports whether n contains no modifier other than site.
func siteOnly(n nanoql.Node) bool {
	switch x := n.(type) {
	case nanoql.Unary:
		if x.Op != nanoql.OpNot && x.Op != nanoql.ModSite {
			return false
		}
		return siteOnly(x.Operand)
	case nanoql.Binary:
		for _, op := range x.Operands {
			if !siteOnly(op) {
				return false
			}
		}
	}
	return true
}
