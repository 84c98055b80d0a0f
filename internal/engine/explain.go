package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coffersTech/nanosearch/internal/pkg/nanoql"
	"github.com/tidwall/buntdb"
)

// DefaultExplainTTL is how long an explain result stays cached.
const DefaultExplainTTL = 10 * time.Minute

// Explanation describes how a query was rewritten before execution.
type Explanation struct {
	Query       string   `json:"query"`
	Parsed      string   `json:"parsed"`
	Optimized   string   `json:"optimized"`
	Iterations  int      `json:"iterations"`
	Interrupted bool     `json:"interrupted"`
	Changes     []string `json:"changes"`
	NodesBefore int      `json:"nodes_before"`
	NodesAfter  int      `json:"nodes_after"`
	SiteFilter  string   `json:"site_filter,omitempty"`
	Never       bool     `json:"never_matches"`
}

// Explain builds the explanation of plan p.
func (p *Plan) Explain() Explanation {
	ex := Explanation{
		Query:       p.Query,
		Parsed:      nanoql.String(p.Parsed),
		Optimized:   nanoql.String(p.Optimized),
		Iterations:  p.Diagnostics.Iterations,
		Interrupted: p.Diagnostics.Interrupted,
		Changes:     p.Diagnostics.ChangeLog,
		NodesBefore: nanoql.Count(p.Parsed),
		NodesAfter:  nanoql.Count(p.Optimized),
		Never:       p.Never(),
	}
	if ex.Changes == nil {
		ex.Changes = []string{}
	}
	if p.SiteFilter != nil {
		ex.SiteFilter = nanoql.String(p.SiteFilter)
	}
	return ex
}

// ExplainCache keeps recent explanations in an in-memory buntdb keyed by
// the raw query string.
type ExplainCache struct {
	db     *buntdb.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewExplainCache opens an in-memory cache. A ttl <= 0 uses
// DefaultExplainTTL.
func NewExplainCache(ttl time.Duration, logger *slog.Logger) (*ExplainCache, error) {
	if ttl <= 0 {
		ttl = DefaultExplainTTL
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open explain cache: %w", err)
	}
	return &ExplainCache{db: db, ttl: ttl, logger: logger}, nil
}

// Get returns the cached explanation of query.
func (c *ExplainCache) Get(query string) (Explanation, bool) {
	var ex Explanation
	err := c.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(query)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(val), &ex)
	})
	if err != nil {
		if !errors.Is(err, buntdb.ErrNotFound) {
			c.logger.Warn("explain cache read failed", "error", err)
		}
		return Explanation{}, false
	}
	return ex, true
}

// Put stores ex under its query until the TTL expires.
func (c *ExplainCache) Put(ex Explanation) {
	data, err := json.Marshal(ex)
	if err != nil {
		c.logger.Warn("explain cache encode failed", "error", err)
		return
	}
	err = c.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(ex.Query, string(data), &buntdb.SetOptions{Expires: true, TTL: c.ttl})
		return err
	})
	if err != nil {
		c.logger.Warn("explain cache write failed", "error", err)
	}
}

// Len returns the number of cached explanations.
func (c *ExplainCache) Len() int {
	var n int
	_ = c.db.View(func(tx *buntdb.Tx) error {
		var err error
		n, err = tx.Len()
		return err
	})
	return n
}

// Close releases the cache.
func (c *ExplainCache) Close() error {
	return c.db.Close()
}
