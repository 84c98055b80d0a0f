package engine

import (
	"github.com/coffersTech/nanosearch/internal/pkg/nanoql"
)

// Entry is a single indexed page (row-oriented view).
// Used when reading data from disk or returning query results.
type Entry struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
	Site      string `json:"site"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Content   string `json:"content"`
}

// Field implements nanoql.Record.
func (e *Entry) Field(name string) string {
	switch name {
	case nanoql.ModSite:
		return e.Site
	case nanoql.ModTitle:
		return e.Title
	case nanoql.ModURL:
		return e.URL
	case nanoql.FieldContent:
		return e.Content
	}
	return ""
}

// size is the estimated in-memory footprint of e.
func (e *Entry) size() int64 {
	return int64(len(e.ID) + len(e.Site) + len(e.Title) + len(e.URL) + len(e.Content) + 8)
}

// Filter defines criteria for entry retrieval.
type Filter struct {
	MinTime int64  `json:"min_time"`
	MaxTime int64  `json:"max_time"`
	Site    string `json:"site"` // exact site, applied before the query
	Query   string `json:"q"`    // NanoQL query

	// SiteMatch, when set, rejects rows by site before they are decoded.
	// The engine derives it from the query plan.
	SiteMatch func(site string) bool `json:"-"`
}

// AcceptSite applies the exact site filter and SiteMatch.
func (f Filter) AcceptSite(site string) bool {
	if f.Site != "" && site != f.Site {
		return false
	}
	return f.SiteMatch == nil || f.SiteMatch(site)
}

// InRange reports whether ts passes the time bounds. Zero bounds are open.
func (f Filter) InRange(ts int64) bool {
	if f.MinTime > 0 && ts < f.MinTime {
		return false
	}
	if f.MaxTime > 0 && ts > f.MaxTime {
		return false
	}
	return true
}

// Overlaps reports whether a [minTs, maxTs] span can hold matching rows.
func (f Filter) Overlaps(minTs, maxTs int64) bool {
	if f.MinTime > 0 && maxTs < f.MinTime {
		return false
	}
	if f.MaxTime > 0 && minTs > f.MaxTime {
		return false
	}
	return true
}
