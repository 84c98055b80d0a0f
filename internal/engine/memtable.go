package engine

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
)

// MemTable stores recent entries in columnar format.
// Rows are kept in ingestion order; each site has a posting list of row
// numbers so site-restricted queries only visit matching rows.
type MemTable struct {
	mu sync.RWMutex

	ids      []string
	ts       *Int64Column
	sites    []string
	titles   *BytesColumn
	urls     *BytesColumn
	contents *BytesColumn

	siteIndex map[string]*roaring.Bitmap
	minTs     int64
	maxTs     int64

	sizeBytes    atomic.Int64 // Estimated memory usage in bytes
	writeCounter atomic.Int64 // Appends since the last rate tick
	currentRate  float64      // Entries per second

	released bool

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMemTable initializes a MemTable with pooled columns.
func NewMemTable() *MemTable {
	return &MemTable{
		ids:       make([]string, 0, 4096),
		ts:        getInt64Column(),
		sites:     make([]string, 0, 4096),
		titles:    getBytesColumn(),
		urls:      getBytesColumn(),
		contents:  getBytesColumn(),
		siteIndex: make(map[string]*roaring.Bitmap),
		minTs:     math.MaxInt64,
		maxTs:     math.MinInt64,
		stop:      make(chan struct{}),
	}
}

// Append adds an entry. Appending to a released table is a no-op.
func (mt *MemTable) Append(e Entry) {
	mt.mu.Lock()
	if mt.released {
		mt.mu.Unlock()
		return
	}
	row := uint32(len(mt.ids))
	mt.ids = append(mt.ids, e.ID)
	mt.ts.Append(e.Timestamp)
	mt.sites = append(mt.sites, e.Site)
	mt.titles.AppendString(e.Title)
	mt.urls.AppendString(e.URL)
	mt.contents.AppendString(e.Content)

	bm, ok := mt.siteIndex[e.Site]
	if !ok {
		bm = roaring.New()
		mt.siteIndex[e.Site] = bm
	}
	bm.Add(row)

	mt.minTs = min(mt.minTs, e.Timestamp)
	mt.maxTs = max(mt.maxTs, e.Timestamp)
	mt.mu.Unlock()

	mt.sizeBytes.Add(e.size())
	mt.writeCounter.Add(1)
}

// GetSize returns the estimated memory usage in bytes.
func (mt *MemTable) GetSize() int64 {
	return mt.sizeBytes.Load()
}

// Len returns the number of rows.
func (mt *MemTable) Len() int {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return len(mt.ids)
}

// Reset clears all column data for memory reuse.
func (mt *MemTable) Reset() {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.released {
		return
	}

	mt.ids = mt.ids[:0]
	mt.ts.Reset()
	mt.sites = mt.sites[:0]
	mt.titles.Reset()
	mt.urls.Reset()
	mt.contents.Reset()
	clear(mt.siteIndex)
	mt.minTs, mt.maxTs = math.MaxInt64, math.MinInt64
	mt.sizeBytes.Store(0)
}

// release stops the rate ticker and hands the columns back to the pools.
// Afterwards the table is empty; searches still holding it see no rows.
func (mt *MemTable) release() {
	mt.Close()
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.released {
		return
	}
	mt.released = true
	putColumns(mt.ts, mt.titles, mt.urls, mt.contents)
	mt.ts, mt.titles, mt.urls, mt.contents = nil, nil, nil, nil
	mt.ids, mt.sites = nil, nil
	mt.siteIndex = nil
}

// TimeRange returns the smallest and largest timestamps held.
// ok is false for an empty table.
func (mt *MemTable) TimeRange() (minTs, maxTs int64, ok bool) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	if len(mt.ids) == 0 {
		return 0, 0, false
	}
	return mt.minTs, mt.maxTs, true
}

// Columns is a read-only view of the table used by the column file writer.
type Columns struct {
	IDs        []string
	Timestamps []int64
	Sites      []string
	Titles     BytesColumn
	URLs       BytesColumn
	Contents   BytesColumn
	MinTs      int64
	MaxTs      int64
}

// Columns returns a view of the rows appended so far. Later appends are not
// visible through it; it must not be used after Reset.
func (mt *MemTable) Columns() Columns {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	if mt.released {
		return Columns{}
	}
	n := len(mt.ids)
	c := Columns{
		IDs:        mt.ids[:n:n],
		Timestamps: mt.ts.Data[:n:n],
		Sites:      mt.sites[:n:n],
		Titles:     *mt.titles,
		URLs:       *mt.urls,
		Contents:   *mt.contents,
	}
	if n > 0 {
		c.MinTs, c.MaxTs = mt.minTs, mt.maxTs
	}
	return c
}

// row materializes row i. Caller holds mu.
func (mt *MemTable) row(i int) Entry {
	return Entry{
		ID:        mt.ids[i],
		Timestamp: mt.ts.Data[i],
		Site:      mt.sites[i],
		Title:     mt.titles.String(i),
		URL:       mt.urls.String(i),
		Content:   mt.contents.String(i),
	}
}

// candidates returns the rows allowed by the exact site filter and the
// plan's site constraint. ok is false when every row is a candidate.
// Caller holds mu.
func (mt *MemTable) candidates(plan *Plan, filter Filter) (rows *roaring.Bitmap, ok bool) {
	if filter.Site != "" {
		bm, found := mt.siteIndex[filter.Site]
		if !found {
			return roaring.New(), true
		}
		rows = bm.Clone()
	}
	if plan.HasSiteConstraint() {
		matched := roaring.New()
		for site, bm := range mt.siteIndex {
			if plan.MatchSite(site) {
				matched.Or(bm)
			}
		}
		if rows == nil {
			rows = matched
		} else {
			rows.And(matched)
		}
	}
	return rows, rows != nil
}

// Search returns entries matching filter and plan, newest first.
// limit <= 0 means no limit.
func (mt *MemTable) Search(plan *Plan, filter Filter, limit int) []Entry {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	if mt.released {
		return nil
	}

	var result []Entry
	visit := func(i int) bool {
		if limit > 0 && len(result) >= limit {
			return false
		}
		if !filter.InRange(mt.ts.Data[i]) {
			return true
		}
		e := mt.row(i)
		if plan.Match(&e) {
			result = append(result, e)
		}
		return true
	}

	if rows, ok := mt.candidates(plan, filter); ok {
		it := rows.ReverseIterator()
		for it.HasNext() {
			if !visit(int(it.Next())) {
				break
			}
		}
		return result
	}

	// Scan backwards (newest first)
	for i := len(mt.ids) - 1; i >= 0; i-- {
		if !visit(i) {
			break
		}
	}
	return result
}

// MemStats summarizes the rows held in memory.
type MemStats struct {
	RowCount   int              `json:"row_count"`
	Bytes      int64            `json:"bytes"`
	SiteCounts map[string]int64 `json:"site_counts"`
}

// GetStats returns row counts per site, read from the site index.
func (mt *MemTable) GetStats() MemStats {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	stats := MemStats{
		RowCount:   len(mt.ids),
		Bytes:      mt.sizeBytes.Load(),
		SiteCounts: make(map[string]int64, len(mt.siteIndex)),
	}
	for site, bm := range mt.siteIndex {
		stats.SiteCounts[site] = int64(bm.GetCardinality())
	}
	return stats
}

// StartStatsTicker starts a background ticker to calculate ingestion rate.
// It runs until Close.
func (mt *MemTable) StartStatsTicker(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-mt.stop:
				return
			case <-ticker.C:
				count := mt.writeCounter.Swap(0)
				rate := float64(count) / interval.Seconds()
				mt.mu.Lock()
				mt.currentRate = rate
				mt.mu.Unlock()
			}
		}
	}()
}

// GetIngestionRate returns the current ingestion rate (entries/sec).
func (mt *MemTable) GetIngestionRate() float64 {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.currentRate
}

// Close stops the stats ticker.
func (mt *MemTable) Close() {
	mt.stopOnce.Do(func() { close(mt.stop) })
}
