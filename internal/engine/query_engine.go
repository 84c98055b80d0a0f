package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coffersTech/nanosearch/internal/pkg/nanoql"
	"github.com/coffersTech/nanosearch/internal/pkg/optimizer"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// SnapshotReaderFunc reads the rows of a column file that pass filter's time
// range and site checks, in stored order.
type SnapshotReaderFunc func(filename string, filter Filter) ([]Entry, error)

// SnapshotWriterFunc writes a MemTable to a column file.
type SnapshotWriterFunc func(path string, mt *MemTable) error

// DefaultMaxTableSize is the MemTable size that triggers a background flush.
const DefaultMaxTableSize = 64 * 1024 * 1024

// QueryEngine handles ingestion, query execution and data lifecycle across
// the MemTable and persisted column files.
type QueryEngine struct {
	dataDir    string
	readerFunc SnapshotReaderFunc
	writerFunc SnapshotWriterFunc
	retention  atomic.Int64 // time.Duration

	// MaxTableSize is the flush threshold in bytes.
	MaxTableSize int64

	// mu protects mt, flushing and wals
	mu       sync.RWMutex
	mt       *MemTable
	flushing []*MemTable // swapped out, not yet on disk; newest first
	wals     []*WAL      // segments holding mt's entries; the last one is active
	walSeq   int64
	flushWG  sync.WaitGroup

	globalStats PersistentStats
	statsLock   sync.RWMutex

	planner     *Planner
	optimizer   *optimizer.Optimizer
	explain     *ExplainCache
	metrics     *Metrics
	logger      *slog.Logger
	scanWorkers int
}

// Option configures a QueryEngine.
type Option func(*QueryEngine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(qe *QueryEngine) {
		if logger != nil {
			qe.logger = logger
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(qe *QueryEngine) { qe.metrics = m }
}

// WithOptimizer replaces the default query optimizer.
func WithOptimizer(o *optimizer.Optimizer) Option {
	return func(qe *QueryEngine) { qe.optimizer = o }
}

// WithExplainCache caches Explain results.
func WithExplainCache(c *ExplainCache) Option {
	return func(qe *QueryEngine) { qe.explain = c }
}

// WithScanWorkers sets how many column files are read in parallel.
func WithScanWorkers(n int) Option {
	return func(qe *QueryEngine) {
		if n > 0 {
			qe.scanWorkers = n
		}
	}
}

// NewQueryEngine creates a QueryEngine over dataDir and replays any WAL
// segments left by a previous run into mt.
func NewQueryEngine(dataDir string, mt *MemTable, readerFunc SnapshotReaderFunc, writerFunc SnapshotWriterFunc, retention time.Duration, opts ...Option) (*QueryEngine, error) {
	qe := &QueryEngine{
		dataDir:      dataDir,
		mt:           mt,
		readerFunc:   readerFunc,
		writerFunc:   writerFunc,
		MaxTableSize: DefaultMaxTableSize,
		logger:       slog.New(slog.DiscardHandler),
		scanWorkers:  runtime.GOMAXPROCS(0),
	}
	qe.retention.Store(int64(retention))
	for _, opt := range opts {
		opt(qe)
	}
	base := qe.logger
	qe.logger = base.With("section", "engine")
	if qe.optimizer == nil {
		qe.optimizer = optimizer.New(nanoql.DefaultBuilder, optimizer.WithLogger(base))
	}
	qe.planner = NewPlanner(nanoql.DefaultBuilder, qe.optimizer, qe.metrics, qe.logger)

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	qe.globalStats = loadPersistentStats(dataDir)

	if err := qe.recoverWAL(); err != nil {
		return nil, err
	}
	return qe, nil
}

// recoverWAL replays every WAL segment into the MemTable, keeps the segments
// attached to it and opens a fresh active segment.
func (qe *QueryEngine) recoverWAL() error {
	paths, err := listWALSegments(qe.dataDir)
	if err != nil {
		return fmt.Errorf("list wal segments: %w", err)
	}

	recovered := 0
	for _, path := range paths {
		w, err := OpenWAL(path)
		if err != nil {
			return fmt.Errorf("open wal %s: %w", path, err)
		}
		rows, err := w.Replay()
		if err != nil {
			// Keep what was readable; a torn tail is expected after a crash.
			qe.logger.Warn("wal replay incomplete", "file", filepath.Base(path), "error", err)
		}
		for _, row := range rows {
			qe.mt.Append(row)
		}
		recovered += len(rows)
		qe.wals = append(qe.wals, w)
	}
	if recovered > 0 {
		qe.logger.Info("crash recovery: replayed entries from WAL", "entries", recovered, "segments", len(paths))
	}

	active, err := qe.openSegment()
	if err != nil {
		return err
	}
	qe.wals = append(qe.wals, active)
	return nil
}

// openSegment opens a new WAL segment after every existing one.
func (qe *QueryEngine) openSegment() (*WAL, error) {
	seq := max(time.Now().UnixNano(), qe.walSeq+1)
	qe.walSeq = seq
	w, err := OpenWAL(filepath.Join(qe.dataDir, walSegmentName(seq)))
	if err != nil {
		return nil, fmt.Errorf("open wal segment: %w", err)
	}
	return w, nil
}

// Retention returns the configured retention period; zero keeps everything.
func (qe *QueryEngine) Retention() time.Duration {
	return time.Duration(qe.retention.Load())
}

// SetRetention changes the retention period used by the cleaner.
func (qe *QueryEngine) SetRetention(d time.Duration) {
	qe.retention.Store(int64(d))
}

// memTable returns the live MemTable.
func (qe *QueryEngine) memTable() *MemTable {
	qe.mu.RLock()
	defer qe.mu.RUnlock()
	return qe.mt
}

// tables returns the live MemTable followed by the tables being flushed.
func (qe *QueryEngine) tables() []*MemTable {
	qe.mu.RLock()
	defer qe.mu.RUnlock()
	return append([]*MemTable{qe.mt}, qe.flushing...)
}

// Ingest normalizes e, writes it to the WAL and the MemTable, and starts a
// background flush once the MemTable is full. It returns the stored entry.
func (qe *QueryEngine) Ingest(e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	if e.Site == "" && e.URL != "" {
		if u, err := url.Parse(e.URL); err == nil {
			e.Site = u.Hostname()
		}
	}
	e.Site = strings.ToLower(e.Site)

	// Holding mu keeps the WAL segment and the MemTable in step with rotate.
	qe.mu.RLock()
	mt := qe.mt
	if err := qe.wals[len(qe.wals)-1].Write(e); err != nil {
		qe.mu.RUnlock()
		return Entry{}, fmt.Errorf("wal write: %w", err)
	}
	mt.Append(e)
	qe.mu.RUnlock()

	size := mt.GetSize()
	qe.metrics.observeIngest(size)
	if size >= qe.MaxTableSize {
		if err := qe.rotate(false); err != nil {
			qe.logger.Error("memtable rotation failed", "error", err)
		}
	}
	return e, nil
}

// rotate swaps in an empty MemTable with a new WAL segment and flushes the
// old one. With wait false the flush runs in the background and the swap
// only happens if the table is still over the threshold.
func (qe *QueryEngine) rotate(wait bool) error {
	qe.mu.Lock()
	old := qe.mt
	if old.Len() == 0 || (!wait && old.GetSize() < qe.MaxTableSize) {
		qe.mu.Unlock()
		return nil
	}

	active, err := qe.openSegment()
	if err != nil {
		qe.mu.Unlock()
		return err
	}
	oldWALs := qe.wals
	qe.wals = []*WAL{active}
	qe.mt = NewMemTable()
	qe.mt.StartStatsTicker(time.Second)
	qe.flushing = append([]*MemTable{old}, qe.flushing...)
	qe.flushWG.Add(1)
	qe.mu.Unlock()

	if !wait {
		qe.logger.Info("memtable reached threshold, flushing in background",
			"max_table_mb", qe.MaxTableSize/(1024*1024))
		go qe.flushMemTable(old, oldWALs)
		return nil
	}
	return qe.flushMemTable(old, oldWALs)
}

// Flush writes the current MemTable to disk and waits for it.
func (qe *QueryEngine) Flush() error {
	return qe.rotate(true)
}

func (qe *QueryEngine) flushMemTable(mt *MemTable, wals []*WAL) error {
	defer qe.flushWG.Done()

	filename, rows, err := qe.flushTable(mt)
	qe.metrics.observeFlush(err)
	if err != nil {
		// The table stays searchable and its WAL segments are kept for the
		// next start.
		qe.logger.Error("flush failed", "error", err)
		return err
	}

	qe.mu.Lock()
	qe.flushing = slices.DeleteFunc(qe.flushing, func(t *MemTable) bool { return t == mt })
	qe.mu.Unlock()
	mt.release()

	for _, w := range wals {
		if err := w.Remove(); err != nil {
			qe.logger.Warn("wal segment cleanup failed", "file", filepath.Base(w.Path()), "error", err)
		}
	}

	qe.logger.Info("flush completed", "file", filename, "entries", rows)
	return nil
}

// SyncWAL flushes the active WAL segment to disk.
func (qe *QueryEngine) SyncWAL() {
	qe.mu.RLock()
	defer qe.mu.RUnlock()
	if err := qe.wals[len(qe.wals)-1].Sync(); err != nil {
		qe.logger.Error("wal sync failed", "error", err)
	}
}

// Close waits for background flushes and releases the WAL and caches.
// It does not flush; call Flush first to persist the MemTable.
func (qe *QueryEngine) Close() error {
	qe.flushWG.Wait()

	qe.mu.Lock()
	defer qe.mu.Unlock()
	var errs []error
	for _, w := range qe.wals {
		if err := w.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	qe.mt.Close()
	if qe.explain != nil {
		errs = append(errs, qe.explain.Close())
	}
	return errors.Join(errs...)
}

// Plan parses and optimizes query.
func (qe *QueryEngine) Plan(query string) (*Plan, error) {
	return qe.planner.Plan(query)
}

// Explain reports how query is rewritten before execution.
func (qe *QueryEngine) Explain(query string) (Explanation, error) {
	if qe.explain != nil {
		if ex, ok := qe.explain.Get(query); ok {
			qe.metrics.observeExplainCache(true)
			return ex, nil
		}
		qe.metrics.observeExplainCache(false)
	}

	plan, err := qe.planner.Plan(query)
	if err != nil {
		return Explanation{}, err
	}
	ex := plan.Explain()
	if qe.explain != nil {
		qe.explain.Put(ex)
	}
	return ex, nil
}

// ExecuteScan returns up to limit entries matching filter, newest first:
// memory first, then column files from newest to oldest.
// limit <= 0 means no limit.
func (qe *QueryEngine) ExecuteScan(ctx context.Context, filter Filter, limit int) ([]Entry, error) {
	start := time.Now()
	result, err := qe.executeScan(ctx, filter, limit)
	qe.metrics.observeSearch(start, err)
	return result, err
}

func (qe *QueryEngine) executeScan(ctx context.Context, filter Filter, limit int) ([]Entry, error) {
	plan, err := qe.planner.Plan(filter.Query)
	if err != nil {
		return nil, err
	}
	result := make([]Entry, 0)
	if plan.Never() {
		return result, nil
	}
	if plan.HasSiteConstraint() {
		filter.SiteMatch = plan.MatchSite
	}

	// A row can be in a table being flushed and in its new file at once.
	seen := make(map[string]struct{})
	full := func() bool { return limit > 0 && len(result) >= limit }
	add := func(e Entry) {
		if _, dup := seen[e.ID]; dup || full() {
			return
		}
		seen[e.ID] = struct{}{}
		result = append(result, e)
	}

	for _, mt := range qe.tables() {
		remaining := 0
		if limit > 0 {
			remaining = limit - len(result)
		}
		for _, e := range mt.Search(plan, filter, remaining) {
			add(e)
		}
		if full() {
			return result, nil
		}
	}

	files, err := qe.findNanoFiles()
	if err != nil {
		return result, err
	}
	files = slices.DeleteFunc(files, func(f snapshotFile) bool {
		return !filter.Overlaps(f.minTs, f.maxTs)
	})

	// Files are read in batches of scanWorkers so that a satisfied limit
	// stops the scan early.
	for batchStart := 0; batchStart < len(files) && !full(); batchStart += qe.scanWorkers {
		batch := files[batchStart:min(batchStart+qe.scanWorkers, len(files))]
		rows, err := qe.readFiles(ctx, batch, filter, plan)
		if err != nil {
			return result, err
		}
		for _, fileRows := range rows {
			for _, e := range fileRows {
				add(e)
			}
		}
	}
	return result, nil
}

// readFiles reads files in parallel and returns, per file, the rows that
// match plan, newest first. Unreadable files are logged and skipped.
func (qe *QueryEngine) readFiles(ctx context.Context, files []snapshotFile, filter Filter, plan *Plan) ([][]Entry, error) {
	out := make([][]Entry, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows, err := qe.readerFunc(f.path, filter)
			if err != nil {
				qe.logger.Warn("skipping unreadable column file", "file", filepath.Base(f.path), "error", err)
				return nil
			}
			matched := make([]Entry, 0, len(rows))
			for j := len(rows) - 1; j >= 0; j-- {
				if plan.Match(&rows[j]) {
					matched = append(matched, rows[j])
				}
			}
			out[i] = matched
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ContextResult holds the entries of one site around an anchor entry.
type ContextResult struct {
	Pre    []Entry `json:"pre"`    // Entries before the anchor
	Anchor *Entry  `json:"anchor"` // The entry closest to the requested time
	Post   []Entry `json:"post"`   // Entries after the anchor
}

// GetContext returns up to limit entries of site on each side of the entry
// closest to ts.
func (qe *QueryEngine) GetContext(ctx context.Context, ts int64, site string, limit int) (*ContextResult, error) {
	if limit <= 0 {
		limit = 10
	}
	all, err := qe.ExecuteScan(ctx, Filter{Site: strings.ToLower(site)}, 0)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(all, func(a, b Entry) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})

	result := &ContextResult{Pre: []Entry{}, Post: []Entry{}}
	if len(all) == 0 {
		return result, nil
	}

	// First entry at or after ts, then step back if the previous one is closer.
	idx, _ := slices.BinarySearchFunc(all, ts, func(e Entry, t int64) int {
		return cmp.Compare(e.Timestamp, t)
	})
	if idx == len(all) || (idx > 0 && ts-all[idx-1].Timestamp < all[idx].Timestamp-ts) {
		idx--
	}
	result.Anchor = &all[idx]
	result.Pre = append(result.Pre, all[max(0, idx-limit):idx]...)
	result.Post = append(result.Post, all[idx+1:min(len(all), idx+1+limit)]...)
	return result, nil
}
