package cluster

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coffersTech/nanosearch/internal/engine"
	"github.com/valyala/fastjson"
	"golang.org/x/sync/errgroup"
)

// maxResponseBytes caps the body read from a single peer.
const maxResponseBytes = 64 << 20

// Aggregator fans queries out to peer nodes and merges their answers.
type Aggregator struct {
	Peers  []string
	Client *http.Client
	// Discover, when set, adds peers found at query time, such as nodes
	// that joined through the registry.
	Discover func() []string
	logger   *slog.Logger
}

// QueryParams is forwarded to every peer as-is.
type QueryParams struct {
	RawQuery string // URL-encoded query string
	Limit    int    // <= 0 keeps every merged row
	Auth     string // Authorization header value
}

// NewAggregator creates an Aggregator for peers (base URLs).
func NewAggregator(peers []string, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	trimmed := make([]string, 0, len(peers))
	for _, p := range peers {
		if p = strings.TrimRight(strings.TrimSpace(p), "/"); p != "" {
			trimmed = append(trimmed, p)
		}
	}
	return &Aggregator{
		Peers:  trimmed,
		Client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With("section", "cluster"),
	}
}

// fanOut calls path on every peer and hands each successful body to handle.
// Failing peers are logged and skipped; only ctx cancellation is an error.
func (a *Aggregator) fanOut(ctx context.Context, path string, params QueryParams, handle func(peer string, v *fastjson.Value)) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range a.peers() {
		g.Go(func() error {
			body, err := a.fetch(gctx, peer+path, params)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				a.logger.Warn("peer query failed", "peer", peer, "path", path, "error", err)
				return nil
			}
			var p fastjson.Parser
			v, err := p.ParseBytes(body)
			if err != nil {
				a.logger.Warn("peer returned invalid json", "peer", peer, "error", err)
				return nil
			}
			mu.Lock()
			handle(peer, v)
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// peers returns the static and discovered peers without duplicates.
func (a *Aggregator) peers() []string {
	out := slices.Clone(a.Peers)
	if a.Discover != nil {
		for _, p := range a.Discover() {
			p = strings.TrimRight(p, "/")
			if p != "" && !slices.Contains(out, p) {
				out = append(out, p)
			}
		}
	}
	return out
}

func (a *Aggregator) fetch(ctx context.Context, url string, params QueryParams) ([]byte, error) {
	if params.RawQuery != "" {
		url += "?" + params.RawQuery
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if params.Auth != "" {
		req.Header.Set("Authorization", params.Auth)
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}

// Search runs /api/search on every peer and merges the rows newest first.
func (a *Aggregator) Search(ctx context.Context, params QueryParams) ([]engine.Entry, error) {
	rows := make([]engine.Entry, 0)
	seen := make(map[string]struct{})
	err := a.fanOut(ctx, "/api/search", params, func(_ string, v *fastjson.Value) {
		for _, item := range v.GetArray() {
			e := entryFromJSON(item)
			if _, dup := seen[e.ID]; dup && e.ID != "" {
				continue
			}
			seen[e.ID] = struct{}{}
			rows = append(rows, e)
		}
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(rows, func(x, y engine.Entry) int {
		return cmp.Compare(y.Timestamp, x.Timestamp)
	})
	if params.Limit > 0 && len(rows) > params.Limit {
		rows = rows[:params.Limit]
	}
	return rows, nil
}

func entryFromJSON(v *fastjson.Value) engine.Entry {
	return engine.Entry{
		ID:        string(v.GetStringBytes("id")),
		Timestamp: v.GetInt64("timestamp"),
		Site:      string(v.GetStringBytes("site")),
		Title:     string(v.GetStringBytes("title")),
		URL:       string(v.GetStringBytes("url")),
		Content:   string(v.GetStringBytes("content")),
	}
}

// Histogram sums the per-bucket counts of every peer.
func (a *Aggregator) Histogram(ctx context.Context, params QueryParams) ([]engine.HistogramPoint, error) {
	combined := make(map[int64]int)
	err := a.fanOut(ctx, "/api/histogram", params, func(_ string, v *fastjson.Value) {
		for _, p := range v.GetArray() {
			combined[p.GetInt64("time")] += p.GetInt("count")
		}
	})
	if err != nil {
		return nil, err
	}

	points := make([]engine.HistogramPoint, 0, len(combined))
	for _, t := range slices.Sorted(maps.Keys(combined)) {
		points = append(points, engine.HistogramPoint{Time: t, Count: combined[t]})
	}
	return points, nil
}

// Stats sums the counters of every peer.
func (a *Aggregator) Stats(ctx context.Context, auth string) (engine.SystemStats, error) {
	total := engine.SystemStats{Sites: make(map[string]int64)}
	err := a.fanOut(ctx, "/api/stats", QueryParams{Auth: auth}, func(_ string, v *fastjson.Value) {
		total.IngestionRate += v.GetFloat64("ingestion_rate")
		total.TotalEntries += v.GetInt64("total_entries")
		total.MemTableBytes += v.GetInt64("memtable_bytes")
		total.DiskUsage += v.GetInt64("disk_usage")
		if sites := v.GetObject("sites"); sites != nil {
			sites.Visit(func(key []byte, n *fastjson.Value) {
				total.Sites[string(key)] += n.GetInt64()
			})
		}
	})
	return total, err
}
