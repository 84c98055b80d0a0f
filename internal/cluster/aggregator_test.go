package cluster

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coffersTech/nanosearch/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func peer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchMergesPeers(t *testing.T) {
	a := peer(t, map[string]string{
		"/api/search": `[{"id":"a3","timestamp":3000,"site":"go.dev"},{"id":"a1","timestamp":1000,"site":"go.dev"}]`,
	})
	b := peer(t, map[string]string{
		"/api/search": `[{"id":"b4","timestamp":4000,"site":"github.com","title":"golang/go"},{"id":"b2","timestamp":2000}]`,
	})
	broken := peer(t, map[string]string{"/api/search": `not json`})
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()

	agg := NewAggregator([]string{a.URL + "/", b.URL, broken.URL, down.URL, " "}, nil)
	assert.Len(t, agg.Peers, 4)

	rows, err := agg.Search(context.Background(), QueryParams{RawQuery: "q=go", Limit: 3, Auth: "Bearer t"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "b4", rows[0].ID)
	assert.Equal(t, "golang/go", rows[0].Title)
	assert.Equal(t, "a3", rows[1].ID)
	assert.Equal(t, "b2", rows[2].ID)

	rows, err = agg.Search(context.Background(), QueryParams{Auth: "wrong"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestHistogramAndStats(t *testing.T) {
	a := peer(t, map[string]string{
		"/api/histogram": `[{"time":0,"count":2},{"time":60000,"count":1}]`,
		"/api/stats":     `{"ingestion_rate":1.5,"total_entries":10,"disk_usage":100,"sites":{"go.dev":7,"github.com":3}}`,
	})
	b := peer(t, map[string]string{
		"/api/histogram": `[{"time":60000,"count":4}]`,
		"/api/stats":     `{"ingestion_rate":0.5,"total_entries":5,"disk_usage":50,"sites":{"go.dev":5}}`,
	})
	agg := NewAggregator([]string{a.URL, b.URL}, nil)

	points, err := agg.Histogram(context.Background(), QueryParams{Auth: "Bearer t"})
	require.NoError(t, err)
	assert.Equal(t, []engine.HistogramPoint{{Time: 0, Count: 2}, {Time: 60000, Count: 5}}, points)

	stats, err := agg.Stats(context.Background(), "Bearer t")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, stats.IngestionRate, 1e-9)
	assert.Equal(t, int64(15), stats.TotalEntries)
	assert.Equal(t, int64(150), stats.DiskUsage)
	assert.Equal(t, map[string]int64{"go.dev": 12, "github.com": 3}, stats.Sites)
}

func TestDiscoveredPeers(t *testing.T) {
	a := peer(t, map[string]string{"/api/search": `[{"id":"a1","timestamp":1}]`})
	b := peer(t, map[string]string{"/api/search": `[{"id":"b1","timestamp":2}]`})
	agg := NewAggregator([]string{a.URL}, nil)
	agg.Discover = func() []string { return []string{a.URL + "/", b.URL} }

	assert.Equal(t, []string{a.URL, b.URL}, agg.peers())
	rows, err := agg.Search(context.Background(), QueryParams{Auth: "Bearer t"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b1", rows[0].ID)
	assert.Equal(t, "a1", rows[1].ID)
}

func TestSearchCanceled(t *testing.T) {
	a := peer(t, map[string]string{"/api/search": `[]`})
	agg := NewAggregator([]string{a.URL}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := agg.Search(ctx, QueryParams{Auth: "Bearer t"})
	assert.ErrorIs(t, err, context.Canceled)
}
