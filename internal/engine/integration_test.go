package engine_test

import (
	"context"
	"testing"

	"github.com/coffersTech/nanosearch/internal/engine"
	"github.com/coffersTech/nanosearch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openEngine(t *testing.T, dir string, codec storage.Codec) *engine.QueryEngine {
	t.Helper()
	writer, err := storage.NewColumnWriter(codec)
	require.NoError(t, err)
	reader := storage.NewColumnReader()
	qe, err := engine.NewQueryEngine(dir, engine.NewMemTable(), reader.ReadSnapshot, writer.WriteSnapshot, 0)
	require.NoError(t, err)
	return qe
}

func TestEngineWithColumnFiles(t *testing.T) {
	for _, codec := range []storage.Codec{storage.CodecZstd, storage.CodecLZ4} {
		t.Run(codec.String(), func(t *testing.T) {
			dir := t.TempDir()
			qe := openEngine(t, dir, codec)

			pages := []engine.Entry{
				{ID: "1", Timestamp: 1000, URL: "https://go.dev/doc/effective_go", Title: "Effective Go", Content: "tips for writing clear idiomatic go code"},
				{ID: "2", Timestamp: 2000, URL: "https://github.com/golang/go/issues", Title: "Issues", Content: "the go issue tracker"},
				{ID: "3", Timestamp: 3000, URL: "https://pkg.go.dev/errors", Title: "errors", Content: "package errors implements functions to manipulate errors"},
			}
			for _, p := range pages {
				_, err := qe.Ingest(p)
				require.NoError(t, err)
			}
			require.NoError(t, qe.Flush())
			_, err := qe.Ingest(engine.Entry{ID: "4", Timestamp: 4000, URL: "https://go.dev/blog", Title: "The Go Blog"})
			require.NoError(t, err)
			require.NoError(t, qe.Close())

			qe = openEngine(t, dir, codec)
			defer qe.Close()

			search := func(f engine.Filter) []string {
				rows, err := qe.ExecuteScan(context.Background(), f, 0)
				require.NoError(t, err)
				out := make([]string, len(rows))
				for i, r := range rows {
					out[i] = r.ID
				}
				return out
			}

			assert.Equal(t, []string{"4", "3", "2", "1"}, search(engine.Filter{}))
			assert.Equal(t, []string{"4", "3", "1"}, search(engine.Filter{Query: "site:go.dev"}))
			assert.Equal(t, []string{"4", "1"}, search(engine.Filter{Site: "go.dev"}))
			assert.Equal(t, []string{"3", "1"}, search(engine.Filter{Query: `errors OR "idiomatic go"`}))
			assert.Equal(t, []string{"2"}, search(engine.Filter{Query: "-site:go.dev issue"}))
			assert.Equal(t, []string{"3"}, search(engine.Filter{Query: "title:/^err/", MinTime: 1500}))
			assert.Empty(t, search(engine.Filter{Query: "go AND -go"}))
		})
	}
}
