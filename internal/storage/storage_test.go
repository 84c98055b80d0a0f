package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coffersTech/nanosearch/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable() *engine.MemTable {
	mt := engine.NewMemTable()
	mt.Append(engine.Entry{ID: "1", Timestamp: 1000, Site: "go.dev", Title: "The Go Programming Language", URL: "https://go.dev/", Content: strings.Repeat("gopher ", 100)})
	mt.Append(engine.Entry{ID: "2", Timestamp: 2000, Site: "pkg.go.dev", Title: "slog package", URL: "https://pkg.go.dev/log/slog", Content: ""})
	mt.Append(engine.Entry{ID: "3", Timestamp: 3000, Site: "go.dev", Title: "Release notes", URL: "https://go.dev/doc/devel/release", Content: "go1.24"})
	return mt
}

func writeSample(t *testing.T, codec Codec) string {
	t.Helper()
	w, err := NewColumnWriter(codec)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "entries_1000_3000_test.nano")
	require.NoError(t, w.WriteSnapshot(path, sampleTable()))
	return path
}

func TestRoundTrip(t *testing.T) {
	for _, codec := range []Codec{CodecZstd, CodecLZ4} {
		t.Run(codec.String(), func(t *testing.T) {
			path := writeSample(t, codec)

			footer, err := NewColumnReader().ReadFooter(path)
			require.NoError(t, err)
			assert.Equal(t, codec, footer.Codec)
			assert.Equal(t, 3, footer.RowCount)
			assert.Equal(t, int64(1000), footer.MinTs)
			assert.Equal(t, int64(3000), footer.MaxTs)

			rows, err := NewColumnReader().ReadSnapshot(path, engine.Filter{})
			require.NoError(t, err)
			require.Len(t, rows, 3)
			assert.Equal(t, "1", rows[0].ID)
			assert.Equal(t, "https://pkg.go.dev/log/slog", rows[1].URL)
			assert.Equal(t, "", rows[1].Content)
			assert.Equal(t, strings.Repeat("gopher ", 100), rows[0].Content)
			assert.Equal(t, int64(3000), rows[2].Timestamp)
		})
	}
}

func TestReadSnapshotFilters(t *testing.T) {
	path := writeSample(t, CodecZstd)
	cr := NewColumnReader()

	rows, err := cr.ReadSnapshot(path, engine.Filter{MinTime: 1500})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = cr.ReadSnapshot(path, engine.Filter{Site: "go.dev"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "3", rows[1].ID)

	rows, err = cr.ReadSnapshot(path, engine.Filter{SiteMatch: func(site string) bool { return strings.HasPrefix(site, "pkg.") }})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2", rows[0].ID)

	// Whole file outside the range.
	rows, err = cr.ReadSnapshot(path, engine.Filter{MaxTime: 999})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEmptyTable(t *testing.T) {
	w, err := NewColumnWriter(CodecLZ4)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "empty.nano")
	require.NoError(t, w.WriteSnapshot(path, engine.NewMemTable()))

	rows, err := NewColumnReader().ReadSnapshot(path, engine.Filter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestInvalidFiles(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.nano")
	require.NoError(t, os.WriteFile(bad, []byte("NOTNANO1xxxxxxxxxxxxxxxxxxxxxxxxxxx"), 0644))
	_, err := NewColumnReader().ReadSnapshot(bad, engine.Filter{})
	assert.ErrorIs(t, err, ErrInvalidHeader)

	short := filepath.Join(dir, "short.nano")
	require.NoError(t, os.WriteFile(short, append([]byte("NANOSRC1"), byte(CodecZstd)), 0644))
	_, err = NewColumnReader().ReadSnapshot(short, engine.Filter{})
	assert.ErrorIs(t, err, ErrCorrupt)

	codec := filepath.Join(dir, "codec.nano")
	require.NoError(t, os.WriteFile(codec, append([]byte("NANOSRC1"), 9), 0644))
	_, err = NewColumnReader().ReadSnapshot(codec, engine.Filter{})
	assert.ErrorIs(t, err, ErrUnknownCodec)
}

func TestTruncatedColumn(t *testing.T) {
	path := writeSample(t, CodecZstd)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// Drop the middle of the file but keep header and footer.
	corrupt := append(append([]byte{}, data[:headerSize+12]...), data[len(data)-footerSize:]...)
	require.NoError(t, os.WriteFile(path, corrupt, 0644))

	_, err = NewColumnReader().ReadSnapshot(path, engine.Filter{})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestParseCodec(t *testing.T) {
	c, err := ParseCodec("LZ4")
	require.NoError(t, err)
	assert.Equal(t, CodecLZ4, c)

	c, err = ParseCodec("")
	require.NoError(t, err)
	assert.Equal(t, CodecZstd, c)

	_, err = ParseCodec("snappy")
	assert.ErrorIs(t, err, ErrUnknownCodec)

	_, err = NewColumnWriter(Codec(7))
	assert.ErrorIs(t, err, ErrUnknownCodec)
}
