package storage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/coffersTech/nanosearch/internal/engine"
)

var (
	ErrInvalidHeader = errors.New("invalid .nano file header")
	ErrCorrupt       = errors.New("corrupt .nano file")
)

// headerSize covers the magic and the codec byte.
const headerSize = 9

// EntryIterator provides a row-by-row view of a column file.
type EntryIterator interface {
	Next() bool
	Entry() engine.Entry
	Error() error
	Close() error
}

// Footer is the summary stored at the end of a column file.
type Footer struct {
	Size     int64 // file size in bytes
	Codec    Codec
	RowCount int
	MinTs    int64
	MaxTs    int64
}

type ColumnReader struct{}

func NewColumnReader() *ColumnReader {
	return &ColumnReader{}
}

// ReadFooter returns the codec and footer of a column file without
// decoding any column.
func (cr *ColumnReader) ReadFooter(filename string) (Footer, error) {
	f, err := os.Open(filename)
	if err != nil {
		return Footer{}, err
	}
	defer f.Close()
	return readFooter(f)
}

func readFooter(f *os.File) (Footer, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return Footer{}, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}
	if !bytes.Equal(header[:len(MagicHeader)], MagicHeader) {
		return Footer{}, ErrInvalidHeader
	}
	codec := Codec(header[len(MagicHeader)])
	if codec != CodecZstd && codec != CodecLZ4 {
		return Footer{}, fmt.Errorf("%w: %d", ErrUnknownCodec, codec)
	}

	info, err := f.Stat()
	if err != nil {
		return Footer{}, err
	}
	if info.Size() < headerSize+footerSize {
		return Footer{}, fmt.Errorf("%w: file too small", ErrCorrupt)
	}

	footer := make([]byte, footerSize)
	if _, err := f.ReadAt(footer, info.Size()-footerSize); err != nil {
		return Footer{}, err
	}
	return Footer{
		Size:     info.Size(),
		Codec:    codec,
		RowCount: int(binary.LittleEndian.Uint32(footer[0:4])),
		MinTs:    int64(binary.LittleEndian.Uint64(footer[4:12])),
		MaxTs:    int64(binary.LittleEndian.Uint64(footer[12:20])),
	}, nil
}

// NewIterator creates an iterator over the rows of filename that pass the
// filter's time range and site checks.
func (cr *ColumnReader) NewIterator(filename string, filter engine.Filter) (EntryIterator, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	it := &FileIterator{file: f, filter: filter, cursor: -1}
	if err := it.init(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return it, nil
}

type FileIterator struct {
	file   *os.File
	filter engine.Filter

	ids        []string
	timestamps []int64
	sites      []string
	titles     []string
	urls       []string
	contents   []string

	rowCount int
	cursor   int
	curr     engine.Entry
	err      error
}

func (it *FileIterator) init() error {
	footer, err := readFooter(it.file)
	if err != nil {
		return err
	}

	// File-level pruning on the footer time range
	if footer.RowCount == 0 || !it.filter.Overlaps(footer.MinTs, footer.MaxTs) {
		return nil
	}

	// readFooter left the offset right after the header.
	r := bufio.NewReader(it.file)
	decoded := make([][]byte, 6)
	for i := range decoded {
		if decoded[i], err = readBlock(r, footer.Codec, footer.Size); err != nil {
			return fmt.Errorf("%w: column %d: %w", ErrCorrupt, i, err)
		}
	}

	it.ids = decodeStrings(decoded[0])
	it.timestamps = decodeInt64s(decoded[1])
	it.sites = decodeStrings(decoded[2])
	it.titles = decodeStrings(decoded[3])
	it.urls = decodeStrings(decoded[4])
	it.contents = decodeStrings(decoded[5])

	n := footer.RowCount
	for _, l := range []int{len(it.ids), len(it.timestamps), len(it.sites), len(it.titles), len(it.urls), len(it.contents)} {
		if l != n {
			return fmt.Errorf("%w: column length mismatch", ErrCorrupt)
		}
	}
	it.rowCount = n
	return nil
}

func (it *FileIterator) Next() bool {
	for {
		it.cursor++
		if it.cursor >= it.rowCount {
			return false
		}
		i := it.cursor
		if !it.filter.InRange(it.timestamps[i]) || !it.filter.AcceptSite(it.sites[i]) {
			continue
		}
		it.curr = engine.Entry{
			ID:        it.ids[i],
			Timestamp: it.timestamps[i],
			Site:      it.sites[i],
			Title:     it.titles[i],
			URL:       it.urls[i],
			Content:   it.contents[i],
		}
		return true
	}
}

func (it *FileIterator) Entry() engine.Entry {
	return it.curr
}

func (it *FileIterator) Error() error {
	return it.err
}

func (it *FileIterator) Close() error {
	return it.file.Close()
}

// ReadSnapshot reads a column file and returns the rows passing the filter's
// time range and site checks, in stored order.
func (cr *ColumnReader) ReadSnapshot(filename string, filter engine.Filter) ([]engine.Entry, error) {
	it, err := cr.NewIterator(filename, filter)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var rows []engine.Entry
	for it.Next() {
		rows = append(rows, it.Entry())
	}
	return rows, it.Error()
}

// decodeInt64s converts a byte slice to []int64 (LittleEndian).
func decodeInt64s(data []byte) []int64 {
	result := make([]int64, len(data)/8)
	for i := range result {
		result[i] = int64(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return result
}

// decodeStrings reverses encodeStrings. A truncated tail is dropped, which
// the row count check then reports.
func decodeStrings(data []byte) []string {
	var result []string
	for len(data) >= 4 {
		n := int(binary.LittleEndian.Uint32(data))
		data = data[4:]
		if n > len(data) {
			break
		}
		result = append(result, string(data[:n]))
		data = data[n:]
	}
	return result
}
