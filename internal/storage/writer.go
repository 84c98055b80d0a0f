package storage

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/coffersTech/nanosearch/internal/engine"
)

// MagicHeader opens every column file.
var MagicHeader = []byte("NANOSRC1")

// footerSize covers [rowCount uint32][minTs int64][maxTs int64].
const footerSize = 20

// ColumnWriter writes MemTables as column files:
//
//	[magic 8][codec 1]
//	6 x block: id, timestamp, site, title, url, content
//	[rowCount uint32][minTs int64][maxTs int64]
type ColumnWriter struct {
	codec Codec
}

func NewColumnWriter(codec Codec) (*ColumnWriter, error) {
	if codec != CodecZstd && codec != CodecLZ4 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, codec)
	}
	return &ColumnWriter{codec: codec}, nil
}

// WriteSnapshot writes the MemTable to a column file. The file is written
// under a temporary name and renamed into place, so readers never see a
// partial file.
func (cw *ColumnWriter) WriteSnapshot(filename string, mt *engine.MemTable) error {
	cols := mt.Columns()

	tmp := filename + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := cw.write(f, cols); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, filename)
}

func (cw *ColumnWriter) write(f *os.File, cols engine.Columns) error {
	w := bufio.NewWriter(f)

	if _, err := w.Write(MagicHeader); err != nil {
		return err
	}
	if err := w.WriteByte(byte(cw.codec)); err != nil {
		return err
	}

	blocks := [][]byte{
		encodeStrings(cols.IDs),
		encodeInt64s(cols.Timestamps),
		encodeStrings(cols.Sites),
		encodeBytesColumn(&cols.Titles),
		encodeBytesColumn(&cols.URLs),
		encodeBytesColumn(&cols.Contents),
	}
	for _, raw := range blocks {
		if err := writeBlock(w, cw.codec, raw); err != nil {
			return err
		}
	}

	var footer [footerSize]byte
	binary.LittleEndian.PutUint32(footer[0:], uint32(len(cols.IDs)))
	binary.LittleEndian.PutUint64(footer[4:], uint64(cols.MinTs))
	binary.LittleEndian.PutUint64(footer[12:], uint64(cols.MaxTs))
	if _, err := w.Write(footer[:]); err != nil {
		return err
	}
	return w.Flush()
}

func encodeInt64s(data []int64) []byte {
	buf := make([]byte, 8*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
	}
	return buf
}

// encodeStrings serializes values as [Len uint32][Bytes]...
func encodeStrings(data []string) []byte {
	size := 0
	for _, s := range data {
		size += 4 + len(s)
	}
	buf := make([]byte, 0, size)
	for _, s := range data {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
		buf = append(buf, s...)
	}
	return buf
}

// encodeBytesColumn uses the same layout as encodeStrings.
func encodeBytesColumn(c *engine.BytesColumn) []byte {
	n := max(c.Size(), 0)
	buf := make([]byte, 0, len(c.Data)+4*n)
	for i := 0; i < n; i++ {
		v := c.Get(i)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v)))
		buf = append(buf, v...)
	}
	return buf
}
