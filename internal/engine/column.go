package engine

import (
	"sync"
)

// ColumnType defines the type of data stored in a column.
type ColumnType int

const (
	ColumnTypeInt64 ColumnType = iota
	ColumnTypeBytes
)

// Column is the generic interface for a column in the MemTable.
type Column interface {
	Type() ColumnType
	Reset()
	Size() int  // Number of rows
	Bytes() int // Estimated memory usage in bytes
}

// Int64Column stores int64 values (e.g., Timestamp).
type Int64Column struct {
	Data []int64
}

func NewInt64Column(capacity int) *Int64Column {
	return &Int64Column{
		Data: make([]int64, 0, capacity),
	}
}

func (c *Int64Column) Type() ColumnType {
	return ColumnTypeInt64
}

func (c *Int64Column) Append(v int64) {
	c.Data = append(c.Data, v)
}

func (c *Int64Column) Reset() {
	c.Data = c.Data[:0]
}

func (c *Int64Column) Size() int {
	return len(c.Data)
}

func (c *Int64Column) Bytes() int {
	return len(c.Data) * 8
}

// BytesColumn stores variable-length values in a flat buffer with offsets.
// This keeps large text columns out of the GC's pointer scan.
type BytesColumn struct {
	Data    []byte // The flat buffer storing all bytes
	Offsets []int  // Starting offset for each row. Length is RowCount + 1
}

func NewBytesColumn(dataCap, rowsCap int) *BytesColumn {
	c := &BytesColumn{
		Data:    make([]byte, 0, dataCap),
		Offsets: make([]int, 0, rowsCap+1),
	}
	c.Offsets = append(c.Offsets, 0)
	return c
}

func (c *BytesColumn) Type() ColumnType {
	return ColumnTypeBytes
}

// AppendString adds a value to the column.
func (c *BytesColumn) AppendString(v string) {
	c.Data = append(c.Data, v...)
	c.Offsets = append(c.Offsets, len(c.Data))
}

func (c *BytesColumn) Reset() {
	c.Data = c.Data[:0]
	c.Offsets = c.Offsets[:0]
	c.Offsets = append(c.Offsets, 0)
}

func (c *BytesColumn) Size() int {
	return len(c.Offsets) - 1
}

func (c *BytesColumn) Bytes() int {
	return len(c.Data) + len(c.Offsets)*8
}

// Get returns the value at index i, or nil when i is out of range.
// The slice aliases the column buffer and is only valid until Reset.
func (c *BytesColumn) Get(i int) []byte {
	if i < 0 || i >= len(c.Offsets)-1 {
		return nil
	}
	return c.Data[c.Offsets[i]:c.Offsets[i+1]]
}

// String returns a copy of the value at index i.
func (c *BytesColumn) String(i int) string {
	return string(c.Get(i))
}

// Pools for columns to reuse memory across flushed tables.
var (
	int64ColPool = sync.Pool{
		New: func() any { return NewInt64Column(4096) },
	}
	bytesColPool = sync.Pool{
		New: func() any { return NewBytesColumn(64*1024, 4096) },
	}
)

func getInt64Column() *Int64Column {
	c := int64ColPool.Get().(*Int64Column)
	c.Reset()
	return c
}

func getBytesColumn() *BytesColumn {
	c := bytesColPool.Get().(*BytesColumn)
	c.Reset()
	return c
}

func putColumns(cols ...Column) {
	for _, c := range cols {
		switch x := c.(type) {
		case *Int64Column:
			int64ColPool.Put(x)
		case *BytesColumn:
			bytesColPool.Put(x)
		}
	}
}
