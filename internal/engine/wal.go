package engine

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// WAL handles write-ahead logging to prevent data loss during crashes.
type WAL struct {
	file *os.File
	path string
	mu   sync.Mutex
}

// OpenWAL opens or creates a WAL file at the specified path.
func OpenWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &WAL{
		file: f,
		path: path,
	}, nil
}

// Write records an entry in the WAL.
// Frame format: [Len uint32][JSON Bytes]
func (w *WAL) Write(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	frame := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.file.Write(frame)
	return err
}

// Sync flushes the WAL file buffers to disk.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

// Reset truncates the WAL file.
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	_, err := w.file.Seek(0, io.SeekStart)
	return err
}

// Close closes the WAL file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Remove closes the WAL and deletes its file.
func (w *WAL) Remove() error {
	if err := w.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return os.Remove(w.path)
}

// walSegmentName names a WAL segment; names sort in creation order.
func walSegmentName(seq int64) string {
	return fmt.Sprintf("wal-%020d.log", seq)
}

// listWALSegments returns the WAL segment files in dir, oldest first.
func listWALSegments(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "wal-*.log"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// Path returns the WAL file location.
func (w *WAL) Path() string {
	return w.path
}

// Replay reads the WAL and returns every complete entry. A torn frame at
// the tail (a crash mid-write) ends the replay with the entries read so far
// and an error.
func (w *WAL) Replay() ([]Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	defer w.file.Seek(0, io.SeekEnd)

	var rows []Entry
	for {
		lenBuf := make([]byte, 4)
		_, err := io.ReadFull(w.file, lenBuf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("wal replay (len): %w", err)
		}

		length := binary.LittleEndian.Uint32(lenBuf)
		data := make([]byte, length)
		if _, err := io.ReadFull(w.file, data); err != nil {
			return rows, fmt.Errorf("wal replay (data): %w", err)
		}

		var row Entry
		if err := json.Unmarshal(data, &row); err != nil {
			return rows, fmt.Errorf("wal replay (unmarshal): %w", err)
		}
		rows = append(rows, row)
	}

	return rows, nil
}
