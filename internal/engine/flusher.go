package engine

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	filePrefix = "entries_"
	fileSuffix = ".nano"
)

// snapshotName builds a column file name: entries_{minTs}_{maxTs}_{tag}.nano
// The tag keeps two flushes covering the same range apart.
func snapshotName(minTs, maxTs int64) string {
	tag := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s%d_%d_%s%s", filePrefix, minTs, maxTs, tag, fileSuffix)
}

// parseTsFromFilename extracts min and max timestamps from a column file name.
func parseTsFromFilename(filename string) (int64, int64, error) {
	base := filepath.Base(filename)
	if !strings.HasPrefix(base, filePrefix) || !strings.HasSuffix(base, fileSuffix) {
		return 0, 0, fmt.Errorf("invalid format: %s", base)
	}
	content := strings.TrimSuffix(strings.TrimPrefix(base, filePrefix), fileSuffix)
	parts := strings.Split(content, "_")
	if len(parts) != 3 {
		return 0, 0, fmt.Errorf("invalid parts: %s", base)
	}
	minTs, err1 := strconv.ParseInt(parts[0], 10, 64)
	maxTs, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("invalid timestamps: %s", base)
	}
	return minTs, maxTs, nil
}

// snapshotFile is a column file with the time range from its name.
type snapshotFile struct {
	path  string
	minTs int64
	maxTs int64
}

// findNanoFiles returns all column files in the data directory, newest first.
// Files with unexpected names are skipped.
func (qe *QueryEngine) findNanoFiles() ([]snapshotFile, error) {
	dirEntries, err := os.ReadDir(qe.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []snapshotFile
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), fileSuffix) {
			continue
		}
		minTs, maxTs, err := parseTsFromFilename(de.Name())
		if err != nil {
			qe.logger.Debug("skipping column file", "file", de.Name(), "error", err)
			continue
		}
		files = append(files, snapshotFile{
			path:  filepath.Join(qe.dataDir, de.Name()),
			minTs: minTs,
			maxTs: maxTs,
		})
	}

	slices.SortFunc(files, func(a, b snapshotFile) int {
		return cmp.Or(cmp.Compare(b.maxTs, a.maxTs), cmp.Compare(b.path, a.path))
	})
	return files, nil
}

// flushTable writes mt to a new column file and folds its rows into the
// persistent stats. It returns the file name and the number of rows written.
func (qe *QueryEngine) flushTable(mt *MemTable) (string, int, error) {
	minTs, maxTs, ok := mt.TimeRange()
	if !ok {
		return "", 0, nil
	}

	if err := os.MkdirAll(qe.dataDir, 0755); err != nil {
		return "", 0, err
	}

	filename := snapshotName(minTs, maxTs)
	path := filepath.Join(qe.dataDir, filename)

	// Step 1: write file to disk
	if err := qe.writerFunc(path, mt); err != nil {
		return "", 0, fmt.Errorf("write %s: %w", filename, err)
	}

	// Step 2: stats transfer
	memStats := mt.GetStats()
	qe.statsLock.Lock()
	qe.globalStats.TotalEntries += int64(memStats.RowCount)
	qe.globalStats.TotalBytes += memStats.Bytes
	for site, n := range memStats.SiteCounts {
		qe.globalStats.SiteCounts[site] += n
	}
	snapshot := qe.globalStats.clone()
	qe.statsLock.Unlock()

	// Step 3: persist stats
	if err := savePersistentStats(qe.dataDir, snapshot); err != nil {
		qe.logger.Error("stats persist failed", "error", err)
	}

	return filename, memStats.RowCount, nil
}
