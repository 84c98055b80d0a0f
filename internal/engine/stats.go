package engine

import (
	"encoding/json"
	"maps"
	"os"
	"path/filepath"
)

// PersistentStats holds cumulative statistics that survive restarts.
type PersistentStats struct {
	TotalEntries int64            `json:"total_entries"`
	TotalBytes   int64            `json:"total_bytes"`
	SiteCounts   map[string]int64 `json:"site_counts"` // Site -> count
}

func (s PersistentStats) clone() PersistentStats {
	s.SiteCounts = maps.Clone(s.SiteCounts)
	return s
}

// SystemStats contains high-level system metrics for API response.
type SystemStats struct {
	IngestionRate float64          `json:"ingestion_rate"` // entries/sec
	TotalEntries  int64            `json:"total_entries"`
	MemTableBytes int64            `json:"memtable_bytes"`
	DiskUsage     int64            `json:"disk_usage"` // bytes
	Sites         map[string]int64 `json:"sites"`      // e.g. "go.dev": 50
}

// statsFileName is the filename for persisted stats
const statsFileName = ".nanosearch.stats"

// loadPersistentStats reads stats from disk.
func loadPersistentStats(dataDir string) PersistentStats {
	stats := PersistentStats{
		SiteCounts: make(map[string]int64),
	}

	data, err := os.ReadFile(filepath.Join(dataDir, statsFileName))
	if err != nil {
		// File doesn't exist or can't be read, return empty stats
		return stats
	}

	if err := json.Unmarshal(data, &stats); err != nil {
		// Corrupted file, start over
		return PersistentStats{SiteCounts: make(map[string]int64)}
	}

	if stats.SiteCounts == nil {
		stats.SiteCounts = make(map[string]int64)
	}
	return stats
}

// savePersistentStats writes stats to disk atomically.
func savePersistentStats(dataDir string, stats PersistentStats) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(dataDir, statsFileName)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmpPath, path)
}

// GetStats merges the persisted counters with the live MemTable.
func (qe *QueryEngine) GetStats() SystemStats {
	mt := qe.memTable()
	memStats := mt.GetStats()

	qe.statsLock.RLock()
	diskStats := qe.globalStats.clone()
	qe.statsLock.RUnlock()

	stats := SystemStats{
		IngestionRate: mt.GetIngestionRate(),
		TotalEntries:  diskStats.TotalEntries + int64(memStats.RowCount),
		MemTableBytes: memStats.Bytes,
		Sites:         diskStats.SiteCounts,
	}
	for site, n := range memStats.SiteCounts {
		stats.Sites[site] += n
	}

	var size int64
	_ = filepath.Walk(qe.dataDir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	stats.DiskUsage = size

	return stats
}
