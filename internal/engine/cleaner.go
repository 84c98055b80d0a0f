package engine

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

// RunCleaner periodically removes column files older than the retention
// period until ctx is done.
func (qe *QueryEngine) RunCleaner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	qe.logger.Info("cleaner started", "retention", qe.Retention(), "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if qe.Retention() <= 0 {
				continue
			}
			qe.purgeExpiredFiles(time.Now())
		}
	}
}

// purgeExpiredFiles deletes the files whose newest entry is older than
// now minus the retention period, and returns how many were removed.
func (qe *QueryEngine) purgeExpiredFiles(now time.Time) int {
	files, err := qe.findNanoFiles()
	if err != nil {
		qe.logger.Error("cleaner failed to read data dir", "error", err)
		return 0
	}

	threshold := now.Add(-qe.Retention()).UnixMilli()
	removed := 0
	for _, f := range files {
		if f.maxTs >= threshold {
			continue
		}
		name := filepath.Base(f.path)
		if err := os.Remove(f.path); err != nil {
			qe.logger.Error("cleaner failed to delete file", "file", name, "error", err)
			continue
		}
		removed++
		qe.logger.Info("expired file deleted", "file", name)
	}
	return removed
}
