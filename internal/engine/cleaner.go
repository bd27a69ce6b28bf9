package engine

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// PurgeExpired removes snapshot files whose newest entry is older than the
// retention. It returns the names of the removed files.
func (e *Engine) PurgeExpired(now time.Time) []string {
	if e.opts.Retention <= 0 {
		return nil
	}

	entries, err := os.ReadDir(e.opts.DataDir)
	if err != nil {
		if !os.IsNotExist(err) {
			e.logger.Error("cleaner: read data dir", zap.Error(err))
		}
		return nil
	}

	threshold := now.Add(-e.opts.Retention).UnixNano()

	var removed []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, snapshotExt) {
			continue
		}

		_, maxTs, err := parseSnapshotName(name)
		if err != nil {
			continue // Skip files with unexpected names
		}
		if maxTs >= threshold {
			continue
		}

		if err := os.Remove(filepath.Join(e.opts.DataDir, name)); err != nil {
			e.logger.Error("cleaner: delete snapshot", zap.String("file", name), zap.Error(err))
			continue
		}
		e.logger.Info("expired snapshot deleted", zap.String("file", name))
		removed = append(removed, name)
	}
	return removed
}
