package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// PersistentStats holds cumulative statistics that survive restarts.
type PersistentStats struct {
	TotalAnalyses int64            `json:"total_analyses"`
	Invalid       int64            `json:"invalid"`
	TotalBytes    int64            `json:"total_bytes"`
	CodeCounts    map[string]int64 `json:"code_counts"` // error code -> count
	KindCounts    map[string]int64 `json:"kind_counts"` // keyed/unkeyed -> count
}

// SystemStats contains high-level metrics for the API response.
type SystemStats struct {
	AnalysisRate  float64          `json:"analysis_rate"` // analyses/sec
	TotalAnalyses int64            `json:"total_analyses"`
	Invalid       int64            `json:"invalid"`
	Pending       int              `json:"pending"`       // entries not yet flushed
	PendingBytes  int64            `json:"pending_bytes"` // estimated size of the pending entries
	DiskUsage     int64            `json:"disk_usage"`
	ErrorDist     map[string]int64 `json:"error_dist"` // e.g. "missing_value": 3
	KindDist      map[string]int64 `json:"kind_dist"`  // e.g. "keyed": 40
}

// statsFileName is the filename for persisted stats
const statsFileName = ".querylight.stats"

func newPersistentStats() PersistentStats {
	return PersistentStats{
		CodeCounts: make(map[string]int64),
		KindCounts: make(map[string]int64),
	}
}

// add folds a flushed history summary into the totals.
func (p *PersistentStats) add(s HistoryStats) {
	p.TotalAnalyses += int64(s.RowCount)
	p.Invalid += int64(s.Invalid)
	p.TotalBytes += s.Bytes
	for k, v := range s.CodeCounts {
		p.CodeCounts[k] += v
	}
	for k, v := range s.KindCounts {
		p.KindCounts[k] += v
	}
}

func (p PersistentStats) clone() PersistentStats {
	c := p
	c.CodeCounts = make(map[string]int64, len(p.CodeCounts))
	c.KindCounts = make(map[string]int64, len(p.KindCounts))
	for k, v := range p.CodeCounts {
		c.CodeCounts[k] = v
	}
	for k, v := range p.KindCounts {
		c.KindCounts[k] = v
	}
	return c
}

// loadPersistentStats reads stats from disk. Missing or corrupted files
// yield empty stats.
func loadPersistentStats(dataDir string) PersistentStats {
	stats := newPersistentStats()

	data, err := os.ReadFile(filepath.Join(dataDir, statsFileName))
	if err != nil {
		return stats
	}
	if err := json.Unmarshal(data, &stats); err != nil {
		return newPersistentStats()
	}

	// Ensure maps are initialized
	if stats.CodeCounts == nil {
		stats.CodeCounts = make(map[string]int64)
	}
	if stats.KindCounts == nil {
		stats.KindCounts = make(map[string]int64)
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
	return os.Rename(tmpPath, path)
}
