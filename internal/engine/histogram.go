package engine

import (
	"errors"
	"sort"
)

type HistogramPoint struct {
	Time    int64 `json:"time"`
	Count   int   `json:"count"`
	Invalid int   `json:"invalid"`
}

// Histogram aggregates analysis counts over time buckets of interval
// nanoseconds between start and end inclusive.
func (e *Engine) Histogram(start, end, interval int64) ([]HistogramPoint, error) {
	if interval <= 0 {
		return nil, errors.New("histogram interval must be positive")
	}

	// bucket start -> point
	buckets := make(map[int64]*HistogramPoint)
	add := func(ts int64, code uint8) {
		if ts < start || (end > 0 && ts > end) {
			return
		}
		bucket := (ts / interval) * interval
		p, ok := buckets[bucket]
		if !ok {
			p = &HistogramPoint{Time: bucket}
			buckets[bucket] = p
		}
		p.Count++
		if code != 0 {
			p.Invalid++
		}
	}

	// 1. Scan memory
	e.mu.RLock()
	h := e.history
	e.mu.RUnlock()

	h.mu.RLock()
	for i, ts := range h.TsCol {
		add(ts, h.CodeCol[i])
	}
	h.mu.RUnlock()

	// 2. Scan snapshots
	files, err := e.findSnapshots()
	if err != nil {
		return nil, err
	}
	filter := HistoryFilter{MinTime: start, MaxTime: end}
	for _, file := range files {
		if !fileOverlaps(file, start, end) {
			continue
		}
		entries, err := e.readerFunc(file, filter)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			add(entry.Timestamp, entry.Code)
		}
	}

	// 3. Convert map to sorted slice
	points := make([]HistogramPoint, 0, len(buckets))
	for _, p := range buckets {
		points = append(points, *p)
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Time < points[j].Time
	})

	return points, nil
}
