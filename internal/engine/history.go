package engine

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/pkg/querylang"
)

// HistoryEntry is one analyzed query (row-oriented view).
// Used when reading snapshots from disk or returning history results.
type HistoryEntry struct {
	Timestamp int64  `json:"timestamp"` // unix nanoseconds
	Query     string `json:"query"`
	Code      uint8  `json:"code"` // querylang.ErrorCode, 0 when valid
	Kind      uint8  `json:"kind"` // querylang.Kind
	Valid     bool   `json:"valid"`
}

// NewHistoryEntry builds an entry from its columns.
func NewHistoryEntry(ts int64, query string, code, kind uint8) HistoryEntry {
	return HistoryEntry{Timestamp: ts, Query: query, Code: code, Kind: kind, Valid: code == 0}
}

// Lookup exposes the entry to the query language, so history can be
// searched with queries like status=invalid AND code=missing_value.
func (e HistoryEntry) Lookup(key string) (string, bool) {
	switch strings.ToLower(key) {
	case "query", "q":
		return e.Query, true
	case "status":
		if e.Valid {
			return "valid", true
		}
		return "invalid", true
	case "code":
		if e.Code == 0 {
			return "", true
		}
		return querylang.ErrorCode(e.Code).String(), true
	case "kind":
		return querylang.Kind(e.Kind).String(), true
	case "timestamp", "ts":
		return strconv.FormatInt(e.Timestamp, 10), true
	default:
		return "", false
	}
}

// Values returns the searchable text of the entry.
func (e HistoryEntry) Values() []string {
	return []string{e.Query}
}

// HistoryFilter defines criteria for history retrieval.
type HistoryFilter struct {
	MinTime     int64  `json:"min_time"`
	MaxTime     int64  `json:"max_time"`
	InvalidOnly bool   `json:"invalid_only"`
	Query       string `json:"q"` // query language filter over entries
}

// Admits applies the column filters of f. The Query filter is applied by
// the engine on top of it.
func (f HistoryFilter) Admits(ts int64, code uint8) bool {
	if f.MinTime > 0 && ts < f.MinTime {
		return false
	}
	if f.MaxTime > 0 && ts > f.MaxTime {
		return false
	}
	if f.InvalidOnly && code == 0 {
		return false
	}
	return true
}

// History stores analyzed queries in columnar format.
// Columns are exported for access by storage package.
type History struct {
	mu sync.RWMutex

	// Exported Columns
	TsCol    []int64
	CodeCol  []uint8
	KindCol  []uint8
	QueryCol []string

	// Estimated memory usage in bytes
	SizeBytes int64
}

// HistoryStats summarizes the rows held by a History.
type HistoryStats struct {
	RowCount   int
	Invalid    int
	Bytes      int64
	CodeCounts map[string]int64
	KindCounts map[string]int64
}

// NewHistory initializes a History with pre-allocated capacity.
func NewHistory() *History {
	cap := 1024
	return &History{
		TsCol:    make([]int64, 0, cap),
		CodeCol:  make([]uint8, 0, cap),
		KindCol:  make([]uint8, 0, cap),
		QueryCol: make([]string, 0, cap),
	}
}

// Append adds an entry.
func (h *History) Append(e HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.TsCol = append(h.TsCol, e.Timestamp)
	h.CodeCol = append(h.CodeCol, e.Code)
	h.KindCol = append(h.KindCol, e.Kind)
	h.QueryCol = append(h.QueryCol, e.Query)

	// query + 8 (timestamp) + 1 (code) + 1 (kind)
	atomic.AddInt64(&h.SizeBytes, int64(len(e.Query)+10))
}

// GetSize returns the estimated memory usage in bytes.
func (h *History) GetSize() int64 {
	return atomic.LoadInt64(&h.SizeBytes)
}

// Len returns the number of rows.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.TsCol)
}

// MinTimestamp returns the minimum timestamp (first element).
func (h *History) MinTimestamp() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.TsCol) == 0 {
		return 0
	}
	return h.TsCol[0]
}

// MaxTimestamp returns the maximum timestamp (last element).
func (h *History) MaxTimestamp() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.TsCol) == 0 {
		return 0
	}
	return h.TsCol[len(h.TsCol)-1]
}

// Entries returns a copy of all rows in insertion order.
func (h *History) Entries() []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	entries := make([]HistoryEntry, len(h.TsCol))
	for i := range h.TsCol {
		entries[i] = NewHistoryEntry(h.TsCol[i], h.QueryCol[i], h.CodeCol[i], h.KindCol[i])
	}
	return entries
}

// Search filters in-memory entries, newest first. A negative limit means no limit.
func (h *History) Search(filter HistoryFilter, node querylang.Node, limit int) []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var result []HistoryEntry

	// Scan backwards (newest first)
	for i := len(h.TsCol) - 1; i >= 0; i-- {
		if limit >= 0 && len(result) >= limit {
			break
		}
		if !filter.Admits(h.TsCol[i], h.CodeCol[i]) {
			continue
		}
		e := NewHistoryEntry(h.TsCol[i], h.QueryCol[i], h.CodeCol[i], h.KindCol[i])
		if !querylang.Match(node, e) {
			continue
		}
		result = append(result, e)
	}

	return result
}

// Stats walks the columns and summarizes them.
func (h *History) Stats() HistoryStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := HistoryStats{
		RowCount:   len(h.TsCol),
		Bytes:      h.GetSize(),
		CodeCounts: make(map[string]int64),
		KindCounts: make(map[string]int64),
	}
	for i := range h.TsCol {
		if code := h.CodeCol[i]; code != 0 {
			s.Invalid++
			s.CodeCounts[querylang.ErrorCode(code).String()]++
		} else {
			s.KindCounts[querylang.Kind(h.KindCol[i]).String()]++
		}
	}
	return s
}
