package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/pkg/querylang"
)

var (
	// ErrQueryTooLong is returned when a query exceeds Options.MaxQueryLen.
	ErrQueryTooLong = errors.New("query too long")
	// ErrInvalidQuery wraps the syntax error of a query that must be valid.
	ErrInvalidQuery = errors.New("invalid query")
)

const (
	journalFileName = "journal.log"
	snapshotPrefix  = "history_"
	snapshotExt     = ".qlh"
)

// SnapshotReaderFunc reads a snapshot file with filtering.
type SnapshotReaderFunc func(path string, filter HistoryFilter) ([]HistoryEntry, error)

// SnapshotWriterFunc writes a History to a snapshot file.
type SnapshotWriterFunc func(path string, h *History) error

// Options configures an Engine.
type Options struct {
	DataDir     string
	MaxHistory  int           // rows kept in memory before a flush
	MaxQueryLen int           // 0 disables the check
	Retention   time.Duration // 0 keeps snapshots forever
}

// Engine analyzes queries and keeps their history, stats and snapshots.
type Engine struct {
	opts       Options
	history    *History
	readerFunc SnapshotReaderFunc
	writerFunc SnapshotWriterFunc
	logger     *zap.Logger

	// mu protects history pointer swaps
	mu sync.RWMutex
	// flushMu serializes snapshot writes
	flushMu sync.Mutex

	globalStats PersistentStats
	statsLock   sync.RWMutex

	journal *Journal

	counter int64 // analyses since the last rate tick
	rate    atomic.Value
}

// New creates an Engine, recovering unflushed history from the journal.
func New(opts Options, readerFunc SnapshotReaderFunc, writerFunc SnapshotWriterFunc, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 10000
	}
	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	journal, err := OpenJournal(filepath.Join(opts.DataDir, journalFileName))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	e := &Engine{
		opts:        opts,
		history:     NewHistory(),
		readerFunc:  readerFunc,
		writerFunc:  writerFunc,
		logger:      logger,
		globalStats: loadPersistentStats(opts.DataDir),
		journal:     journal,
	}
	e.rate.Store(float64(0))

	// Crash recovery: replay entries that never reached a snapshot
	recovered, err := journal.Replay()
	if err != nil {
		logger.Warn("journal replay", zap.Error(err))
	}
	recovered = e.dropFlushed(recovered)
	if len(recovered) > 0 {
		logger.Info("recovered history from journal", zap.Int("entries", len(recovered)))
		for _, entry := range recovered {
			e.history.Append(entry)
		}
	}

	return e, nil
}

// dropFlushed removes the journal entries that already reached a snapshot.
// A crash between a snapshot write and the journal rewrite leaves such rows
// behind.
func (e *Engine) dropFlushed(entries []HistoryEntry) []HistoryEntry {
	if len(entries) == 0 {
		return entries
	}
	minTs := entries[0].Timestamp
	for _, entry := range entries {
		minTs = min(minTs, entry.Timestamp)
	}

	files, err := e.findSnapshots()
	if err != nil {
		e.logger.Warn("list snapshots for replay", zap.Error(err))
		return entries
	}

	type rowKey struct {
		ts    int64
		query string
	}
	flushed := make(map[rowKey]struct{})
	for _, file := range files {
		// Newest first: the rest cannot overlap the journal either
		if _, maxTs, err := parseSnapshotName(file); err == nil && maxTs < minTs {
			break
		}
		rows, err := e.readerFunc(file, HistoryFilter{MinTime: minTs})
		if err != nil {
			e.logger.Warn("read snapshot for replay", zap.String("file", file), zap.Error(err))
			continue
		}
		for _, row := range rows {
			flushed[rowKey{row.Timestamp, row.Query}] = struct{}{}
		}
	}
	if len(flushed) == 0 {
		return entries
	}

	kept := entries[:0]
	for _, entry := range entries {
		if _, ok := flushed[rowKey{entry.Timestamp, entry.Query}]; !ok {
			kept = append(kept, entry)
		}
	}
	if dropped := len(entries) - len(kept); dropped > 0 {
		e.logger.Info("skipped journal entries already in snapshots", zap.Int("entries", dropped))
	}
	return kept
}

// Analyze analyzes text and records it in the history.
func (e *Engine) Analyze(text string) (Analysis, error) {
	if e.opts.MaxQueryLen > 0 && len(text) > e.opts.MaxQueryLen {
		return Analysis{}, fmt.Errorf("%w: %d > %d bytes", ErrQueryTooLong, len(text), e.opts.MaxQueryLen)
	}
	a := Analyze(text)
	e.record(a)
	return a, nil
}

// Filter parses query once and returns the indexes of the matching records,
// at most limit of them when limit > 0.
func (e *Engine) Filter(query string, records []querylang.Record, limit int) ([]int, error) {
	a, err := e.Analyze(query)
	if err != nil {
		return nil, err
	}
	if !a.Valid {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, a.Tree.(querylang.ErrorExpr))
	}

	matches := []int{}
	for i, rec := range records {
		if limit > 0 && len(matches) >= limit {
			break
		}
		if querylang.Match(a.Tree, rec) {
			matches = append(matches, i)
		}
	}
	return matches, nil
}

func (e *Engine) record(a Analysis) {
	entry := NewHistoryEntry(time.Now().UnixNano(), a.Query, uint8(a.Code()), uint8(a.Kind))

	e.mu.RLock()
	h := e.history
	// Journal first for durability
	if err := e.journal.Write(entry); err != nil {
		e.logger.Error("journal write", zap.Error(err))
	}
	h.Append(entry)
	e.mu.RUnlock()
	atomic.AddInt64(&e.counter, 1)

	if h.Len() < e.opts.MaxHistory {
		return
	}

	e.mu.Lock()
	// Double check under lock
	if e.history != h {
		e.mu.Unlock()
		return
	}
	e.logger.Debug("history reached threshold, swapping for async flush", zap.Int("rows", h.Len()))
	e.history = NewHistory()
	e.mu.Unlock()

	go func() {
		if err := e.flushHistory(h); err != nil {
			e.logger.Error("background flush", zap.Error(err))
		}
	}()
}

// SyncJournal flushes the journal file to disk.
func (e *Engine) SyncJournal() {
	if err := e.journal.Sync(); err != nil {
		e.logger.Error("journal sync", zap.Error(err))
	}
}

// Close flushes the history and closes the journal.
func (e *Engine) Close() error {
	err := e.Flush()
	if cerr := e.journal.Close(); err == nil {
		err = cerr
	}
	return err
}

// Run drives the background work of the engine until ctx is done: the
// analysis rate ticker, journal syncs and snapshot retention.
func (e *Engine) Run(ctx context.Context, cleanInterval time.Duration) {
	if cleanInterval <= 0 {
		cleanInterval = time.Hour
	}
	rateTicker := time.NewTicker(time.Second)
	defer rateTicker.Stop()
	cleanTicker := time.NewTicker(cleanInterval)
	defer cleanTicker.Stop()

	e.logger.Info("engine started", zap.Duration("retention", e.opts.Retention), zap.Duration("clean_interval", cleanInterval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-rateTicker.C:
			e.rate.Store(float64(atomic.SwapInt64(&e.counter, 0)))
			e.SyncJournal()
		case <-cleanTicker.C:
			e.PurgeExpired(time.Now())
		}
	}
}

// Recent returns up to limit history entries matching filter, newest first.
// filter.Query is itself a query evaluated against each entry.
func (e *Engine) Recent(filter HistoryFilter, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	var node querylang.Node
	if strings.TrimSpace(filter.Query) != "" {
		node = querylang.Parse(filter.Query)
		if err, ok := node.(querylang.ErrorExpr); ok {
			return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
		}
	}

	e.mu.RLock()
	h := e.history
	e.mu.RUnlock()

	result := h.Search(filter, node, limit)
	if len(result) >= limit {
		return result, nil
	}

	files, err := e.findSnapshots()
	if err != nil {
		return result, err
	}

	for _, file := range files {
		if len(result) >= limit {
			break
		}
		if !fileOverlaps(file, filter.MinTime, filter.MaxTime) {
			continue
		}

		entries, err := e.readerFunc(file, filter)
		if err != nil {
			e.logger.Warn("read snapshot", zap.String("file", file), zap.Error(err))
			continue
		}

		// Snapshots are stored oldest first
		for i := len(entries) - 1; i >= 0 && len(result) < limit; i-- {
			if querylang.Match(node, entries[i]) {
				result = append(result, entries[i])
			}
		}
	}

	return result, nil
}

// Stats merges the persisted totals with the unflushed history.
func (e *Engine) Stats() SystemStats {
	e.mu.RLock()
	h := e.history
	e.mu.RUnlock()
	mem := h.Stats()

	e.statsLock.RLock()
	disk := e.globalStats.clone()
	e.statsLock.RUnlock()
	disk.add(mem)

	stats := SystemStats{
		AnalysisRate:  e.rate.Load().(float64),
		TotalAnalyses: disk.TotalAnalyses,
		Invalid:       disk.Invalid,
		Pending:       mem.RowCount,
		PendingBytes:  mem.Bytes,
		ErrorDist:     disk.CodeCounts,
		KindDist:      disk.KindCounts,
	}

	var size int64
	_ = filepath.Walk(e.opts.DataDir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	stats.DiskUsage = size

	return stats
}

// findSnapshots returns the snapshot files of the data directory, newest first.
func (e *Engine) findSnapshots() ([]string, error) {
	entries, err := os.ReadDir(e.opts.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), snapshotExt) {
			files = append(files, filepath.Join(e.opts.DataDir, entry.Name()))
		}
	}

	sort.Slice(files, func(i, j int) bool {
		_, maxI, _ := parseSnapshotName(files[i])
		_, maxJ, _ := parseSnapshotName(files[j])
		return maxI > maxJ
	})
	return files, nil
}

func fileOverlaps(path string, minTime, maxTime int64) bool {
	minTs, maxTs, err := parseSnapshotName(path)
	if err != nil {
		return true
	}
	if minTime > 0 && maxTs < minTime {
		return false
	}
	if maxTime > 0 && minTs > maxTime {
		return false
	}
	return true
}

// parseSnapshotName extracts min and max timestamps from a snapshot filename
// of the form history_{minTs}_{maxTs}.qlh.
func parseSnapshotName(path string) (int64, int64, error) {
	base := filepath.Base(path)
	if !strings.HasPrefix(base, snapshotPrefix) || !strings.HasSuffix(base, snapshotExt) {
		return 0, 0, fmt.Errorf("invalid snapshot name %q", base)
	}
	parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(base, snapshotPrefix), snapshotExt), "_")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid snapshot name %q", base)
	}
	minTs, err1 := strconv.ParseInt(parts[0], 10, 64)
	maxTs, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("invalid snapshot timestamps %q", base)
	}
	return minTs, maxTs, nil
}
