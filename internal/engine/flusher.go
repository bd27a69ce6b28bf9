package engine

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

// Flush writes the in-memory history to a snapshot and resets it.
func (e *Engine) Flush() error {
	e.mu.Lock()
	h := e.history
	e.history = NewHistory()
	e.mu.Unlock()
	return e.flushHistory(h)
}

func (e *Engine) flushHistory(h *History) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	if h.Len() == 0 {
		return nil
	}

	filename := fmt.Sprintf("%s%d_%d%s", snapshotPrefix, h.MinTimestamp(), h.MaxTimestamp(), snapshotExt)
	path := filepath.Join(e.opts.DataDir, filename)

	// Step 1: write the snapshot
	if err := e.writerFunc(path, h); err != nil {
		// Put the rows back in front of newer ones; the journal still holds them.
		e.mu.Lock()
		for _, entry := range e.history.Entries() {
			h.Append(entry)
		}
		e.history = h
		e.mu.Unlock()
		return fmt.Errorf("write snapshot %s: %w", filename, err)
	}

	// Step 2: move the summary into the persistent stats
	summary := h.Stats()
	e.statsLock.Lock()
	e.globalStats.add(summary)
	snapshot := e.globalStats.clone()
	e.statsLock.Unlock()

	if err := savePersistentStats(e.opts.DataDir, snapshot); err != nil {
		e.logger.Error("stats persist", zap.Error(err))
	}

	// Step 3: reset the journal and re-journal rows that arrived meanwhile
	e.mu.Lock()
	if err := e.journal.Reset(); err != nil {
		e.logger.Error("journal reset", zap.Error(err))
	}
	for _, entry := range e.history.Entries() {
		if err := e.journal.Write(entry); err != nil {
			e.logger.Error("journal rewrite", zap.Error(err))
			break
		}
	}
	e.mu.Unlock()

	e.logger.Info("flushed history", zap.String("file", filename), zap.Int("rows", summary.RowCount))
	return nil
}
