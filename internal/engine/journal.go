package engine

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// Journal is a write-ahead log of history entries. Entries not yet flushed
// to a snapshot are replayed from it on startup.
type Journal struct {
	file *os.File
	path string
	mu   sync.Mutex
}

// OpenJournal opens or creates a journal file at the specified path.
func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &Journal{
		file: f,
		path: path,
	}, nil
}

// Write records an entry.
func (j *Journal) Write(e HistoryEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	// Format: [Len uint32][JSON Bytes]
	buf := make([]byte, 4, 4+len(data))
	binary.LittleEndian.PutUint32(buf, uint32(len(data)))
	buf = append(buf, data...)

	_, err = j.file.Write(buf)
	return err
}

// Sync flushes the journal file buffers to disk.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Sync()
}

// Reset truncates the journal.
func (j *Journal) Reset() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.file.Truncate(0); err != nil {
		return err
	}
	_, err := j.file.Seek(0, io.SeekStart)
	return err
}

// Close closes the journal file.
func (j *Journal) Close() error {
	return j.file.Close()
}

// Replay reads the journal and returns all entries. A torn record at the
// tail is dropped and reported with the entries read before it.
func (j *Journal) Replay() ([]HistoryEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var entries []HistoryEntry
	lenBuf := make([]byte, 4)
	for {
		_, err := io.ReadFull(j.file, lenBuf)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return entries, fmt.Errorf("journal replay (len): %w", err)
		}

		data := make([]byte, binary.LittleEndian.Uint32(lenBuf))
		if _, err := io.ReadFull(j.file, data); err != nil {
			return entries, fmt.Errorf("journal replay (data): %w", err)
		}

		var e HistoryEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return entries, fmt.Errorf("journal replay (unmarshal): %w", err)
		}
		entries = append(entries, e)
	}

	return entries, nil
}
