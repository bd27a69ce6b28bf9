package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/engine"
)

var (
	ErrInvalidHeader = errors.New("invalid snapshot header")
	ErrCorrupted     = errors.New("corrupted snapshot")
)

// EntryIterator provides a row-by-row view of a snapshot.
type EntryIterator interface {
	Next() bool
	Entry() engine.HistoryEntry
	Error() error
	Close() error
}

type ColumnReader struct {
	decoder *zstd.Decoder
}

func NewColumnReader() (*ColumnReader, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &ColumnReader{decoder: dec}, nil
}

// NewIterator opens a snapshot and iterates the entries admitted by filter.
func (cr *ColumnReader) NewIterator(path string, filter engine.HistoryFilter) (EntryIterator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	it := &FileIterator{
		reader: cr,
		file:   f,
		filter: filter,
		cursor: -1,
	}
	if err := it.init(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return it, nil
}

type FileIterator struct {
	reader *ColumnReader
	file   *os.File
	filter engine.HistoryFilter

	timestamps []int64
	codes      []uint8
	kinds      []uint8
	queries    []string

	rowCount int
	cursor   int
	curr     engine.HistoryEntry
}

func (it *FileIterator) init() error {
	// 1. Validate header
	header := make([]byte, len(MagicHeader))
	if _, err := io.ReadFull(it.file, header); err != nil {
		return ErrInvalidHeader
	}
	if !bytes.Equal(header, MagicHeader) {
		return ErrInvalidHeader
	}

	// 2. Read footer at the end of the file
	info, err := it.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < int64(len(MagicHeader)+footerSize) {
		return fmt.Errorf("%w: file too small", ErrCorrupted)
	}

	footer := make([]byte, footerSize)
	if _, err := it.file.ReadAt(footer, info.Size()-footerSize); err != nil {
		return err
	}

	rowCount := binary.LittleEndian.Uint32(footer[0:4])
	minTs := int64(binary.LittleEndian.Uint64(footer[4:12]))
	maxTs := int64(binary.LittleEndian.Uint64(footer[12:20]))

	it.rowCount = int(rowCount)
	if rowCount == 0 {
		return nil
	}

	// File-level pruning based on MinTs/MaxTs
	if it.filter.MinTime > 0 && maxTs < it.filter.MinTime {
		it.rowCount = 0
		return nil
	}
	if it.filter.MaxTime > 0 && minTs > it.filter.MaxTime {
		it.rowCount = 0
		return nil
	}

	// 3. Decompress all columns. Each column is a single compressed block.
	tsData, err := it.reader.readAndDecompress(it.file)
	if err != nil {
		return err
	}
	it.timestamps = bytesToInt64Slice(tsData)

	if it.codes, err = it.reader.readAndDecompress(it.file); err != nil {
		return err
	}
	if it.kinds, err = it.reader.readAndDecompress(it.file); err != nil {
		return err
	}

	queryData, err := it.reader.readAndDecompress(it.file)
	if err != nil {
		return err
	}
	if it.queries, err = bytesToStringSlice(queryData); err != nil {
		return err
	}

	if it.rowCount != len(it.timestamps) || it.rowCount != len(it.codes) ||
		it.rowCount != len(it.kinds) || it.rowCount != len(it.queries) {
		return fmt.Errorf("%w: column length mismatch", ErrCorrupted)
	}
	return nil
}

func (it *FileIterator) Next() bool {
	for {
		it.cursor++
		if it.cursor >= it.rowCount {
			return false
		}

		ts, code := it.timestamps[it.cursor], it.codes[it.cursor]
		if !it.filter.Admits(ts, code) {
			continue
		}

		it.curr = engine.NewHistoryEntry(ts, it.queries[it.cursor], code, it.kinds[it.cursor])
		return true
	}
}

func (it *FileIterator) Entry() engine.HistoryEntry {
	return it.curr
}

// Error is always nil: a snapshot is fully decoded and validated when the
// iterator is created.
func (it *FileIterator) Error() error {
	return nil
}

func (it *FileIterator) Close() error {
	return it.file.Close()
}

// ReadSnapshot reads a snapshot and returns the entries matching the filter,
// oldest first.
func (cr *ColumnReader) ReadSnapshot(path string, filter engine.HistoryFilter) ([]engine.HistoryEntry, error) {
	it, err := cr.NewIterator(path, filter)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var entries []engine.HistoryEntry
	for it.Next() {
		entries = append(entries, it.Entry())
	}
	return entries, it.Error()
}

// readAndDecompress reads a compressed block (size + data) and decompresses it.
func (cr *ColumnReader) readAndDecompress(r io.Reader) ([]byte, error) {
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, fmt.Errorf("%w: block size: %v", ErrCorrupted, err)
	}

	compressed := make([]byte, size)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, fmt.Errorf("%w: block data: %v", ErrCorrupted, err)
	}

	return cr.decoder.DecodeAll(compressed, nil)
}

// bytesToInt64Slice converts a byte slice to []int64 (LittleEndian).
func bytesToInt64Slice(data []byte) []int64 {
	result := make([]int64, len(data)/8)
	for i := range result {
		result[i] = int64(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return result
}

// bytesToStringSlice converts a byte slice to []string.
// Format: [Len uint32][Bytes]...
func bytesToStringSlice(data []byte) ([]string, error) {
	var result []string
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("%w: truncated string length", ErrCorrupted)
		}
		n := int(binary.LittleEndian.Uint32(data))
		data = data[4:]
		if n > len(data) {
			return nil, fmt.Errorf("%w: truncated string", ErrCorrupted)
		}
		result = append(result, string(data[:n]))
		data = data[n:]
	}
	return result, nil
}
