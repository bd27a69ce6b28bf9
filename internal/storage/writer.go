package storage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/engine"
)

// MagicHeader opens every history snapshot file.
var MagicHeader = []byte("QLHIST01")

// footerSize is RowCount(4) + MinTs(8) + MaxTs(8).
const footerSize = 20

type ColumnWriter struct {
	encoder *zstd.Encoder
}

func NewColumnWriter() (*ColumnWriter, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	return &ColumnWriter{encoder: enc}, nil
}

// WriteSnapshot writes the History to a snapshot file. The file is written
// under a temporary name and renamed into place.
func (cw *ColumnWriter) WriteSnapshot(path string, h *engine.History) (err error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	w := bufio.NewWriter(f)
	if err = cw.write(w, h); err != nil {
		return err
	}
	if err = w.Flush(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (cw *ColumnWriter) write(w io.Writer, h *engine.History) error {
	// 1. Header
	if _, err := w.Write(MagicHeader); err != nil {
		return err
	}

	entries := h.Entries()
	rowCount := uint32(len(entries))
	if rowCount == 0 {
		return writeFooter(w, 0, 0, 0)
	}

	ts := make([]int64, rowCount)
	codes := make([]uint8, rowCount)
	kinds := make([]uint8, rowCount)
	queries := make([]string, rowCount)
	minTs, maxTs := entries[0].Timestamp, entries[0].Timestamp
	for i, e := range entries {
		ts[i], codes[i], kinds[i], queries[i] = e.Timestamp, e.Code, e.Kind, e.Query
		minTs = min(minTs, e.Timestamp)
		maxTs = max(maxTs, e.Timestamp)
	}

	// 2. Compress and write columns
	if err := cw.writeInt64Col(w, ts); err != nil {
		return fmt.Errorf("timestamp column: %w", err)
	}
	if err := cw.compressAndWrite(w, codes); err != nil {
		return fmt.Errorf("code column: %w", err)
	}
	if err := cw.compressAndWrite(w, kinds); err != nil {
		return fmt.Errorf("kind column: %w", err)
	}
	if err := cw.writeStringCol(w, queries); err != nil {
		return fmt.Errorf("query column: %w", err)
	}

	// 3. Footer
	return writeFooter(w, rowCount, minTs, maxTs)
}

func (cw *ColumnWriter) writeInt64Col(w io.Writer, data []int64) error {
	buf := make([]byte, 8*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
	}
	return cw.compressAndWrite(w, buf)
}

func (cw *ColumnWriter) writeStringCol(w io.Writer, data []string) error {
	buf := new(bytes.Buffer)
	// Serialize: [Len uint32][Bytes]...
	var lenBuf [4]byte
	for _, s := range data {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
		buf.Write(lenBuf[:])
		buf.WriteString(s)
	}
	return cw.compressAndWrite(w, buf.Bytes())
}

func (cw *ColumnWriter) compressAndWrite(w io.Writer, raw []byte) error {
	compressed := cw.encoder.EncodeAll(raw, make([]byte, 0, len(raw)))

	// Compressed size (uint32) then data
	if err := binary.Write(w, binary.LittleEndian, uint32(len(compressed))); err != nil {
		return err
	}
	_, err := w.Write(compressed)
	return err
}

func writeFooter(w io.Writer, rowCount uint32, minTs, maxTs int64) error {
	var footer [footerSize]byte
	binary.LittleEndian.PutUint32(footer[0:4], rowCount)
	binary.LittleEndian.PutUint64(footer[4:12], uint64(minTs))
	binary.LittleEndian.PutUint64(footer[12:20], uint64(maxTs))
	_, err := w.Write(footer[:])
	return err
}
