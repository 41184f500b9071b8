package debug

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

// Debug is a thread-safe binary trace logger. It is disabled until Open is
// called; every Write* call on a closed logger is a no-op, so hot paths can
// trace unconditionally.

// Each record is framed as:
//   - 2 bytes kind (0 = invalid, 1 = bytes, 2 = string)
//   - 2 bytes source length
//   - 4 bytes message length
//   - 8 bytes timestamp (nanoseconds since epoch)
//   - sourceLength bytes source
//   - messageLength bytes message
//
// Thread safety comes from atomically reserving a file offset per record.

type Writer interface {
	WriteAt(p []byte, off int64) (int, error)
	Close() error
}

type writer struct {
	w Writer
}

var (
	fh     atomic.Pointer[writer]
	offset atomic.Uint64
)

// OpenFile opens filename for tracing, truncating any previous contents.
func OpenFile(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	return Open(f)
}

// Open installs w as the trace sink. The returned error is a warning, not a
// failure; it indicates a previous sink was discarded.
func Open(w Writer) error {
	offset.Store(0)
	if fh.Swap(&writer{w: w}) != nil {
		return fmt.Errorf("debug: already open, discarded old writer")
	}
	return nil
}

func Close() error {
	fh := fh.Swap(nil)
	if fh != nil {
		if err := fh.w.Close(); err != nil {
			return err
		}
	}
	offset.Store(0)
	return nil
}

type Kind uint16

const (
	KindInvalid Kind = iota
	KindBytes
	KindString
)

func encodeHeader(kind Kind, source string, data []byte) ([]byte, int64) {
	header := make([]byte, 16)
	binary.LittleEndian.PutUint16(header[0:2], uint16(kind))
	binary.LittleEndian.PutUint16(header[2:4], uint16(len(source)))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(data)))
	binary.LittleEndian.PutUint64(header[8:16], uint64(time.Now().UnixNano()))
	return header, int64(len(source) + len(data) + 16)
}

func writeBytes(kind Kind, source string, data []byte) {
	fh := fh.Load()
	if fh == nil {
		return
	}

	header, size := encodeHeader(kind, source, data)
	off := offset.Add(uint64(size)) - uint64(size)
	if _, err := fh.w.WriteAt(header, int64(off)); err != nil {
		panic(err)
	}
	if _, err := fh.w.WriteAt([]byte(source), int64(off)+16); err != nil {
		panic(err)
	}
	if _, err := fh.w.WriteAt(data, int64(off)+16+int64(len(source))); err != nil {
		panic(err)
	}
}

func WriteBytes(source string, data []byte) {
	writeBytes(KindBytes, source, data)
}

func Write(source string, data string) {
	writeBytes(KindString, source, []byte(data))
}

func Writef(source string, format string, args ...any) {
	writeBytes(KindString, source, fmt.Appendf(nil, format, args...))
}
