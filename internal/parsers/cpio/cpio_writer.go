package cpio

import (
	"errors"
	"fmt"
	"io"

	"github.com/deploymenttheory/go-droidimg/internal/types"
)

var (
	// ErrWriteTooLong is returned when more data is written than the header declared
	ErrWriteTooLong = errors.New("cpio: write too long")
	// ErrWriterClosed is returned for writes after Close
	ErrWriterClosed = errors.New("cpio: writer already closed")
)

// Writer produces a newc archive
type Writer struct {
	w         io.Writer
	remaining int64
	pad       int64
	closed    bool
}

// NewWriter creates a Writer over w
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader finishes the previous entry and writes the header for e.
// NameSize and Magic are derived from e.Name.
func (w *Writer) WriteHeader(e *types.CpioEntry) error {
	if w.closed {
		return ErrWriterClosed
	}
	if err := w.finishEntry(); err != nil {
		return err
	}

	header := MarshalHeader(e)
	if _, err := w.w.Write(header); err != nil {
		return err
	}

	w.remaining = int64(e.FileSize)
	w.pad = alignPad(int64(e.FileSize))
	return nil
}

// Write writes data for the current entry
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrWriterClosed
	}
	if int64(len(p)) > w.remaining {
		return 0, ErrWriteTooLong
	}
	n, err := w.w.Write(p)
	w.remaining -= int64(n)
	return n, err
}

// Close writes the trailer entry. It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	if err := w.WriteHeader(&types.CpioEntry{Name: types.CpioTrailerName, Nlink: 1}); err != nil {
		return err
	}
	w.closed = true
	return nil
}

func (w *Writer) finishEntry() error {
	if w.remaining > 0 {
		return fmt.Errorf("cpio: previous entry short by %d bytes", w.remaining)
	}
	if w.pad > 0 {
		var zeros [types.CpioAlignment]byte
		if _, err := w.w.Write(zeros[:w.pad]); err != nil {
			return err
		}
		w.pad = 0
	}
	return nil
}

// MarshalHeader encodes the header and padded name of e
func MarshalHeader(e *types.CpioEntry) []byte {
	nameSize := len(e.Name) + 1
	total := types.CpioHeaderSize + nameSize
	buf := make([]byte, int64(total)+alignPad(int64(total)))

	magic := e.Magic
	if magic == "" {
		magic = types.CpioNewcMagic
	}
	copy(buf[0:6], magic)

	fields := [types.CpioFieldCount]uint32{
		e.Ino, e.Mode, e.UID, e.GID, e.Nlink, e.Mtime, e.FileSize,
		e.DevMajor, e.DevMinor, e.RdevMajor, e.RdevMinor, uint32(nameSize), e.Check,
	}
	for i, v := range fields {
		copy(buf[6+i*8:14+i*8], fmt.Sprintf("%08X", v))
	}

	copy(buf[types.CpioHeaderSize:], e.Name)
	return buf
}
