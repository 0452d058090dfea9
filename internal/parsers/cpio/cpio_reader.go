package cpio

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/apex/log"

	"github.com/deploymenttheory/go-droidimg/internal/types"
)

const maxNameSize = 4096

var errBadMagic = errors.New("cpio: bad header magic")

// Reader streams entries out of a newc archive. Next returns io.EOF at the
// trailer entry, at the end of input, or at a header whose magic is not a
// newc magic.
type Reader struct {
	r       io.Reader
	current io.LimitedReader
	pad     int64
	offset  int64
	done    bool
}

// NewReader creates a Reader over r
func NewReader(r io.Reader) *Reader {
	cr := &Reader{r: r}
	cr.current = io.LimitedReader{R: &countingReader{r: r, n: &cr.offset}}
	return cr
}

// Offset returns the number of archive bytes consumed so far
func (r *Reader) Offset() int64 {
	return r.offset
}

// Read reads the data of the current entry
func (r *Reader) Read(p []byte) (int, error) {
	return r.current.Read(p)
}

// Next skips any unread data of the current entry and returns the next header
func (r *Reader) Next() (*types.CpioEntry, error) {
	if r.done {
		return nil, io.EOF
	}

	if leftover := r.current.N + r.pad; leftover > 0 {
		if _, err := io.CopyN(io.Discard, r.current.R, leftover); err != nil {
			return nil, types.WrapIOError("read cpio entry", "", err)
		}
	}
	r.current.N = 0
	r.pad = 0

	entry, err := r.readHeader()
	if err != nil {
		if errors.Is(err, errBadMagic) {
			log.WithField("offset", r.offset).Debug("cpio: unrecognized magic, treating as end of archive")
			r.done = true
			return nil, io.EOF
		}
		if errors.Is(err, io.EOF) {
			r.done = true
			return nil, io.EOF
		}
		return nil, err
	}

	if entry.Name == types.CpioTrailerName {
		r.done = true
		return nil, io.EOF
	}

	r.current.N = int64(entry.FileSize)
	r.pad = alignPad(int64(entry.FileSize))
	return entry, nil
}

func (r *Reader) readHeader() (*types.CpioEntry, error) {
	src := r.current.R
	start := r.offset

	var buf [types.CpioHeaderSize]byte
	n, err := io.ReadFull(src, buf[:])
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, types.NewCodecError(types.ErrKindFormatInvalid, "read cpio header", "", fmt.Errorf("truncated header at offset %d: %w", start, err))
	}

	entry, err := ParseHeader(buf[:])
	if err != nil {
		return nil, err
	}

	nameLen := int64(entry.NameSize) + alignPad(types.CpioHeaderSize+int64(entry.NameSize))
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(src, name); err != nil {
		return nil, types.NewCodecError(types.ErrKindFormatInvalid, "read cpio name", "", fmt.Errorf("truncated name at offset %d: %w", start, err))
	}
	entry.Name = string(name[:entry.NameSize-1])
	return entry, nil
}

// ParseHeader decodes the fixed 110 byte newc header. The returned entry has
// no name; NameSize gives the length of the NUL terminated name that follows.
func ParseHeader(data []byte) (*types.CpioEntry, error) {
	if len(data) < types.CpioHeaderSize {
		return nil, types.Errorf(types.ErrKindFormatInvalid, "parse cpio header", "header too short: %d bytes", len(data))
	}

	magic := string(data[0:6])
	if magic != types.CpioNewcMagic && magic != types.CpioCrcMagic {
		return nil, types.NewCodecError(types.ErrKindFormatInvalid, "parse cpio header", "", errBadMagic)
	}

	var fields [types.CpioFieldCount]uint32
	for i := range fields {
		raw := string(data[6+i*8 : 14+i*8])
		v, err := strconv.ParseUint(raw, 16, 32)
		if err != nil {
			return nil, types.Errorf(types.ErrKindFormatInvalid, "parse cpio header", "invalid hex field %d %q", i, raw)
		}
		fields[i] = uint32(v)
	}

	entry := &types.CpioEntry{
		Magic:     magic,
		Ino:       fields[0],
		Mode:      fields[1],
		UID:       fields[2],
		GID:       fields[3],
		Nlink:     fields[4],
		Mtime:     fields[5],
		FileSize:  fields[6],
		DevMajor:  fields[7],
		DevMinor:  fields[8],
		RdevMajor: fields[9],
		RdevMinor: fields[10],
		NameSize:  fields[11],
		Check:     fields[12],
	}

	if entry.NameSize == 0 || entry.NameSize > maxNameSize {
		return nil, types.Errorf(types.ErrKindFormatInvalid, "parse cpio header", "file name length %d out of range", entry.NameSize)
	}

	return entry, nil
}

// alignPad returns the padding that brings n up to a 4 byte boundary
func alignPad(n int64) int64 {
	return (n+types.CpioAlignment-1)&^(types.CpioAlignment-1) - n
}

type countingReader struct {
	r io.Reader
	n *int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	*c.n += int64(n)
	return n, err
}

// HasMagic reports whether data starts with a newc or crc magic
func HasMagic(data []byte) bool {
	if len(data) < 6 {
		return false
	}
	magic := string(data[0:6])
	return magic == types.CpioNewcMagic || magic == types.CpioCrcMagic
}
