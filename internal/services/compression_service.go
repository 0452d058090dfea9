package services

import (
	"bytes"
	"compress/bzip2"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/apex/log"
	"github.com/klauspost/compress/zstd"
	gzip "github.com/klauspost/pgzip"
	"github.com/pierrec/lz4/v4"
	uxz "github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
	"github.com/xi2/xz"

	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// Legacy LZ4 streams are a magic followed by independently compressed
// blocks of at most 8 MiB, each prefixed by its compressed length
const lz4LegacyBlockSize = 8 << 20

// CompressionService detects and transcodes compressed ramdisk streams
type CompressionService struct{}

// NewCompressionService creates a new compression service
func NewCompressionService() *CompressionService {
	return &CompressionService{}
}

// detectOrder lists magics from most to least specific
var detectOrder = []struct {
	magic  []byte
	format types.CompressionFormat
}{
	{types.XZMagic, types.CompressionXZ},
	{types.ZstdMagic, types.CompressionZstd},
	{types.LZ4FrameMagic, types.CompressionLZ4Frame},
	{types.LZ4LegacyMagic, types.CompressionLZ4Legacy},
	{types.LZOPMagic, types.CompressionLZOP},
	{types.Bzip2Magic, types.CompressionBzip2},
	{types.LZMAMagic, types.CompressionLZMA},
	{types.GzipMagic, types.CompressionGzip},
	{types.GzipAltMagic, types.CompressionGzip},
}

// Detect identifies the compression of data from its leading magic
func (cs *CompressionService) Detect(data []byte) types.CompressionFormat {
	for _, d := range detectOrder {
		if bytes.HasPrefix(data, d.magic) {
			return d.format
		}
	}
	return types.CompressionNone
}

// CanDecompress reports whether a decoder exists for format
func (cs *CompressionService) CanDecompress(format types.CompressionFormat) bool {
	return format != types.CompressionLZOP
}

// CanCompress reports whether an encoder exists for format
func (cs *CompressionService) CanCompress(format types.CompressionFormat) bool {
	switch format {
	case types.CompressionBzip2, types.CompressionLZOP:
		return false
	}
	return true
}

// NewReader returns a decoder for format reading from r
func (cs *CompressionService) NewReader(r io.Reader, format types.CompressionFormat) (io.ReadCloser, error) {
	const op = "open decompressor"

	switch format {
	case types.CompressionNone:
		return io.NopCloser(r), nil
	case types.CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, types.NewCodecError(types.ErrKindFormatInvalid, op, "", fmt.Errorf("failed to read gzip header: %w", err))
		}
		return zr, nil
	case types.CompressionLZ4Frame:
		return io.NopCloser(lz4.NewReader(r)), nil
	case types.CompressionLZ4Legacy:
		return &lz4LegacyReader{r: r}, nil
	case types.CompressionXZ:
		zr, err := xz.NewReader(r, 0)
		if err != nil {
			return nil, types.NewCodecError(types.ErrKindFormatInvalid, op, "", fmt.Errorf("failed to read xz header: %w", err))
		}
		return io.NopCloser(zr), nil
	case types.CompressionLZMA:
		zr, err := lzma.NewReader(r)
		if err != nil {
			return nil, types.NewCodecError(types.ErrKindFormatInvalid, op, "", fmt.Errorf("failed to read lzma header: %w", err))
		}
		return io.NopCloser(zr), nil
	case types.CompressionBzip2:
		return io.NopCloser(bzip2.NewReader(r)), nil
	case types.CompressionZstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, types.NewCodecError(types.ErrKindFormatInvalid, op, "", fmt.Errorf("failed to create zstd decoder: %w", err))
		}
		return d.IOReadCloser(), nil
	default:
		return nil, types.Errorf(types.ErrKindUnsupported, op, "no decoder for %s", format)
	}
}

// NewWriter returns an encoder for format writing to w. Close flushes the
// stream but does not close w.
func (cs *CompressionService) NewWriter(w io.Writer, format types.CompressionFormat) (io.WriteCloser, error) {
	const op = "open compressor"

	switch format {
	case types.CompressionGzip:
		zw, err := gzip.NewWriterLevel(w, gzip.BestCompression)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		return zw, nil
	case types.CompressionLZ4Frame:
		return lz4.NewWriter(w), nil
	case types.CompressionLZ4Legacy:
		return &lz4LegacyWriter{w: w}, nil
	case types.CompressionXZ:
		// The kernel's xz decoder only understands CRC32 checks
		zw, err := uxz.WriterConfig{CheckSum: uxz.CRC32}.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("failed to create xz writer: %w", err)
		}
		return zw, nil
	case types.CompressionLZMA:
		zw, err := lzma.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("failed to create lzma writer: %w", err)
		}
		return zw, nil
	case types.CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		return zw, nil
	default:
		return nil, types.Errorf(types.ErrKindUnsupported, op, "no encoder for %s", format)
	}
}

// Decompress decodes a whole buffer
func (cs *CompressionService) Decompress(data []byte, format types.CompressionFormat) ([]byte, error) {
	r, err := cs.NewReader(bytes.NewReader(data), format)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out bytes.Buffer
	if _, err := out.ReadFrom(r); err != nil {
		return nil, types.NewCodecError(types.ErrKindFormatInvalid, "decompress", "", fmt.Errorf("%s stream is corrupt: %w", format, err))
	}
	return out.Bytes(), nil
}

// Compress encodes a whole buffer
func (cs *CompressionService) Compress(data []byte, format types.CompressionFormat) ([]byte, error) {
	var out bytes.Buffer
	w, err := cs.NewWriter(&out, format)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to compress %s: %w", format, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish %s stream: %w", format, err)
	}
	return out.Bytes(), nil
}

// lz4LegacyReader decodes the legacy LZ4 format used by older kernels
type lz4LegacyReader struct {
	r       io.Reader
	started bool
	done    bool
	block   []byte
	out     []byte
	pending []byte
}

func (lr *lz4LegacyReader) Read(p []byte) (int, error) {
	for len(lr.pending) == 0 {
		if lr.done {
			return 0, io.EOF
		}
		if err := lr.nextBlock(); err != nil {
			return 0, err
		}
	}
	n := copy(p, lr.pending)
	lr.pending = lr.pending[n:]
	return n, nil
}

func (lr *lz4LegacyReader) nextBlock() error {
	var word [4]byte

	if !lr.started {
		if _, err := io.ReadFull(lr.r, word[:]); err != nil {
			return types.NewCodecError(types.ErrKindFormatInvalid, "read lz4 legacy", "", fmt.Errorf("missing magic: %w", err))
		}
		if !bytes.Equal(word[:], types.LZ4LegacyMagic) {
			return types.Errorf(types.ErrKindFormatInvalid, "read lz4 legacy", "bad magic % x", word[:])
		}
		lr.started = true
		lr.out = make([]byte, lz4LegacyBlockSize)
	}

	for {
		if _, err := io.ReadFull(lr.r, word[:]); err != nil {
			return lr.endOfStream(err, "block size")
		}
		if bytes.Equal(word[:], types.LZ4LegacyMagic) {
			// Concatenated streams repeat the magic
			continue
		}
		break
	}

	size := binary.LittleEndian.Uint32(word[:])
	if int(size) > lz4.CompressBlockBound(lz4LegacyBlockSize) {
		// Some kernels append the uncompressed size after the last block
		log.WithField("value", size).Debug("lz4 legacy stream ended with trailer word")
		lr.done = true
		return nil
	}

	if cap(lr.block) < int(size) {
		lr.block = make([]byte, size)
	}
	lr.block = lr.block[:size]
	if _, err := io.ReadFull(lr.r, lr.block); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return types.Errorf(types.ErrKindFormatInvalid, "read lz4 legacy", "block of %d bytes is truncated", size)
		}
		return types.WrapIOError("read lz4 legacy", "", err)
	}

	n, err := lz4.UncompressBlock(lr.block, lr.out)
	if err != nil {
		return types.NewCodecError(types.ErrKindFormatInvalid, "read lz4 legacy", "", fmt.Errorf("corrupt block: %w", err))
	}
	lr.pending = lr.out[:n]
	return nil
}

// endOfStream handles a failed read at a block boundary. Only a bare EOF
// ends the stream cleanly.
func (lr *lz4LegacyReader) endOfStream(err error, what string) error {
	switch {
	case err == io.EOF:
		lr.done = true
		return nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		return types.Errorf(types.ErrKindFormatInvalid, "read lz4 legacy", "truncated %s", what)
	default:
		return types.WrapIOError("read lz4 legacy", "", err)
	}
}

func (lr *lz4LegacyReader) Close() error {
	return nil
}

// lz4LegacyWriter encodes the legacy LZ4 format
type lz4LegacyWriter struct {
	w       io.Writer
	started bool
	closed  bool
	buf     []byte
	dst     []byte
}

func (lw *lz4LegacyWriter) Write(p []byte) (int, error) {
	if lw.closed {
		return 0, errors.New("lz4 legacy writer is closed")
	}
	written := 0
	for len(p) > 0 {
		room := lz4LegacyBlockSize - len(lw.buf)
		n := len(p)
		if n > room {
			n = room
		}
		lw.buf = append(lw.buf, p[:n]...)
		p = p[n:]
		written += n
		if len(lw.buf) == lz4LegacyBlockSize {
			if err := lw.flush(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func (lw *lz4LegacyWriter) flush() error {
	if !lw.started {
		if _, err := lw.w.Write(types.LZ4LegacyMagic); err != nil {
			return err
		}
		lw.started = true
		lw.dst = make([]byte, lz4.CompressBlockBound(lz4LegacyBlockSize))
	}
	if len(lw.buf) == 0 {
		return nil
	}

	n, err := lz4.CompressBlock(lw.buf, lw.dst, nil)
	if err != nil {
		return fmt.Errorf("failed to compress lz4 block: %w", err)
	}

	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(n))
	if _, err := lw.w.Write(size[:]); err != nil {
		return err
	}
	if _, err := lw.w.Write(lw.dst[:n]); err != nil {
		return err
	}
	lw.buf = lw.buf[:0]
	return nil
}

func (lw *lz4LegacyWriter) Close() error {
	if lw.closed {
		return nil
	}
	lw.closed = true
	return lw.flush()
}
