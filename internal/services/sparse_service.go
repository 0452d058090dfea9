package services

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/apex/log"

	"github.com/deploymenttheory/go-droidimg/internal/config"
	"github.com/deploymenttheory/go-droidimg/internal/parsers/sparse"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// SparseService converts between Android sparse images and raw images
type SparseService struct {
	cfg *config.Config
}

// NewSparseService creates a new sparse image service
func NewSparseService(cfg *config.Config) *SparseService {
	return &SparseService{cfg: cfg}
}

// IsSparse reports whether r starts with a valid sparse header
func (s *SparseService) IsSparse(r io.ReaderAt) bool {
	head, err := readUpTo(r, 0, types.SparseHeaderSize)
	if err != nil {
		return false
	}
	_, err = sparse.NewSparseHeaderReader(head, binary.LittleEndian)
	return err == nil
}

// DecodeFile expands the sparse image at in into a raw image at out
func (s *SparseService) DecodeFile(ctx context.Context, in, out string, progress types.ProgressFunc) (*types.SparseDecodeResult, error) {
	f, err := os.Open(in)
	if err != nil {
		return nil, types.WrapIOError("decode sparse", in, err)
	}
	defer f.Close()

	var result *types.SparseDecodeResult
	err = writeFileAtomic(out, func(dst *os.File) error {
		var err error
		result, err = s.Decode(ctx, f, dst, progress)
		return err
	})
	if err != nil {
		return nil, withPath(err, in)
	}
	return result, nil
}

// Decode expands a sparse stream into w. DONT_CARE ranges are skipped with
// Seek when w supports it and written as zeros otherwise.
func (s *SparseService) Decode(ctx context.Context, r io.Reader, w io.Writer, progress types.ProgressFunc) (*types.SparseDecodeResult, error) {
	const op = "decode sparse"

	head := make([]byte, types.SparseHeaderSize)
	if err := readFull(r, head, op, "file header"); err != nil {
		return nil, err
	}
	hr, err := sparse.NewSparseHeaderReader(head, binary.LittleEndian)
	if err != nil {
		return nil, err
	}
	if err := discard(r, hr.ExtraHeaderBytes(), op); err != nil {
		return nil, err
	}

	header := hr.Header()
	result := &types.SparseDecodeResult{Header: *header}
	out := &sparseOutput{w: w, blockSize: int64(header.BlockSize)}
	tracker := newProgressTracker(progress, header.RawSize())
	buf := make([]byte, s.cfg.ChunkSize)
	chunkHead := make([]byte, header.ChunkHeaderSize)

	for i := uint32(0); i < header.TotalChunks; i++ {
		if err := checkContext(ctx, op); err != nil {
			return nil, err
		}
		if err := readFull(r, chunkHead, op, fmt.Sprintf("chunk %d header", i)); err != nil {
			return nil, err
		}
		ch, err := sparse.ParseChunkHeader(chunkHead, header.BlockSize, header.ChunkHeaderSize, binary.LittleEndian)
		if err != nil {
			return nil, types.NewCodecError(types.ErrKindFormatInvalid, op, "", fmt.Errorf("chunk %d: %w", i, err))
		}

		log.WithFields(log.Fields{
			"chunk":  i,
			"type":   types.SparseChunkTypeName(ch.ChunkType),
			"blocks": ch.ChunkSize,
		}).Debug("sparse chunk")

		switch ch.ChunkType {
		case types.SparseChunkRaw:
			result.RawChunks++
			if err := out.copyRaw(ctx, r, sparse.PayloadSize(ch, header.ChunkHeaderSize), buf, tracker); err != nil {
				return nil, err
			}
		case types.SparseChunkFill:
			result.FillChunks++
			value := make([]byte, 4)
			if err := readFull(r, value, op, fmt.Sprintf("chunk %d fill value", i)); err != nil {
				return nil, err
			}
			if err := out.fill(ctx, value, ch.ChunkSize, buf, tracker); err != nil {
				return nil, err
			}
		case types.SparseChunkDontCare:
			result.DontCareChunks++
			if err := out.skip(ctx, int64(ch.ChunkSize)*out.blockSize, buf, tracker); err != nil {
				return nil, err
			}
		case types.SparseChunkCRC32:
			result.CRCChunks++
			if err := discard(r, 4, op); err != nil {
				return nil, err
			}
		}
	}

	if err := out.finish(); err != nil {
		return nil, err
	}
	if out.written != header.RawSize() {
		log.WithFields(log.Fields{
			"written":  out.written,
			"declared": header.RawSize(),
		}).Warn("sparse chunks do not cover the declared block count")
	}
	tracker.finish()

	result.BytesWritten = out.written
	log.WithFields(log.Fields{
		"chunks": header.TotalChunks,
		"bytes":  out.written,
	}).Info("sparse image decoded")
	return result, nil
}

// sparseOutput tracks the write position of a decode
type sparseOutput struct {
	w         io.Writer
	blockSize int64
	written   int64
	// pending is a DONT_CARE gap that was seeked over and not yet backed by data
	pending bool
}

func (o *sparseOutput) write(p []byte, tracker *progressTracker) error {
	if _, err := o.w.Write(p); err != nil {
		return types.WrapIOError("decode sparse", "", fmt.Errorf("failed to write output: %w", err))
	}
	o.written += int64(len(p))
	o.pending = false
	tracker.update(o.written)
	return nil
}

func (o *sparseOutput) copyRaw(ctx context.Context, r io.Reader, n int64, buf []byte, tracker *progressTracker) error {
	for n > 0 {
		if err := checkContext(ctx, "decode sparse"); err != nil {
			return err
		}
		chunk := buf
		if int64(len(chunk)) > n {
			chunk = chunk[:n]
		}
		if err := readFull(r, chunk, "decode sparse", "raw chunk payload"); err != nil {
			return err
		}
		if err := o.write(chunk, tracker); err != nil {
			return err
		}
		n -= int64(len(chunk))
	}
	return nil
}

func (o *sparseOutput) fill(ctx context.Context, value []byte, blocks uint32, buf []byte, tracker *progressTracker) error {
	// buf is reused as a pattern buffer sized to a whole number of words,
	// never shorter than one word
	pattern := buf[:len(buf)/4*4]
	if len(pattern) < 4 {
		pattern = make([]byte, 4)
	}
	for i := 0; i < len(pattern); i += 4 {
		copy(pattern[i:i+4], value)
	}
	remaining := int64(blocks) * o.blockSize
	for remaining > 0 {
		if err := checkContext(ctx, "decode sparse"); err != nil {
			return err
		}
		chunk := pattern
		if int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		if err := o.write(chunk, tracker); err != nil {
			return err
		}
		remaining -= int64(len(chunk))
	}
	return nil
}

func (o *sparseOutput) skip(ctx context.Context, n int64, buf []byte, tracker *progressTracker) error {
	if n == 0 {
		return nil
	}
	if seeker, ok := o.w.(io.Seeker); ok {
		if _, err := seeker.Seek(n, io.SeekCurrent); err != nil {
			return types.WrapIOError("decode sparse", "", fmt.Errorf("failed to seek output: %w", err))
		}
		o.written += n
		o.pending = true
		tracker.update(o.written)
		return nil
	}

	zeros := buf
	for i := range zeros {
		zeros[i] = 0
	}
	for n > 0 {
		if err := checkContext(ctx, "decode sparse"); err != nil {
			return err
		}
		chunk := zeros
		if int64(len(chunk)) > n {
			chunk = chunk[:n]
		}
		if err := o.write(chunk, tracker); err != nil {
			return err
		}
		n -= int64(len(chunk))
	}
	return nil
}

// finish extends the output over a trailing seeked gap
func (o *sparseOutput) finish() error {
	if !o.pending {
		return nil
	}
	if t, ok := o.w.(interface{ Truncate(int64) error }); ok {
		if err := t.Truncate(o.written); err != nil {
			return types.WrapIOError("decode sparse", "", fmt.Errorf("failed to extend output: %w", err))
		}
		return nil
	}
	// Without Truncate the only way to materialize the gap is its last byte
	seeker := o.w.(io.Seeker)
	if _, err := seeker.Seek(-1, io.SeekCurrent); err != nil {
		return types.WrapIOError("decode sparse", "", err)
	}
	if _, err := o.w.Write([]byte{0}); err != nil {
		return types.WrapIOError("decode sparse", "", err)
	}
	return nil
}

// sparseRun is a run of blocks that encode to one chunk
type sparseRun struct {
	chunkType uint16
	start     int64
	blocks    uint32
	fill      []byte
}

// rawRunLimit is the largest RAW chunk, in blocks, whose total size still
// fits the 32-bit chunk size field
func rawRunLimit(blockSize uint32) uint32 {
	return (math.MaxUint32 - types.SparseChunkHeaderSize) / blockSize
}

// splitRawRuns breaks RAW runs longer than limit blocks into consecutive
// runs of at most limit blocks
func splitRawRuns(runs []sparseRun, limit uint32) []sparseRun {
	out := make([]sparseRun, 0, len(runs))
	for _, run := range runs {
		for run.chunkType == types.SparseChunkRaw && run.blocks > limit {
			out = append(out, sparseRun{chunkType: run.chunkType, start: run.start, blocks: limit})
			run.start += int64(limit)
			run.blocks -= limit
		}
		out = append(out, run)
	}
	return out
}

// EncodeFile converts the raw image at in into a sparse image at out
func (s *SparseService) EncodeFile(ctx context.Context, in, out string, blockSize uint32) (*types.SparseHeader, error) {
	f, err := os.Open(in)
	if err != nil {
		return nil, types.WrapIOError("encode sparse", in, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, types.WrapIOError("encode sparse", in, err)
	}

	var header *types.SparseHeader
	err = writeFileAtomic(out, func(dst *os.File) error {
		var err error
		header, err = s.Encode(ctx, f, info.Size(), dst, blockSize)
		return err
	})
	if err != nil {
		return nil, withPath(err, in)
	}
	return header, nil
}

// Encode writes size bytes of r as a sparse image. All zero blocks become
// DONT_CARE, blocks of one repeated 32-bit word become FILL and the rest RAW.
// A trailing partial block is zero padded.
func (s *SparseService) Encode(ctx context.Context, r io.ReaderAt, size int64, w io.Writer, blockSize uint32) (*types.SparseHeader, error) {
	const op = "encode sparse"

	if blockSize == 0 {
		blockSize = types.SparseDefaultBlock
	}
	if blockSize%4 != 0 {
		return nil, types.Errorf(types.ErrKindInvalidInput, op, "block size %d is not a multiple of 4", blockSize)
	}
	totalBlocks := (size + int64(blockSize) - 1) / int64(blockSize)
	if totalBlocks > int64(^uint32(0)) {
		return nil, types.Errorf(types.ErrKindInvalidInput, op, "image of %d bytes needs too many blocks", size)
	}

	block := make([]byte, blockSize)
	readBlock := func(index int64) ([]byte, error) {
		data, err := readUpTo(r, index*int64(blockSize), int(blockSize))
		if err != nil {
			return nil, err
		}
		copy(block, data)
		for i := len(data); i < len(block); i++ {
			block[i] = 0
		}
		return block, nil
	}

	// First pass groups blocks into runs
	var runs []sparseRun
	for i := int64(0); i < totalBlocks; i++ {
		if err := checkContext(ctx, op); err != nil {
			return nil, err
		}
		data, err := readBlock(i)
		if err != nil {
			return nil, err
		}
		chunkType, fill := classifyBlock(data)
		if n := len(runs); n > 0 && runs[n-1].chunkType == chunkType && bytes.Equal(runs[n-1].fill, fill) {
			runs[n-1].blocks++
			continue
		}
		runs = append(runs, sparseRun{chunkType: chunkType, start: i, blocks: 1, fill: fill})
	}

	runs = splitRawRuns(runs, rawRunLimit(blockSize))

	header := &types.SparseHeader{
		Magic:           types.SparseMagic,
		MajorVersion:    types.SparseMajorVersion,
		MinorVersion:    types.SparseMinorVersion,
		FileHeaderSize:  types.SparseHeaderSize,
		ChunkHeaderSize: types.SparseChunkHeaderSize,
		BlockSize:       blockSize,
		TotalBlocks:     uint32(totalBlocks),
		TotalChunks:     uint32(len(runs)),
	}

	write := func(p []byte) error {
		if _, err := w.Write(p); err != nil {
			return types.WrapIOError(op, "", fmt.Errorf("failed to write output: %w", err))
		}
		return nil
	}

	// Second pass emits the chunks
	if err := write(sparse.MarshalSparseHeader(header, binary.LittleEndian)); err != nil {
		return nil, err
	}
	for _, run := range runs {
		if err := write(sparse.MarshalChunkHeader(run.chunkType, run.blocks, blockSize, binary.LittleEndian)); err != nil {
			return nil, err
		}
		switch run.chunkType {
		case types.SparseChunkFill:
			if err := write(run.fill); err != nil {
				return nil, err
			}
		case types.SparseChunkRaw:
			for i := run.start; i < run.start+int64(run.blocks); i++ {
				if err := checkContext(ctx, op); err != nil {
					return nil, err
				}
				data, err := readBlock(i)
				if err != nil {
					return nil, err
				}
				if err := write(data); err != nil {
					return nil, err
				}
			}
		}
	}

	log.WithFields(log.Fields{
		"blocks": totalBlocks,
		"chunks": len(runs),
	}).Info("sparse image encoded")
	return header, nil
}

// classifyBlock picks the chunk type for one block
func classifyBlock(block []byte) (uint16, []byte) {
	word := block[:4]
	for i := 4; i < len(block); i += 4 {
		if !bytes.Equal(block[i:i+4], word) {
			return types.SparseChunkRaw, nil
		}
	}
	if bytes.Equal(word, []byte{0, 0, 0, 0}) {
		return types.SparseChunkDontCare, nil
	}
	return types.SparseChunkFill, append([]byte(nil), word...)
}

// readFull reads exactly len(p) bytes, reporting a short stream as
// FormatInvalid
func readFull(r io.Reader, p []byte, op, what string) error {
	if _, err := io.ReadFull(r, p); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return types.Errorf(types.ErrKindFormatInvalid, op, "truncated %s", what)
		}
		return types.WrapIOError(op, "", err)
	}
	return nil
}

func discard(r io.Reader, n int, op string) error {
	if n <= 0 {
		return nil
	}
	return readFull(r, make([]byte, n), op, "padding")
}
