package services

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/apex/log"

	"github.com/deploymenttheory/go-droidimg/internal/config"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// ChecksumService hashes and compares files in bounded chunks
type ChecksumService struct {
	cfg *config.Config
}

// NewChecksumService creates a new checksum service
func NewChecksumService(cfg *config.Config) *ChecksumService {
	return &ChecksumService{cfg: cfg}
}

func newHash(algo types.HashAlgorithm) (hash.Hash, error) {
	switch algo {
	case types.HashMD5:
		return md5.New(), nil
	case types.HashSHA1:
		return sha1.New(), nil
	case types.HashSHA256:
		return sha256.New(), nil
	case types.HashSHA512:
		return sha512.New(), nil
	default:
		return nil, types.Errorf(types.ErrKindUnsupported, "checksum", "unsupported hash algorithm: %s", algo)
	}
}

// Checksum returns the lowercase hex digest of the file
func (s *ChecksumService) Checksum(ctx context.Context, path string, algo types.HashAlgorithm, progress types.ProgressFunc) (string, error) {
	sums, err := s.Checksums(ctx, path, []types.HashAlgorithm{algo}, progress)
	if err != nil {
		return "", err
	}
	return sums[algo], nil
}

// Checksums computes several digests in one pass over the file
func (s *ChecksumService) Checksums(ctx context.Context, path string, algos []types.HashAlgorithm, progress types.ProgressFunc) (map[types.HashAlgorithm]string, error) {
	const op = "checksum"

	hashes := make(map[types.HashAlgorithm]hash.Hash, len(algos))
	writers := make([]io.Writer, 0, len(algos))
	for _, algo := range algos {
		if _, ok := hashes[algo]; ok {
			continue
		}
		h, err := newHash(algo)
		if err != nil {
			return nil, err
		}
		hashes[algo] = h
		writers = append(writers, h)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, types.WrapIOError(op, path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, types.WrapIOError(op, path, err)
	}

	if _, err := copyRange(ctx, io.MultiWriter(writers...), f, 0, info.Size(), s.cfg.ChunkSize, newProgressTracker(progress, info.Size())); err != nil {
		return nil, withPath(err, path)
	}

	sums := make(map[types.HashAlgorithm]string, len(hashes))
	for algo, h := range hashes {
		sums[algo] = hex.EncodeToString(h.Sum(nil))
	}
	return sums, nil
}

// CompareFiles reports whether two files are byte for byte identical
func (s *ChecksumService) CompareFiles(ctx context.Context, a, b string, progress types.ProgressFunc) (bool, error) {
	result, err := s.diff(ctx, a, b, 1, progress)
	if err != nil {
		return false, err
	}
	return result.SizeA == result.SizeB && len(result.Differences) == 0, nil
}

// FindDifferences lists up to limit differing offsets within the common
// length of both files. Truncated is set when more differences exist.
func (s *ChecksumService) FindDifferences(ctx context.Context, a, b string, limit int, progress types.ProgressFunc) (*types.DiffResult, error) {
	if limit <= 0 {
		return nil, types.Errorf(types.ErrKindInvalidInput, "find differences", "limit must be positive, got %d", limit)
	}
	return s.diff(ctx, a, b, limit, progress)
}

func (s *ChecksumService) diff(ctx context.Context, pathA, pathB string, limit int, progress types.ProgressFunc) (*types.DiffResult, error) {
	const op = "compare"

	fa, err := os.Open(pathA)
	if err != nil {
		return nil, types.WrapIOError(op, pathA, err)
	}
	defer fa.Close()
	fb, err := os.Open(pathB)
	if err != nil {
		return nil, types.WrapIOError(op, pathB, err)
	}
	defer fb.Close()

	ia, err := fa.Stat()
	if err != nil {
		return nil, types.WrapIOError(op, pathA, err)
	}
	ib, err := fb.Stat()
	if err != nil {
		return nil, types.WrapIOError(op, pathB, err)
	}

	result := &types.DiffResult{SizeA: ia.Size(), SizeB: ib.Size()}
	common := result.SizeA
	if result.SizeB < common {
		common = result.SizeB
	}

	tracker := newProgressTracker(progress, common)
	bufA := make([]byte, s.cfg.ChunkSize)
	bufB := make([]byte, s.cfg.ChunkSize)
	for pos := int64(0); pos < common; {
		if err := checkContext(ctx, op); err != nil {
			return nil, err
		}
		n := int64(len(bufA))
		if common-pos < n {
			n = common - pos
		}
		if _, err := io.ReadFull(io.NewSectionReader(fa, pos, n), bufA[:n]); err != nil {
			return nil, types.WrapIOError(op, pathA, fmt.Errorf("failed to read at offset %d: %w", pos, err))
		}
		if _, err := io.ReadFull(io.NewSectionReader(fb, pos, n), bufB[:n]); err != nil {
			return nil, types.WrapIOError(op, pathB, fmt.Errorf("failed to read at offset %d: %w", pos, err))
		}

		if !bytes.Equal(bufA[:n], bufB[:n]) {
			for i := int64(0); i < n; i++ {
				if bufA[i] == bufB[i] {
					continue
				}
				if len(result.Differences) == limit {
					result.Truncated = true
					tracker.finish()
					return result, nil
				}
				result.Differences = append(result.Differences, types.ByteDifference{Offset: pos + i, A: bufA[i], B: bufB[i]})
			}
		}
		pos += n
		tracker.update(pos)
	}
	tracker.finish()

	if result.SizeA != result.SizeB {
		log.WithFields(log.Fields{"a": result.SizeA, "b": result.SizeB}).Debug("compared files differ in length")
	}
	return result, nil
}
