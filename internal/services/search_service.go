package services

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/apex/log"
	"go4.org/bytereplacer"

	"github.com/deploymenttheory/go-droidimg/internal/config"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// SearchService finds and replaces byte patterns in files of any size
type SearchService struct {
	cfg *config.Config
}

// NewSearchService creates a new search service
func NewSearchService(cfg *config.Config) *SearchService {
	return &SearchService{cfg: cfg}
}

// ParseHexPattern parses space separated or contiguous hex bytes where
// "??" or "**" match any byte, e.g. "41 ?? 43" or "41??43"
func ParseHexPattern(s string) (types.BytePattern, error) {
	const op = "parse hex pattern"

	compact := strings.Join(strings.Fields(s), "")
	if compact == "" {
		return types.BytePattern{}, types.Errorf(types.ErrKindInvalidInput, op, "empty pattern")
	}
	if len(compact)%2 != 0 {
		return types.BytePattern{}, types.Errorf(types.ErrKindInvalidInput, op, "odd number of hex digits in %q", s)
	}

	p := types.BytePattern{
		Bytes: make([]byte, len(compact)/2),
		Mask:  make([]bool, len(compact)/2),
	}
	for i := 0; i < len(compact); i += 2 {
		token := compact[i : i+2]
		if token == "??" || token == "**" {
			continue
		}
		b, err := hex.DecodeString(token)
		if err != nil {
			return types.BytePattern{}, types.Errorf(types.ErrKindInvalidInput, op, "invalid hex byte %q in %q", token, s)
		}
		p.Bytes[i/2] = b[0]
		p.Mask[i/2] = true
	}
	return p, nil
}

// ParseHexBytes parses hex without wildcards
func ParseHexBytes(s string) ([]byte, error) {
	p, err := ParseHexPattern(s)
	if err != nil {
		return nil, err
	}
	if !p.IsExact() {
		return nil, types.Errorf(types.ErrKindInvalidInput, "parse hex bytes", "wildcards are not allowed in %q", s)
	}
	return p.Bytes, nil
}

// ExactPattern wraps literal bytes as a pattern
func ExactPattern(b []byte) types.BytePattern {
	mask := make([]bool, len(b))
	for i := range mask {
		mask[i] = true
	}
	return types.BytePattern{Bytes: b, Mask: mask}
}

// matcher finds pattern occurrences inside one buffer
type matcher struct {
	pattern types.BytePattern
	fold    bool
	exact   bool
}

func newMatcher(p types.BytePattern, fold bool) *matcher {
	m := &matcher{pattern: p, fold: fold, exact: p.IsExact() && !fold}
	if fold {
		lowered := make([]byte, len(p.Bytes))
		for i, b := range p.Bytes {
			lowered[i] = lowerASCII(b)
		}
		m.pattern.Bytes = lowered
	}
	return m
}

// matchAt reports whether the pattern matches data at i
func (m *matcher) matchAt(data []byte, i int) bool {
	for j, want := range m.pattern.Bytes {
		if !m.pattern.Mask[j] {
			continue
		}
		got := data[i+j]
		if m.fold {
			got = lowerASCII(got)
		}
		if got != want {
			return false
		}
	}
	return true
}

// next returns the first match starting in data[from:limit], or -1
func (m *matcher) next(data []byte, from, limit int) int {
	n := m.pattern.Len()
	if m.exact {
		end := limit + n - 1
		if end > len(data) {
			end = len(data)
		}
		if from >= end {
			return -1
		}
		i := bytes.Index(data[from:end], m.pattern.Bytes)
		if i < 0 {
			return -1
		}
		return from + i
	}
	for i := from; i < limit && i+n <= len(data); i++ {
		if m.matchAt(data, i) {
			return i
		}
	}
	return -1
}

func lowerASCII(b byte) byte {
	if 'A' <= b && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

// FindAll returns the offsets of every match in data. Overlapping matches
// are reported unless nonOverlapping is set. limit <= 0 means no limit.
func FindAll(data []byte, p types.BytePattern, fold, nonOverlapping bool, limit int) []int64 {
	if p.Len() == 0 {
		return nil
	}
	m := newMatcher(p, fold)
	var offsets []int64
	for i := 0; ; {
		i = m.next(data, i, len(data)-p.Len()+1)
		if i < 0 {
			break
		}
		offsets = append(offsets, int64(i))
		if limit > 0 && len(offsets) >= limit {
			break
		}
		if nonOverlapping {
			i += p.Len()
		} else {
			i++
		}
	}
	return offsets
}

// SearchBytes finds every occurrence of needle in the file
func (s *SearchService) SearchBytes(ctx context.Context, path string, needle []byte, progress types.ProgressFunc) ([]types.HexSearchResult, error) {
	return s.search(ctx, path, ExactPattern(needle), false, progress)
}

// SearchText finds every occurrence of text, optionally ignoring ASCII case
func (s *SearchService) SearchText(ctx context.Context, path, text string, caseInsensitive bool, progress types.ProgressFunc) ([]types.HexSearchResult, error) {
	return s.search(ctx, path, ExactPattern([]byte(text)), caseInsensitive, progress)
}

// SearchWildcard finds every occurrence of a hex pattern such as "41 ?? 43"
func (s *SearchService) SearchWildcard(ctx context.Context, path, hexPattern string, progress types.ProgressFunc) ([]types.HexSearchResult, error) {
	p, err := ParseHexPattern(hexPattern)
	if err != nil {
		return nil, err
	}
	return s.search(ctx, path, p, false, progress)
}

// SearchPattern finds every occurrence of a parsed pattern
func (s *SearchService) SearchPattern(ctx context.Context, path string, p types.BytePattern, progress types.ProgressFunc) ([]types.HexSearchResult, error) {
	return s.search(ctx, path, p, false, progress)
}

func (s *SearchService) search(ctx context.Context, path string, p types.BytePattern, fold bool, progress types.ProgressFunc) ([]types.HexSearchResult, error) {
	const op = "search"

	f, err := os.Open(path)
	if err != nil {
		return nil, types.WrapIOError(op, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, types.WrapIOError(op, path, err)
	}

	results, err := s.SearchReader(ctx, f, info.Size(), p, fold, progress)
	if err != nil {
		return nil, withPath(err, path)
	}
	log.WithFields(log.Fields{
		"path":    path,
		"pattern": p.String(),
		"matches": len(results),
	}).Debug("search finished")
	return results, nil
}

// SearchReader scans size bytes of r through a window of bufferSize plus
// pattern length minus one, so matches that straddle two reads are found.
// Results stop at MaxSearchResults.
func (s *SearchService) SearchReader(ctx context.Context, r io.ReaderAt, size int64, p types.BytePattern, fold bool, progress types.ProgressFunc) ([]types.HexSearchResult, error) {
	const op = "search"

	if p.Len() == 0 {
		return nil, types.Errorf(types.ErrKindInvalidInput, op, "empty pattern")
	}

	m := newMatcher(p, fold)
	step := s.cfg.SearchBufferSize
	window := make([]byte, step+p.Len()-1)
	tracker := newProgressTracker(progress, size)

	var results []types.HexSearchResult
	for pos := int64(0); pos < size; pos += int64(step) {
		if err := checkContext(ctx, op); err != nil {
			return nil, err
		}

		n, err := r.ReadAt(window, pos)
		if err != nil && err != io.EOF {
			return nil, types.WrapIOError(op, "", fmt.Errorf("failed to read at offset %d: %w", pos, err))
		}
		data := window[:n]

		// Only matches starting in this step belong to this window
		limit := step
		if limit > len(data)-p.Len()+1 {
			limit = len(data) - p.Len() + 1
		}
		for i := 0; i < limit; i++ {
			i = m.next(data, i, limit)
			if i < 0 {
				break
			}
			results = append(results, types.HexSearchResult{
				Offset: pos + int64(i),
				Match:  append([]byte(nil), data[i:i+p.Len()]...),
			})
			if s.cfg.MaxSearchResults > 0 && len(results) >= s.cfg.MaxSearchResults {
				log.WithField("limit", s.cfg.MaxSearchResults).Warn("search stopped at result limit")
				tracker.finish()
				return results, nil
			}
		}
		tracker.update(pos + int64(n))
	}
	tracker.finish()
	return results, nil
}

// ReplaceAll replaces every non-overlapping occurrence of find. Equal
// length replacements are written in place; otherwise the file is rewritten
// atomically and LengthChanged is set.
func (s *SearchService) ReplaceAll(ctx context.Context, path string, find, replace []byte, progress types.ProgressFunc) (*types.ReplaceResult, error) {
	const op = "replace all"

	if len(find) == 0 {
		return nil, types.Errorf(types.ErrKindInvalidInput, op, "empty search bytes")
	}
	if len(find) != len(replace) {
		return s.replaceResize(ctx, path, find, replace, progress)
	}

	// Collect every match first so the scan never sees its own writes
	cfg := *s.cfg
	cfg.MaxSearchResults = 0
	matches, err := (&SearchService{cfg: &cfg}).search(ctx, path, ExactPattern(find), false, progress)
	if err != nil {
		return nil, err
	}

	result := &types.ReplaceResult{}
	var next int64
	for _, m := range matches {
		if m.Offset < next {
			continue
		}
		result.Offsets = append(result.Offsets, m.Offset)
		next = m.Offset + int64(len(find))
	}
	result.Count = len(result.Offsets)
	if result.Count == 0 {
		return result, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, types.WrapIOError(op, path, err)
	}
	defer f.Close()
	for _, off := range result.Offsets {
		if _, err := f.WriteAt(replace, off); err != nil {
			return nil, types.WrapIOError(op, path, err)
		}
	}
	if err := f.Sync(); err != nil {
		return nil, types.WrapIOError(op, path, err)
	}

	log.WithFields(log.Fields{"path": path, "count": result.Count}).Info("replaced in place")
	return result, nil
}

// errNoMatches aborts a rewrite that found nothing to replace
var errNoMatches = errors.New("no matches")

// replaceResize rewrites the file through a temporary copy in ChunkSize
// windows. The last len(find)-1 bytes of each window are carried into the
// next one so matches spanning a window boundary are still replaced.
func (s *SearchService) replaceResize(ctx context.Context, path string, find, replace []byte, progress types.ProgressFunc) (*types.ReplaceResult, error) {
	const op = "replace all"

	src, err := os.Open(path)
	if err != nil {
		return nil, types.WrapIOError(op, path, err)
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return nil, types.WrapIOError(op, path, err)
	}

	result := &types.ReplaceResult{LengthChanged: true}
	replacer := bytereplacer.New(string(find), string(replace))
	pattern := ExactPattern(find)
	tracker := newProgressTracker(progress, info.Size())
	var written int64

	err = writeFileAtomic(path, func(dst *os.File) error {
		if err := dst.Chmod(info.Mode().Perm()); err != nil {
			return types.WrapIOError(op, path, err)
		}

		chunk := make([]byte, s.cfg.ChunkSize)
		var window, carry []byte
		// base is the file offset of window[0]
		var read, base int64
		for eof := false; !eof; {
			if err := checkContext(ctx, op); err != nil {
				return err
			}
			n, err := io.ReadFull(src, chunk)
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				eof = true
			case err != nil:
				return types.WrapIOError(op, path, err)
			}
			read += int64(n)

			window = append(append(window[:0], carry...), chunk[:n]...)
			cut := len(window)
			if !eof {
				cut = max(0, cut-(len(find)-1))
			}
			// Matches starting before cut are complete; a match may run past cut
			end := cut
			for _, m := range FindAll(window, pattern, false, true, 0) {
				if m >= int64(cut) {
					break
				}
				result.Offsets = append(result.Offsets, base+m)
				end = max(end, int(m)+len(find))
			}

			carry = append(carry[:0], window[end:]...)
			out := replacer.Replace(window[:end])
			if _, err := dst.Write(out); err != nil {
				return types.WrapIOError(op, path, err)
			}
			written += int64(len(out))
			base += int64(end)
			tracker.update(read)
		}

		if len(result.Offsets) == 0 {
			return errNoMatches
		}
		return nil
	})
	if errors.Is(err, errNoMatches) {
		tracker.finish()
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	tracker.finish()
	result.Count = len(result.Offsets)

	log.WithFields(log.Fields{
		"path":  path,
		"count": result.Count,
		"delta": written - info.Size(),
	}).Info("replaced with length change")
	return result, nil
}
