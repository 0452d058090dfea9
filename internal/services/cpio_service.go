package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/apex/log"

	"github.com/deploymenttheory/go-droidimg/internal/config"
	"github.com/deploymenttheory/go-droidimg/internal/parsers/cpio"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// CpioService extracts, lists and builds newc ramdisk archives
type CpioService struct {
	cfg         *config.Config
	compression *CompressionService
}

// NewCpioService creates a new CPIO service
func NewCpioService(cfg *config.Config) *CpioService {
	return &CpioService{cfg: cfg, compression: NewCompressionService()}
}

// List returns every entry header of the archive in stream order
func (s *CpioService) List(ctx context.Context, r io.Reader) ([]types.CpioEntry, error) {
	cr := cpio.NewReader(r)
	var entries []types.CpioEntry
	for {
		if err := checkContext(ctx, "list cpio"); err != nil {
			return entries, err
		}
		entry, err := cr.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, *entry)
	}
}

// Extract writes every entry of the archive below outDir. Directories,
// regular files and symlinks are restored; device nodes, fifos and sockets
// are skipped, as are names that would resolve outside outDir.
func (s *CpioService) Extract(ctx context.Context, r io.Reader, outDir string) (*types.CpioExtractResult, error) {
	const op = "extract cpio"

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, types.WrapIOError(op, outDir, err)
	}

	result := &types.CpioExtractResult{}
	cr := cpio.NewReader(r)
	for {
		if err := checkContext(ctx, op); err != nil {
			return result, err
		}

		entry, err := cr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, err
		}

		rel, ok := safeEntryPath(entry.Name)
		if !ok {
			log.WithField("name", entry.Name).Warn("cpio: refusing entry outside output directory")
			result.Skipped++
			continue
		}
		if rel == "" {
			continue
		}
		if linkedParent(outDir, rel) {
			log.WithField("name", entry.Name).Warn("cpio: refusing entry below a symlink")
			result.Skipped++
			continue
		}
		target := filepath.Join(outDir, filepath.FromSlash(rel))

		switch {
		case entry.IsDir():
			if err := os.MkdirAll(target, os.FileMode(entry.Perm()|0o700)); err != nil {
				return result, types.WrapIOError(op, target, err)
			}
			result.Dirs++

		case entry.IsRegular():
			n, err := extractRegular(target, os.FileMode(entry.Perm()), cr)
			if err != nil {
				return result, types.WrapIOError(op, target, err)
			}
			result.Files++
			result.Bytes += n

		case entry.IsSymlink():
			link, err := io.ReadAll(cr)
			if err != nil {
				return result, types.WrapIOError(op, target, err)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return result, types.WrapIOError(op, target, err)
			}
			os.Remove(target)
			if err := os.Symlink(string(link), target); err != nil {
				return result, types.WrapIOError(op, target, err)
			}
			result.Symlinks++

		default:
			log.WithFields(log.Fields{
				"name": entry.Name,
				"mode": fmt.Sprintf("%06o", entry.Mode),
			}).Debug("cpio: skipping special file")
			result.Skipped++
		}
	}

	log.WithFields(log.Fields{
		"files":    result.Files,
		"dirs":     result.Dirs,
		"symlinks": result.Symlinks,
		"skipped":  result.Skipped,
	}).Info("cpio archive extracted")
	return result, nil
}

// ExtractFile extracts an archive file, transparently decompressing it
// when it starts with a known compression magic
func (s *CpioService) ExtractFile(ctx context.Context, archivePath, outDir string) (*types.CpioExtractResult, error) {
	r, closeFn, err := s.openArchive(archivePath)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	return s.Extract(ctx, r, outDir)
}

// ListFile lists an archive file, decompressing it when needed
func (s *CpioService) ListFile(ctx context.Context, archivePath string) ([]types.CpioEntry, error) {
	r, closeFn, err := s.openArchive(archivePath)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	return s.List(ctx, r)
}

func (s *CpioService) openArchive(archivePath string) (io.Reader, func(), error) {
	const op = "open cpio archive"

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, nil, types.WrapIOError(op, archivePath, err)
	}

	br := bufio.NewReader(f)
	head, _ := br.Peek(8)
	format := s.compression.Detect(head)
	if format == types.CompressionNone {
		return br, func() { f.Close() }, nil
	}

	zr, err := s.compression.NewReader(br, format)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	log.WithField("format", format).Debug("decompressing cpio archive")
	return zr, func() { zr.Close(); f.Close() }, nil
}

// Pack archives srcDir into w in lexical order. Timestamps and owners are
// zeroed so the same tree always yields the same archive.
func (s *CpioService) Pack(ctx context.Context, srcDir string, w io.Writer) (int, error) {
	const op = "pack cpio"

	cw := cpio.NewWriter(w)
	count := 0
	ino := uint32(300000)

	err := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := checkContext(ctx, op); err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		ino++
		entry := &types.CpioEntry{
			Ino:   ino,
			Name:  filepath.ToSlash(rel),
			Nlink: 1,
			Mode:  uint32(info.Mode().Perm()),
		}

		var content io.Reader
		switch {
		case info.IsDir():
			entry.Mode |= types.CpioModeDir
			entry.Nlink = 2
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			entry.Mode = types.CpioModeSymlink | 0o777
			entry.FileSize = uint32(len(link))
			content = strings.NewReader(link)
		case info.Mode().IsRegular():
			if info.Size() > int64(^uint32(0)) {
				return types.Errorf(types.ErrKindInvalidInput, op, "%s is too large for newc", rel)
			}
			f, err := os.Open(p)
			if err != nil {
				return err
			}
			defer f.Close()
			entry.Mode |= types.CpioModeRegular
			entry.FileSize = uint32(info.Size())
			content = f
		default:
			log.WithField("path", rel).Debug("cpio: not packing special file")
			return nil
		}

		if err := cw.WriteHeader(entry); err != nil {
			return err
		}
		if content != nil {
			if _, err := io.Copy(cw, content); err != nil {
				return err
			}
		}
		count++
		return nil
	})
	if err != nil {
		return count, types.WrapIOError(op, srcDir, err)
	}

	if err := cw.Close(); err != nil {
		return count, types.WrapIOError(op, srcDir, err)
	}
	return count, nil
}

// safeEntryPath cleans an archive name into a relative slash path. ok is
// false when the name climbs out of the archive root.
func safeEntryPath(name string) (string, bool) {
	clean := path.Clean(strings.TrimLeft(name, "/"))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	if clean == "." {
		return "", true
	}
	return clean, true
}

// linkedParent reports whether any directory between root and the entry
// rel is a symlink. Writing below one could land outside root.
func linkedParent(root, rel string) bool {
	parts := strings.Split(rel, "/")
	cur := root
	for _, part := range parts[:len(parts)-1] {
		cur = filepath.Join(cur, part)
		fi, err := os.Lstat(cur)
		if err != nil {
			return false
		}
		if fi.Mode()&fs.ModeSymlink != 0 {
			return true
		}
	}
	return false
}

func extractRegular(target string, perm os.FileMode, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	// Never write through a symlink left by an earlier entry
	if fi, err := os.Lstat(target); err == nil && fi.Mode()&fs.ModeSymlink != 0 {
		os.Remove(target)
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm|0o200)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}
