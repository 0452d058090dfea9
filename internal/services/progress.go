package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/apex/log"

	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// progressTracker turns byte counts into percentage callbacks. The
// callback only fires when the percentage changes, and a panicking
// observer never fails the operation.
type progressTracker struct {
	fn    types.ProgressFunc
	total int64
	last  int
	// sink, when set, receives raw byte counts instead of fn
	sink func(done int64)
}

func newProgressTracker(fn types.ProgressFunc, total int64) *progressTracker {
	return &progressTracker{fn: fn, total: total, last: -1}
}

func (p *progressTracker) update(done int64) {
	if p == nil {
		return
	}
	if p.sink != nil {
		p.sink(done)
		return
	}
	if p.fn == nil {
		return
	}
	percent := 100
	if p.total > 0 && done < p.total {
		percent = int(done * 100 / p.total)
	}
	if percent == p.last {
		return
	}
	p.last = percent
	p.notify(percent)
}

func (p *progressTracker) finish() {
	if p == nil {
		return
	}
	p.update(p.total)
}

func (p *progressTracker) notify(percent int) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Warn("progress observer panicked")
		}
	}()
	p.fn(percent)
}

// AsyncProgress decouples a slow observer from the operation. Updates are
// dropped while the observer is busy. stop must be called once the
// operation returns.
func AsyncProgress(fn types.ProgressFunc) (progress types.ProgressFunc, stop func()) {
	if fn == nil {
		return nil, func() {}
	}

	updates := make(chan int, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for percent := range updates {
			fn(percent)
		}
	}()

	progress = func(percent int) {
		select {
		case updates <- percent:
		default:
		}
	}
	stop = func() {
		close(updates)
		<-done
	}
	return progress, stop
}

// checkContext returns a Cancelled error when ctx is done
func checkContext(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return types.NewCodecError(types.ErrKindCancelled, op, "", err)
	}
	return nil
}

// copyRange streams length bytes starting at off from src into dst in
// chunks, checking ctx between chunks
func copyRange(ctx context.Context, dst io.Writer, src io.ReaderAt, off, length int64, chunkSize int, tracker *progressTracker) (int64, error) {
	const op = "copy range"

	buf := make([]byte, chunkSize)
	var copied int64
	for copied < length {
		if err := checkContext(ctx, op); err != nil {
			return copied, err
		}

		n := int64(len(buf))
		if remaining := length - copied; remaining < n {
			n = remaining
		}
		read, err := src.ReadAt(buf[:n], off+copied)
		if int64(read) < n {
			if err == nil || err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return copied, types.WrapIOError(op, "", fmt.Errorf("failed to read at offset %d: %w", off+copied, err))
		}
		if _, err := dst.Write(buf[:n]); err != nil {
			return copied, types.WrapIOError(op, "", fmt.Errorf("failed to write output: %w", err))
		}
		copied += n
		tracker.update(copied)
	}
	tracker.finish()
	return copied, nil
}

// writeFileAtomic writes path through a temporary file in the same
// directory and renames it into place. On any failure the temporary file
// is removed and path is left untouched.
func writeFileAtomic(path string, write func(f *os.File) error) (err error) {
	const op = "write file"

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return types.WrapIOError(op, path, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return types.WrapIOError(op, path, err)
	}
	if err = tmp.Close(); err != nil {
		return types.WrapIOError(op, path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return types.WrapIOError(op, path, err)
	}
	return nil
}

// readUpTo reads up to n bytes at off, returning fewer at end of file
func readUpTo(r io.ReaderAt, off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := r.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, types.WrapIOError("read", "", err)
	}
	return buf[:read], nil
}
