package device

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/apex/log"
	lru "github.com/hashicorp/golang-lru"

	"github.com/deploymenttheory/go-droidimg/internal/config"
)

// ImageDevice provides cached random access to a raw image file. Reads are
// served in whole cache blocks so repeated small probes (superblocks, GPT
// entries, chunk headers) touch the file once.
type ImageDevice struct {
	reader    io.ReaderAt
	closer    io.Closer
	path      string
	size      int64
	blockSize int64

	mu    sync.Mutex
	cache *lru.Cache
	stats CacheStats
}

// CacheStats counts block cache activity
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Open opens an image file for cached reading
func Open(path string, cfg *config.Config) (*ImageDevice, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat image file: %w", err)
	}

	dev, err := NewImageDevice(file, stat.Size(), cfg.CacheBlockSize, cfg.CacheBlocks)
	if err != nil {
		file.Close()
		return nil, err
	}
	dev.closer = file
	dev.path = path
	return dev, nil
}

// NewImageDevice wraps any ReaderAt of known size
func NewImageDevice(r io.ReaderAt, size int64, blockSize, cacheBlocks int) (*ImageDevice, error) {
	if blockSize <= 0 || cacheBlocks <= 0 {
		return nil, fmt.Errorf("invalid cache geometry: block size %d, blocks %d", blockSize, cacheBlocks)
	}

	d := &ImageDevice{
		reader:    r,
		size:      size,
		blockSize: int64(blockSize),
	}

	cache, err := lru.NewWithEvict(cacheBlocks, func(key interface{}, value interface{}) {
		d.stats.Evictions++
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize image read cache: %w", err)
	}
	d.cache = cache

	return d, nil
}

// ReadAt implements io.ReaderAt
func (d *ImageDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= d.size {
		return 0, io.EOF
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for n < len(p) {
		pos := off + int64(n)
		if pos >= d.size {
			return n, io.EOF
		}
		block, err := d.block(pos / d.blockSize)
		if err != nil {
			return n, err
		}
		inBlock := int(pos % d.blockSize)
		if inBlock >= len(block) {
			return n, io.EOF
		}
		n += copy(p[n:], block[inBlock:])
	}
	return n, nil
}

// block returns a cached block, loading it on a miss. Caller holds d.mu.
func (d *ImageDevice) block(index int64) ([]byte, error) {
	if v, ok := d.cache.Get(index); ok {
		d.stats.Hits++
		return v.([]byte), nil
	}
	d.stats.Misses++

	start := index * d.blockSize
	length := d.blockSize
	if start+length > d.size {
		length = d.size - start
	}

	buf := make([]byte, length)
	n, err := d.reader.ReadAt(buf, start)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read block %d: %w", index, err)
	}
	buf = buf[:n]

	d.cache.Add(index, buf)
	log.WithFields(log.Fields{"block": index, "bytes": n}).Debug("image cache miss")
	return buf, nil
}

// Size returns the size of the image
func (d *ImageDevice) Size() int64 {
	return d.size
}

// BlockSize returns the cache block size
func (d *ImageDevice) BlockSize() int64 {
	return d.blockSize
}

// Path returns the file path, empty for wrapped readers
func (d *ImageDevice) Path() string {
	return d.path
}

// Stats returns a snapshot of cache statistics
func (d *ImageDevice) Stats() CacheStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Close closes the underlying file
func (d *ImageDevice) Close() error {
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}
