package device

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-droidimg/internal/config"
)

func createTestImageData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

func TestImageDeviceReadAt(t *testing.T) {
	data := createTestImageData(10000)
	dev, err := NewImageDevice(bytes.NewReader(data), int64(len(data)), 512, 4)
	require.NoError(t, err)

	testCases := []struct {
		name   string
		offset int64
		length int
		wantN  int
		eof    bool
	}{
		{"inside one block", 10, 100, 100, false},
		{"spans blocks", 500, 1000, 1000, false},
		{"tail short read", 9990, 100, 10, true},
		{"past end", 10000, 10, 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf := make([]byte, tc.length)
			n, err := dev.ReadAt(buf, tc.offset)
			assert.Equal(t, tc.wantN, n)
			if tc.eof {
				assert.ErrorIs(t, err, io.EOF)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, data[tc.offset:tc.offset+int64(n)], buf[:n])
		})
	}
}

func TestImageDeviceCacheStats(t *testing.T) {
	data := createTestImageData(4096)
	dev, err := NewImageDevice(bytes.NewReader(data), int64(len(data)), 1024, 2)
	require.NoError(t, err)

	buf := make([]byte, 16)
	_, err = dev.ReadAt(buf, 0)
	require.NoError(t, err)
	_, err = dev.ReadAt(buf, 32)
	require.NoError(t, err)

	stats := dev.Stats()
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Hits)

	// Touch three more blocks with a two block cache
	for _, off := range []int64{1024, 2048, 3072} {
		_, err = dev.ReadAt(buf, off)
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(2), dev.Stats().Evictions)
}

func TestOpen(t *testing.T) {
	data := createTestImageData(3000)
	path := filepath.Join(t.TempDir(), "image.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	dev, err := Open(path, config.Default())
	require.NoError(t, err)
	defer dev.Close()

	assert.Equal(t, int64(3000), dev.Size())
	assert.Equal(t, path, dev.Path())

	buf := make([]byte, 3000)
	n, err := dev.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 3000, n)
	assert.Equal(t, data, buf)
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.bin"), config.Default())
	assert.ErrorIs(t, err, os.ErrNotExist)
}
