// File: internal/interfaces/block_device.go
package interfaces

import "io"

// BlockDeviceReader provides random access reads over an image file
type BlockDeviceReader interface {
	io.ReaderAt

	// Size returns the total size of the device in bytes
	Size() int64

	// BlockSize returns the cache block size
	BlockSize() int64
}

// BlockDevice is a BlockDeviceReader that owns an underlying handle
type BlockDevice interface {
	BlockDeviceReader
	io.Closer
}
