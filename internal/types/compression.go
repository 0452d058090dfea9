package types

import "strings"

// CompressionFormat identifies a compressed stream by its leading magic
type CompressionFormat int

const (
	CompressionNone CompressionFormat = iota
	CompressionGzip
	CompressionLZ4Frame
	CompressionLZ4Legacy
	CompressionXZ
	CompressionLZMA
	CompressionBzip2
	CompressionZstd
	CompressionLZOP
)

// Compression magics
var (
	GzipMagic      = []byte{0x1f, 0x8b}
	GzipAltMagic   = []byte{0x1f, 0x9e}
	LZ4FrameMagic  = []byte{0x04, 0x22, 0x4d, 0x18}
	LZ4LegacyMagic = []byte{0x02, 0x21, 0x4c, 0x18}
	XZMagic        = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a}
	LZMAMagic      = []byte{0x5d, 0x00, 0x00}
	Bzip2Magic     = []byte("BZh")
	ZstdMagic      = []byte{0x28, 0xb5, 0x2f, 0xfd}
	LZOPMagic      = []byte{0x89, 'L', 'Z', 'O'}
)

var compressionNames = map[CompressionFormat]string{
	CompressionNone:      "raw",
	CompressionGzip:      "gzip",
	CompressionLZ4Frame:  "lz4",
	CompressionLZ4Legacy: "lz4_legacy",
	CompressionXZ:        "xz",
	CompressionLZMA:      "lzma",
	CompressionBzip2:     "bzip2",
	CompressionZstd:      "zstd",
	CompressionLZOP:      "lzop",
}

var compressionExtensions = map[CompressionFormat]string{
	CompressionGzip:      ".gz",
	CompressionLZ4Frame:  ".lz4",
	CompressionLZ4Legacy: ".lz4",
	CompressionXZ:        ".xz",
	CompressionLZMA:      ".lzma",
	CompressionBzip2:     ".bz2",
	CompressionZstd:      ".zst",
	CompressionLZOP:      ".lzo",
}

// String returns the format name
func (c CompressionFormat) String() string {
	if name, ok := compressionNames[c]; ok {
		return name
	}
	return "unknown"
}

// Extension returns the conventional file extension, empty for raw data
func (c CompressionFormat) Extension() string {
	return compressionExtensions[c]
}

// IsCompressed reports whether the format is a compressed stream
func (c CompressionFormat) IsCompressed() bool {
	return c != CompressionNone
}

// ParseCompressionFormat maps a format name back to its value
func ParseCompressionFormat(name string) (CompressionFormat, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for format, n := range compressionNames {
		if n == name {
			return format, true
		}
	}
	return CompressionNone, false
}
