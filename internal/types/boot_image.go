package types

import "bytes"

// Boot image constants
const (
	BootMagic            = "ANDROID!"
	BootMagicSize        = 8
	BootNameSize         = 16
	BootArgsSize         = 512
	BootExtraArgsSize    = 1024
	BootIDSize           = 32
	BootV3ArgsSize       = BootArgsSize + BootExtraArgsSize
	DefaultBootPageSize  = 4096
	BootV3PageSize       = 4096
	BootMaxHeaderVersion = 4
)

// Header sizes on disk per version
const (
	BootHeaderV0Size = 1632
	BootHeaderV1Size = 1648
	BootHeaderV2Size = 1660
	BootHeaderV3Size = 1580
	BootHeaderV4Size = 1584
)

// BootImageHeader is the versioned Android boot image header. Fields below
// the v1/v2/v4 markers are only meaningful when HeaderVersion reaches them.
// For v3 and later the 1536 byte command line is split across Cmdline and
// ExtraCmdline and the load addresses are unused.
type BootImageHeader struct {
	Magic         [BootMagicSize]byte
	KernelSize    uint32
	KernelAddr    uint32
	RamdiskSize   uint32
	RamdiskAddr   uint32
	SecondSize    uint32
	SecondAddr    uint32
	TagsAddr      uint32
	PageSize      uint32
	HeaderVersion uint32
	OSVersion     uint32
	Name          [BootNameSize]byte
	Cmdline       [BootArgsSize]byte
	ID            [BootIDSize]byte
	ExtraCmdline  [BootExtraArgsSize]byte

	// v1+
	RecoveryDtboSize   uint32
	RecoveryDtboOffset uint64
	HeaderSize         uint32

	// v2+
	DtbSize uint32
	DtbAddr uint64

	// v4+
	SignatureSize uint32
}

// HasValidMagic reports whether the header carries the boot magic
func (h *BootImageHeader) HasValidMagic() bool {
	return string(h.Magic[:]) == BootMagic
}

// EffectivePageSize returns the page size used for layout
func (h *BootImageHeader) EffectivePageSize() uint32 {
	if h.HeaderVersion >= 3 {
		return BootV3PageSize
	}
	if h.PageSize == 0 {
		return DefaultBootPageSize
	}
	return h.PageSize
}

// NameString returns the board name without NUL padding
func (h *BootImageHeader) NameString() string {
	return cString(h.Name[:])
}

// CmdlineString returns the full kernel command line
func (h *BootImageHeader) CmdlineString() string {
	if h.HeaderVersion >= 3 {
		var buf [BootV3ArgsSize]byte
		copy(buf[:], h.Cmdline[:])
		copy(buf[BootArgsSize:], h.ExtraCmdline[:])
		return cString(buf[:])
	}
	return cString(h.Cmdline[:]) + cString(h.ExtraCmdline[:])
}

// SetName stores a board name, truncating to fit
func (h *BootImageHeader) SetName(name string) {
	h.Name = [BootNameSize]byte{}
	copy(h.Name[:BootNameSize-1], name)
}

// SetCmdline splits a command line across the primary and extra fields
func (h *BootImageHeader) SetCmdline(cmdline string) {
	h.Cmdline = [BootArgsSize]byte{}
	h.ExtraCmdline = [BootExtraArgsSize]byte{}
	if h.HeaderVersion >= 3 {
		copy(h.Cmdline[:], cmdline)
		if len(cmdline) > BootArgsSize {
			copy(h.ExtraCmdline[:BootExtraArgsSize-1], cmdline[BootArgsSize:])
		}
		return
	}
	if len(cmdline) < BootArgsSize {
		copy(h.Cmdline[:], cmdline)
		return
	}
	copy(h.Cmdline[:BootArgsSize-1], cmdline)
	copy(h.ExtraCmdline[:BootExtraArgsSize-1], cmdline[BootArgsSize-1:])
}

// OSVersion is the decoded form of the packed os_version field
type OSVersion struct {
	Major int `json:"major" yaml:"major"`
	Minor int `json:"minor" yaml:"minor"`
	Patch int `json:"patch" yaml:"patch"`
	Year  int `json:"year" yaml:"year"`
	Month int `json:"month" yaml:"month"`
}

// BootLayout holds the absolute offsets of every component in a boot image.
// An offset is where the component starts (or would start, when its size is
// zero); components that do not exist in a header version stay at zero.
type BootLayout struct {
	PageSize           uint32
	HeaderSize         uint32
	KernelOffset       int64
	RamdiskOffset      int64
	SecondOffset       int64
	RecoveryDtboOffset int64
	DtbOffset          int64
	SignatureOffset    int64
	TotalSize          int64
}

// BootImageComponents describes an unpacked boot image
type BootImageComponents struct {
	Header  BootImageHeader
	WorkDir string

	KernelPath       string
	RamdiskPath      string
	SecondPath       string
	RecoveryDtboPath string
	DtbPath          string
	SignaturePath    string

	// RamdiskFormat is the compression the ramdisk had inside the image.
	// RamdiskDecompressed is true when RamdiskPath holds the plain archive.
	// When RamdiskDir is set, repacking rebuilds the archive from it.
	RamdiskFormat       CompressionFormat
	RamdiskDecompressed bool
	RamdiskDir          string
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
