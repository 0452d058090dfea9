package bootimg

import (
	"encoding/binary"

	"github.com/deploymenttheory/go-droidimg/internal/interfaces"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// bootHeaderReader implements the BootHeaderReader interface
type bootHeaderReader struct {
	header *types.BootImageHeader
	layout types.BootLayout
	data   []byte
	endian binary.ByteOrder
}

// NewBootHeaderReader creates a new BootHeaderReader implementation. data
// must start at the boot magic and hold at least the header for its version.
func NewBootHeaderReader(data []byte, endian binary.ByteOrder) (interfaces.BootHeaderReader, error) {
	const op = "read boot header"

	if len(data) < types.BootHeaderV3Size {
		return nil, types.Errorf(types.ErrKindFormatInvalid, op, "data too small for boot image header: %d bytes", len(data))
	}

	if string(data[0:types.BootMagicSize]) != types.BootMagic {
		return nil, types.Errorf(types.ErrKindFormatInvalid, op, "invalid boot image magic: got %q, want %q", data[0:types.BootMagicSize], types.BootMagic)
	}

	version := endian.Uint32(data[40:44])
	if version > types.BootMaxHeaderVersion {
		return nil, types.Errorf(types.ErrKindUnsupported, op, "unsupported boot header version %d", version)
	}

	need := int(HeaderSizeForVersion(version))
	if len(data) < need {
		return nil, types.Errorf(types.ErrKindFormatInvalid, op, "data too small for boot header v%d: %d bytes, need %d", version, len(data), need)
	}

	var header *types.BootImageHeader
	if version >= 3 {
		header = parseBootHeaderV3(data, endian)
	} else {
		header = parseBootHeaderV0(data, endian)
	}

	if page := header.PageSize; page != 0 && !PageSizeFits(version, page) {
		return nil, types.Errorf(types.ErrKindFormatInvalid, op, "invalid page size %d for header v%d", page, version)
	}

	return &bootHeaderReader{
		header: header,
		layout: ComputeLayout(header),
		data:   data,
		endian: endian,
	}, nil
}

// parseBootHeaderV0 parses the v0 header and the v1/v2 extension blocks
func parseBootHeaderV0(data []byte, endian binary.ByteOrder) *types.BootImageHeader {
	h := &types.BootImageHeader{}

	copy(h.Magic[:], data[0:8])
	h.KernelSize = endian.Uint32(data[8:12])
	h.KernelAddr = endian.Uint32(data[12:16])
	h.RamdiskSize = endian.Uint32(data[16:20])
	h.RamdiskAddr = endian.Uint32(data[20:24])
	h.SecondSize = endian.Uint32(data[24:28])
	h.SecondAddr = endian.Uint32(data[28:32])
	h.TagsAddr = endian.Uint32(data[32:36])
	h.PageSize = endian.Uint32(data[36:40])
	h.HeaderVersion = endian.Uint32(data[40:44])
	h.OSVersion = endian.Uint32(data[44:48])
	copy(h.Name[:], data[48:64])
	copy(h.Cmdline[:], data[64:576])
	copy(h.ID[:], data[576:608])
	copy(h.ExtraCmdline[:], data[608:1632])

	if h.HeaderVersion >= 1 {
		h.RecoveryDtboSize = endian.Uint32(data[1632:1636])
		h.RecoveryDtboOffset = endian.Uint64(data[1636:1644])
		h.HeaderSize = endian.Uint32(data[1644:1648])
	}

	if h.HeaderVersion >= 2 {
		h.DtbSize = endian.Uint32(data[1648:1652])
		h.DtbAddr = endian.Uint64(data[1652:1660])
	}

	return h
}

// parseBootHeaderV3 parses the v3 header and the v4 extension
func parseBootHeaderV3(data []byte, endian binary.ByteOrder) *types.BootImageHeader {
	h := &types.BootImageHeader{}

	copy(h.Magic[:], data[0:8])
	h.KernelSize = endian.Uint32(data[8:12])
	h.RamdiskSize = endian.Uint32(data[12:16])
	h.OSVersion = endian.Uint32(data[16:20])
	h.HeaderSize = endian.Uint32(data[20:24])
	// data[24:40] reserved
	h.HeaderVersion = endian.Uint32(data[40:44])
	copy(h.Cmdline[:], data[44:44+types.BootArgsSize])
	copy(h.ExtraCmdline[:], data[44+types.BootArgsSize:1580])
	h.PageSize = types.BootV3PageSize

	if h.HeaderVersion >= 4 {
		h.SignatureSize = endian.Uint32(data[1580:1584])
	}

	return h
}

// Header returns the parsed header
func (r *bootHeaderReader) Header() *types.BootImageHeader {
	return r.header
}

// HeaderVersion returns the header layout version
func (r *bootHeaderReader) HeaderVersion() uint32 {
	return r.header.HeaderVersion
}

// PageSize returns the effective page size
func (r *bootHeaderReader) PageSize() uint32 {
	return r.header.EffectivePageSize()
}

// HeaderSize returns the header size for this version
func (r *bootHeaderReader) HeaderSize() uint32 {
	return HeaderSizeForVersion(r.header.HeaderVersion)
}

// Layout returns the component offsets
func (r *bootHeaderReader) Layout() types.BootLayout {
	return r.layout
}

// OSVersion returns the decoded os_version field
func (r *bootHeaderReader) OSVersion() types.OSVersion {
	return UnpackOSVersion(r.header.OSVersion)
}

// Name returns the board name
func (r *bootHeaderReader) Name() string {
	return r.header.NameString()
}

// Cmdline returns the full kernel command line
func (r *bootHeaderReader) Cmdline() string {
	return r.header.CmdlineString()
}
