package bootimg

import "github.com/deploymenttheory/go-droidimg/internal/types"

// AlignUp rounds size up to a multiple of pageSize
func AlignUp(size, pageSize int64) int64 {
	if pageSize <= 0 {
		return size
	}
	return (size + pageSize - 1) / pageSize * pageSize
}

// PaddingSize returns the bytes needed after size to reach a page boundary
func PaddingSize(size, pageSize int64) int64 {
	return AlignUp(size, pageSize) - size
}

// HeaderSizeForVersion returns the on-disk header size of a header version
func HeaderSizeForVersion(version uint32) uint32 {
	switch version {
	case 0:
		return types.BootHeaderV0Size
	case 1:
		return types.BootHeaderV1Size
	case 2:
		return types.BootHeaderV2Size
	case 3:
		return types.BootHeaderV3Size
	default:
		return types.BootHeaderV4Size
	}
}

// PageSizeFits reports whether page is a power of two large enough to hold
// the header of the given version. v3 and later always use 4096.
func PageSizeFits(version, page uint32) bool {
	if version >= 3 {
		return true
	}
	return page != 0 && page&(page-1) == 0 && page >= HeaderSizeForVersion(version)
}

// ComputeLayout derives component offsets as running page-aligned cursors.
// The kernel always starts at one page; each following component starts
// after the previous one rounded up to the page size.
func ComputeLayout(h *types.BootImageHeader) types.BootLayout {
	page := int64(h.EffectivePageSize())
	layout := types.BootLayout{
		PageSize:   uint32(page),
		HeaderSize: HeaderSizeForVersion(h.HeaderVersion),
	}

	layout.KernelOffset = page
	layout.RamdiskOffset = layout.KernelOffset + AlignUp(int64(h.KernelSize), page)
	cursor := layout.RamdiskOffset + AlignUp(int64(h.RamdiskSize), page)

	if h.HeaderVersion >= 3 {
		if h.HeaderVersion >= 4 {
			layout.SignatureOffset = cursor
			cursor += AlignUp(int64(h.SignatureSize), page)
		}
		layout.TotalSize = cursor
		return layout
	}

	layout.SecondOffset = cursor
	cursor += AlignUp(int64(h.SecondSize), page)

	if h.HeaderVersion >= 1 {
		layout.RecoveryDtboOffset = cursor
		if h.RecoveryDtboSize > 0 {
			cursor += AlignUp(int64(h.RecoveryDtboSize), page)
		}
	}

	if h.HeaderVersion >= 2 {
		layout.DtbOffset = cursor
		cursor += AlignUp(int64(h.DtbSize), page)
	}

	layout.TotalSize = cursor
	return layout
}
