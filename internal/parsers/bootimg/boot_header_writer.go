package bootimg

import (
	"encoding/binary"

	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// MarshalBootHeader serializes a header using the layout of its version.
// The result is exactly HeaderSizeForVersion bytes; callers pad to the page.
func MarshalBootHeader(h *types.BootImageHeader, endian binary.ByteOrder) []byte {
	data := make([]byte, HeaderSizeForVersion(h.HeaderVersion))
	copy(data[0:8], types.BootMagic)

	if h.HeaderVersion >= 3 {
		endian.PutUint32(data[8:12], h.KernelSize)
		endian.PutUint32(data[12:16], h.RamdiskSize)
		endian.PutUint32(data[16:20], h.OSVersion)
		endian.PutUint32(data[20:24], uint32(len(data)))
		endian.PutUint32(data[40:44], h.HeaderVersion)
		copy(data[44:44+types.BootArgsSize], h.Cmdline[:])
		copy(data[44+types.BootArgsSize:1580], h.ExtraCmdline[:])
		if h.HeaderVersion >= 4 {
			endian.PutUint32(data[1580:1584], h.SignatureSize)
		}
		return data
	}

	endian.PutUint32(data[8:12], h.KernelSize)
	endian.PutUint32(data[12:16], h.KernelAddr)
	endian.PutUint32(data[16:20], h.RamdiskSize)
	endian.PutUint32(data[20:24], h.RamdiskAddr)
	endian.PutUint32(data[24:28], h.SecondSize)
	endian.PutUint32(data[28:32], h.SecondAddr)
	endian.PutUint32(data[32:36], h.TagsAddr)
	endian.PutUint32(data[36:40], h.PageSize)
	endian.PutUint32(data[40:44], h.HeaderVersion)
	endian.PutUint32(data[44:48], h.OSVersion)
	copy(data[48:64], h.Name[:])
	copy(data[64:576], h.Cmdline[:])
	copy(data[576:608], h.ID[:])
	copy(data[608:1632], h.ExtraCmdline[:])

	if h.HeaderVersion >= 1 {
		endian.PutUint32(data[1632:1636], h.RecoveryDtboSize)
		endian.PutUint64(data[1636:1644], h.RecoveryDtboOffset)
		endian.PutUint32(data[1644:1648], uint32(len(data)))
	}

	if h.HeaderVersion >= 2 {
		endian.PutUint32(data[1648:1652], h.DtbSize)
		endian.PutUint64(data[1652:1660], h.DtbAddr)
	}

	return data
}
