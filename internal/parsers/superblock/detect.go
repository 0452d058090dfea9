package superblock

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/deploymenttheory/go-droidimg/internal/interfaces"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// DetectType probes the signature locations in order EXT4, F2FS, EROFS,
// sparse, GPT. Files too short for a location simply fail that probe.
func DetectType(r io.ReaderAt) (types.FsType, error) {
	head, err := readUpTo(r, 0, types.SignatureProbeLength)
	if err != nil {
		return types.FsTypeUnknown, err
	}
	return DetectTypeBytes(head), nil
}

// DetectTypeBytes runs DetectType over an in-memory prefix of the file
func DetectTypeBytes(head []byte) types.FsType {
	le := binary.LittleEndian

	if len(head) >= types.SuperblockOffset+types.Ext4MagicOffset+2 &&
		le.Uint16(head[types.SuperblockOffset+types.Ext4MagicOffset:]) == types.Ext4Magic {
		return types.FsTypeExt4
	}
	if len(head) >= types.SuperblockOffset+4 {
		switch le.Uint32(head[types.SuperblockOffset:]) {
		case types.F2FSMagic:
			return types.FsTypeF2FS
		case types.EROFSMagic:
			return types.FsTypeEROFS
		}
	}
	if len(head) >= types.SparseMagicOffset+4 && le.Uint32(head[types.SparseMagicOffset:]) == types.SparseMagic {
		return types.FsTypeSparse
	}
	if len(head) >= types.GPTSignatureOffset+8 &&
		string(head[types.GPTSignatureOffset:types.GPTSignatureOffset+8]) == types.GPTSignature {
		return types.FsTypeGPT
	}
	return types.FsTypeUnknown
}

// ReadSuperblock reads and parses the superblock of a filesystem of the given type
func ReadSuperblock(r io.ReaderAt, fsType types.FsType) (interfaces.SuperblockReader, error) {
	var (
		size  int
		parse func([]byte, binary.ByteOrder) (interfaces.SuperblockReader, error)
	)
	switch fsType {
	case types.FsTypeExt4:
		size, parse = types.Ext4SuperblockSize, NewExt4SuperblockReader
	case types.FsTypeF2FS:
		size, parse = f2fsMinSuperblockSize, NewF2FSSuperblockReader
	case types.FsTypeEROFS:
		size, parse = types.EROFSSuperblockSize, NewEROFSSuperblockReader
	default:
		return nil, types.Errorf(types.ErrKindUnsupported, "read superblock", "no superblock reader for %s", fsType)
	}

	data, err := readUpTo(r, types.SuperblockOffset, size)
	if err != nil {
		return nil, err
	}
	return parse(data, binary.LittleEndian)
}

// readUpTo reads up to n bytes at off, returning fewer at end of file
func readUpTo(r io.ReaderAt, off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := r.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, types.WrapIOError("probe signature", "", err)
	}
	return buf[:read], nil
}
