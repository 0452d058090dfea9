package services

import (
	"encoding/binary"
	"io"

	"github.com/apex/log"

	"github.com/deploymenttheory/go-droidimg/internal/config"
	"github.com/deploymenttheory/go-droidimg/internal/device"
	"github.com/deploymenttheory/go-droidimg/internal/parsers/sparse"
	"github.com/deploymenttheory/go-droidimg/internal/parsers/superblock"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// FilesystemService identifies filesystem images by their superblocks
type FilesystemService struct {
	cfg *config.Config
}

// NewFilesystemService creates a new filesystem probe service
func NewFilesystemService(cfg *config.Config) *FilesystemService {
	return &FilesystemService{cfg: cfg}
}

// DetectType returns the signature type of the file at path
func (s *FilesystemService) DetectType(path string) (types.FsType, error) {
	dev, err := device.Open(path, s.cfg)
	if err != nil {
		return types.FsTypeUnknown, types.WrapIOError("detect type", path, err)
	}
	defer dev.Close()

	fsType, err := superblock.DetectType(dev)
	return fsType, withPath(err, path)
}

// Probe detects the file type and, for filesystems, decodes the superblock
func (s *FilesystemService) Probe(path string) (*types.FilesystemInfo, error) {
	dev, err := device.Open(path, s.cfg)
	if err != nil {
		return nil, types.WrapIOError("probe", path, err)
	}
	defer dev.Close()

	info, err := s.ProbeReader(dev, dev.Size())
	if err != nil {
		return nil, withPath(err, path)
	}

	log.WithFields(log.Fields{
		"path": path,
		"type": info.Type,
		"name": info.VolumeName,
	}).Debug("probed image")
	return info, nil
}

// ProbeReader probes any random access source of the given size. A sparse
// image whose first chunk is RAW is probed through to the filesystem it
// wraps.
func (s *FilesystemService) ProbeReader(r io.ReaderAt, size int64) (*types.FilesystemInfo, error) {
	fsType, err := superblock.DetectType(r)
	if err != nil {
		return nil, err
	}

	switch fsType {
	case types.FsTypeExt4, types.FsTypeF2FS, types.FsTypeEROFS:
		return readFilesystemInfo(r, fsType)
	case types.FsTypeSparse:
		return s.probeSparse(r)
	default:
		return &types.FilesystemInfo{Type: fsType, TotalSize: uint64(size)}, nil
	}
}

func readFilesystemInfo(r io.ReaderAt, fsType types.FsType) (*types.FilesystemInfo, error) {
	reader, err := superblock.ReadSuperblock(r, fsType)
	if err != nil {
		return nil, err
	}
	if !reader.IsValid() {
		return nil, types.Errorf(types.ErrKindFormatInvalid, "probe", "%s superblock magic mismatch", fsType)
	}
	info := reader.Info()
	return &info, nil
}

func (s *FilesystemService) probeSparse(r io.ReaderAt) (*types.FilesystemInfo, error) {
	head, err := readUpTo(r, 0, types.SparseHeaderSize)
	if err != nil {
		return nil, err
	}
	hr, err := sparse.NewSparseHeaderReader(head, binary.LittleEndian)
	if err != nil {
		return nil, err
	}
	header := hr.Header()
	outer := &types.FilesystemInfo{
		Type:       types.FsTypeSparse,
		BlockSize:  header.BlockSize,
		BlockCount: uint64(header.TotalBlocks),
		TotalSize:  uint64(header.RawSize()),
	}

	chunkOff := int64(header.FileHeaderSize)
	chunkHead, err := readUpTo(r, chunkOff, int(header.ChunkHeaderSize))
	if err != nil {
		return nil, err
	}
	if header.TotalChunks == 0 || len(chunkHead) < int(header.ChunkHeaderSize) {
		return outer, nil
	}
	ch, err := sparse.ParseChunkHeader(chunkHead, header.BlockSize, header.ChunkHeaderSize, binary.LittleEndian)
	if err != nil || ch.ChunkType != types.SparseChunkRaw {
		return outer, nil
	}

	payload := io.NewSectionReader(r, chunkOff+int64(header.ChunkHeaderSize), sparse.PayloadSize(ch, header.ChunkHeaderSize))
	innerType, err := superblock.DetectType(payload)
	if err != nil {
		return nil, err
	}
	switch innerType {
	case types.FsTypeExt4, types.FsTypeF2FS, types.FsTypeEROFS:
	default:
		return outer, nil
	}

	inner, err := readFilesystemInfo(payload, innerType)
	if err != nil {
		// An unreadable payload superblock still leaves the sparse summary
		log.WithError(err).Debug("sparse payload superblock unreadable")
		return outer, nil
	}
	inner.Container = types.FsTypeSparse
	return inner, nil
}
