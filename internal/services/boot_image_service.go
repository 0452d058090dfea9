package services

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"

	"github.com/deploymenttheory/go-droidimg/internal/config"
	"github.com/deploymenttheory/go-droidimg/internal/interfaces"
	"github.com/deploymenttheory/go-droidimg/internal/parsers/bootimg"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// Component file names inside an unpack directory
const (
	kernelFileName       = "kernel"
	ramdiskFileName      = "ramdisk"
	ramdiskCpioFileName  = "ramdisk.cpio"
	ramdiskDirName       = "ramdisk"
	secondFileName       = "second"
	recoveryDtboFileName = "recovery_dtbo"
	dtbFileName          = "dtb"
	signatureFileName    = "boot_signature"
)

// UnpackOptions controls ramdisk handling during Unpack
type UnpackOptions struct {
	// DecompressAll decompresses every ramdisk format with a decoder, not
	// only gzip
	DecompressAll bool
	// ExtractRamdisk additionally extracts the plain archive into a
	// directory, which Repack then rebuilds the ramdisk from
	ExtractRamdisk bool
}

// BootImageService unpacks and repacks Android boot images
type BootImageService struct {
	cfg         *config.Config
	compression *CompressionService
	cpio        *CpioService
}

// NewBootImageService creates a new boot image service
func NewBootImageService(cfg *config.Config) *BootImageService {
	return &BootImageService{
		cfg:         cfg,
		compression: NewCompressionService(),
		cpio:        NewCpioService(cfg),
	}
}

// ReadHeader parses the header of the boot image at path
func (s *BootImageService) ReadHeader(path string) (interfaces.BootHeaderReader, error) {
	const op = "read boot header"

	f, err := os.Open(path)
	if err != nil {
		return nil, types.WrapIOError(op, path, err)
	}
	defer f.Close()

	data, err := readUpTo(f, 0, types.BootHeaderV2Size)
	if err != nil {
		return nil, err
	}

	reader, err := bootimg.NewBootHeaderReader(data, binary.LittleEndian)
	if err != nil {
		return nil, withPath(err, path)
	}
	return reader, nil
}

// Unpack splits the boot image at path into component files under outDir
// and writes a manifest describing them
func (s *BootImageService) Unpack(ctx context.Context, path, outDir string, opts UnpackOptions, progress types.ProgressFunc) (*types.BootImageComponents, error) {
	const op = "unpack boot image"

	f, err := os.Open(path)
	if err != nil {
		return nil, types.WrapIOError(op, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, types.WrapIOError(op, path, err)
	}
	if info.Size() < types.BootHeaderV3Size {
		return nil, types.NewCodecError(types.ErrKindFormatInvalid, op, path, fmt.Errorf("file too small for a boot image: %d bytes", info.Size()))
	}

	image, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, types.WrapIOError(op, path, fmt.Errorf("failed to map image: %w", err))
	}
	defer image.Unmap()

	reader, err := bootimg.NewBootHeaderReader(image, binary.LittleEndian)
	if err != nil {
		return nil, withPath(err, path)
	}
	header := reader.Header()
	layout := reader.Layout()

	if layout.TotalSize > int64(len(image)) {
		// Signed images are often shorter than the padded total; only the
		// component bytes themselves must be present
		log.WithFields(log.Fields{"path": path, "layout": layout.TotalSize, "size": len(image)}).Debug("boot image shorter than page-aligned layout")
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, types.WrapIOError(op, outDir, err)
	}

	components := &types.BootImageComponents{Header: *header, WorkDir: outDir}

	parts := []struct {
		name   string
		offset int64
		size   uint32
		dest   *string
	}{
		{kernelFileName, layout.KernelOffset, header.KernelSize, &components.KernelPath},
		{ramdiskFileName, layout.RamdiskOffset, header.RamdiskSize, &components.RamdiskPath},
		{secondFileName, layout.SecondOffset, header.SecondSize, &components.SecondPath},
		{recoveryDtboFileName, layout.RecoveryDtboOffset, header.RecoveryDtboSize, &components.RecoveryDtboPath},
		{dtbFileName, layout.DtbOffset, header.DtbSize, &components.DtbPath},
		{signatureFileName, layout.SignatureOffset, header.SignatureSize, &components.SignaturePath},
	}

	tracker := newProgressTracker(progress, int64(len(parts)))
	for i, part := range parts {
		if err := checkContext(ctx, op); err != nil {
			return nil, err
		}
		if part.size == 0 {
			tracker.update(int64(i + 1))
			continue
		}

		end := part.offset + int64(part.size)
		if part.offset <= 0 || end > int64(len(image)) {
			return nil, types.NewCodecError(types.ErrKindFormatInvalid, op, path,
				fmt.Errorf("%s [%d, %d) lies outside the %d byte image", part.name, part.offset, end, len(image)))
		}
		data := image[part.offset:end]

		if part.name == ramdiskFileName {
			if err := s.unpackRamdisk(ctx, data, outDir, opts, components); err != nil {
				return nil, err
			}
		} else {
			dest := filepath.Join(outDir, part.name)
			if err := os.WriteFile(dest, data, 0o644); err != nil {
				return nil, types.WrapIOError(op, dest, err)
			}
			*part.dest = dest
		}

		log.WithFields(log.Fields{
			"component": part.name,
			"offset":    part.offset,
			"size":      part.size,
		}).Debug("extracted boot component")
		tracker.update(int64(i + 1))
	}

	if err := s.SaveManifest(components); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"path":    path,
		"version": header.HeaderVersion,
		"ramdisk": components.RamdiskFormat,
	}).Info("boot image unpacked")
	return components, nil
}

func (s *BootImageService) unpackRamdisk(ctx context.Context, data []byte, outDir string, opts UnpackOptions, c *types.BootImageComponents) error {
	const op = "unpack ramdisk"

	format := s.compression.Detect(data)
	c.RamdiskFormat = format

	decompress := format == types.CompressionGzip || (opts.DecompressAll || s.cfg.DecompressAllRamdisks)
	switch {
	case format == types.CompressionNone:
		c.RamdiskDecompressed = true
	case !decompress:
		log.WithField("format", format).Info("ramdisk left compressed")
	case !s.compression.CanDecompress(format):
		log.WithField("format", format).Warn("no decoder for ramdisk compression, keeping raw stream")
	default:
		plain, err := s.compression.Decompress(data, format)
		if err != nil {
			return err
		}
		data = plain
		c.RamdiskDecompressed = true
	}

	name := ramdiskCpioFileName
	if !c.RamdiskDecompressed {
		name = ramdiskFileName + format.Extension()
	}
	dest := filepath.Join(outDir, name)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return types.WrapIOError(op, dest, err)
	}
	c.RamdiskPath = dest

	if opts.ExtractRamdisk && c.RamdiskDecompressed {
		dir := filepath.Join(outDir, ramdiskDirName)
		if _, err := s.cpio.Extract(ctx, bytes.NewReader(data), dir); err != nil {
			return err
		}
		c.RamdiskDir = dir
	}
	return nil
}

// Repack writes a boot image from components to outputPath. The output is
// built in a temporary file and renamed into place, so a failure never
// leaves a partial image behind.
func (s *BootImageService) Repack(ctx context.Context, outputPath string, c *types.BootImageComponents, progress types.ProgressFunc) error {
	const op = "repack boot image"

	header := c.Header
	copy(header.Magic[:], types.BootMagic)
	if header.HeaderVersion > types.BootMaxHeaderVersion {
		return types.Errorf(types.ErrKindUnsupported, op, "unsupported boot header version %d", header.HeaderVersion)
	}
	if header.HeaderVersion < 3 && header.PageSize == 0 {
		header.PageSize = s.cfg.DefaultPageSize
	}
	if header.HeaderVersion >= 3 {
		header.PageSize = types.BootV3PageSize
	}
	if !bootimg.PageSizeFits(header.HeaderVersion, header.PageSize) {
		return types.Errorf(types.ErrKindInvalidInput, op, "page size %d cannot hold a v%d header", header.PageSize, header.HeaderVersion)
	}
	page := int64(header.EffectivePageSize())

	type component struct {
		name  string
		size  *uint32
		write func(w io.Writer) error
	}
	var parts []component
	addFile := func(name, path string, size *uint32) {
		if path == "" {
			*size = 0
			return
		}
		parts = append(parts, component{name, size, copyFileTo(path)})
	}

	addFile(kernelFileName, c.KernelPath, &header.KernelSize)
	if c.RamdiskPath != "" || c.RamdiskDir != "" {
		parts = append(parts, component{ramdiskFileName, &header.RamdiskSize, func(w io.Writer) error {
			return s.writeRamdisk(ctx, w, c)
		}})
	} else {
		header.RamdiskSize = 0
	}
	if header.HeaderVersion < 3 {
		addFile(secondFileName, c.SecondPath, &header.SecondSize)
	}
	if header.HeaderVersion == 1 || header.HeaderVersion == 2 {
		addFile(recoveryDtboFileName, c.RecoveryDtboPath, &header.RecoveryDtboSize)
	}
	if header.HeaderVersion == 2 {
		addFile(dtbFileName, c.DtbPath, &header.DtbSize)
	}
	if header.HeaderVersion >= 4 {
		addFile(signatureFileName, c.SignaturePath, &header.SignatureSize)
	}

	tracker := newProgressTracker(progress, int64(len(parts)+1))
	err := writeFileAtomic(outputPath, func(f *os.File) error {
		// Header page is written last, once sizes are known
		if _, err := f.Write(make([]byte, page)); err != nil {
			return types.WrapIOError(op, outputPath, err)
		}

		digest := xxhash.New()
		offset := page
		for i, part := range parts {
			if err := checkContext(ctx, op); err != nil {
				return err
			}

			cw := &countingWriter{w: io.MultiWriter(f, digest)}
			if err := part.write(cw); err != nil {
				return err
			}
			if cw.n > math.MaxUint32 {
				return types.Errorf(types.ErrKindInvalidInput, op, "%s is %d bytes, larger than a boot image allows", part.name, cw.n)
			}
			*part.size = uint32(cw.n)

			if part.name == recoveryDtboFileName {
				header.RecoveryDtboOffset = uint64(offset)
			}
			if _, err := f.Write(make([]byte, bootimg.PaddingSize(cw.n, page))); err != nil {
				return types.WrapIOError(op, outputPath, err)
			}
			offset += bootimg.AlignUp(cw.n, page)
			tracker.update(int64(i + 1))
		}

		if header.HeaderVersion < 3 {
			header.ID = [types.BootIDSize]byte{}
			binary.LittleEndian.PutUint64(header.ID[:], digest.Sum64())
		}

		if _, err := f.WriteAt(bootimg.MarshalBootHeader(&header, binary.LittleEndian), 0); err != nil {
			return types.WrapIOError(op, outputPath, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	tracker.finish()

	log.WithFields(log.Fields{
		"path":    outputPath,
		"version": header.HeaderVersion,
		"kernel":  header.KernelSize,
		"ramdisk": header.RamdiskSize,
	}).Info("boot image repacked")
	return nil
}

// writeRamdisk streams the ramdisk into w, rebuilding and recompressing
// the archive when the components hold it in plain form
func (s *BootImageService) writeRamdisk(ctx context.Context, w io.Writer, c *types.BootImageComponents) error {
	const op = "repack ramdisk"

	plain := c.RamdiskDir != "" || c.RamdiskDecompressed
	format := c.RamdiskFormat
	if !plain || format == types.CompressionNone {
		if c.RamdiskDir != "" {
			_, err := s.cpio.Pack(ctx, c.RamdiskDir, w)
			return err
		}
		return copyFileTo(c.RamdiskPath)(w)
	}

	if !s.compression.CanCompress(format) {
		log.WithField("format", format).Warn("no encoder for ramdisk compression, recompressing as gzip")
		format = types.CompressionGzip
	}

	zw, err := s.compression.NewWriter(w, format)
	if err != nil {
		return err
	}
	if c.RamdiskDir != "" {
		if _, err := s.cpio.Pack(ctx, c.RamdiskDir, zw); err != nil {
			zw.Close()
			return err
		}
	} else if err := copyFileTo(c.RamdiskPath)(zw); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return types.WrapIOError(op, c.RamdiskPath, err)
	}
	return nil
}

func copyFileTo(path string) func(w io.Writer) error {
	return func(w io.Writer) error {
		f, err := os.Open(path)
		if err != nil {
			return types.WrapIOError("read component", path, err)
		}
		defer f.Close()
		if _, err := io.Copy(w, f); err != nil {
			return types.WrapIOError("read component", path, err)
		}
		return nil
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// withPath attaches path to a CodecError returned by a parser
func withPath(err error, path string) error {
	if ce, ok := err.(*types.CodecError); ok && ce.Path == "" {
		return types.NewCodecError(ce.Kind, ce.Op, path, ce.Err)
	}
	return err
}
