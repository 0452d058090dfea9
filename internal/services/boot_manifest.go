package services

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/deploymenttheory/go-droidimg/internal/parsers/bootimg"
	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// ManifestFileName is the manifest Unpack writes next to the components
const ManifestFileName = "bootimg.yaml"

// bootManifest is the on-disk description of an unpacked boot image.
// Component paths are relative to the manifest directory.
type bootManifest struct {
	HeaderVersion uint32 `yaml:"header_version"`
	PageSize      uint32 `yaml:"page_size,omitempty"`
	KernelAddr    uint32 `yaml:"kernel_addr,omitempty"`
	RamdiskAddr   uint32 `yaml:"ramdisk_addr,omitempty"`
	SecondAddr    uint32 `yaml:"second_addr,omitempty"`
	TagsAddr      uint32 `yaml:"tags_addr,omitempty"`
	DtbAddr       uint64 `yaml:"dtb_addr,omitempty"`
	OSVersion     string `yaml:"os_version,omitempty"`
	OSPatchLevel  string `yaml:"os_patch_level,omitempty"`
	Name          string `yaml:"name,omitempty"`
	Cmdline       string `yaml:"cmdline,omitempty"`

	Kernel       string `yaml:"kernel,omitempty"`
	Ramdisk      string `yaml:"ramdisk,omitempty"`
	RamdiskDir   string `yaml:"ramdisk_dir,omitempty"`
	Second       string `yaml:"second,omitempty"`
	RecoveryDtbo string `yaml:"recovery_dtbo,omitempty"`
	Dtb          string `yaml:"dtb,omitempty"`
	Signature    string `yaml:"signature,omitempty"`

	RamdiskFormat       string `yaml:"ramdisk_format"`
	RamdiskDecompressed bool   `yaml:"ramdisk_decompressed"`
}

// SaveManifest writes bootimg.yaml into the components' work directory
func (s *BootImageService) SaveManifest(c *types.BootImageComponents) error {
	const op = "save boot manifest"

	h := c.Header
	m := bootManifest{
		HeaderVersion:       h.HeaderVersion,
		Cmdline:             h.CmdlineString(),
		Kernel:              relativeTo(c.WorkDir, c.KernelPath),
		Ramdisk:             relativeTo(c.WorkDir, c.RamdiskPath),
		RamdiskDir:          relativeTo(c.WorkDir, c.RamdiskDir),
		Second:              relativeTo(c.WorkDir, c.SecondPath),
		RecoveryDtbo:        relativeTo(c.WorkDir, c.RecoveryDtboPath),
		Dtb:                 relativeTo(c.WorkDir, c.DtbPath),
		Signature:           relativeTo(c.WorkDir, c.SignaturePath),
		RamdiskFormat:       c.RamdiskFormat.String(),
		RamdiskDecompressed: c.RamdiskDecompressed,
	}
	if h.HeaderVersion < 3 {
		m.PageSize = h.PageSize
		m.KernelAddr = h.KernelAddr
		m.RamdiskAddr = h.RamdiskAddr
		m.SecondAddr = h.SecondAddr
		m.TagsAddr = h.TagsAddr
		m.DtbAddr = h.DtbAddr
		m.Name = h.NameString()
	}
	if h.OSVersion != 0 {
		v := bootimg.UnpackOSVersion(h.OSVersion)
		m.OSVersion = fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
		m.OSPatchLevel = fmt.Sprintf("%04d-%02d", v.Year, v.Month)
	}

	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("failed to encode boot manifest: %w", err)
	}
	path := filepath.Join(c.WorkDir, ManifestFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return types.WrapIOError(op, path, err)
	}
	return nil
}

// LoadManifest rebuilds BootImageComponents from a directory written by
// Unpack, possibly after its files were edited
func (s *BootImageService) LoadManifest(dir string) (*types.BootImageComponents, error) {
	const op = "load boot manifest"

	path := filepath.Join(dir, ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapIOError(op, path, err)
	}

	var m bootManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, types.NewCodecError(types.ErrKindFormatInvalid, op, path, err)
	}
	if m.HeaderVersion > types.BootMaxHeaderVersion {
		return nil, types.Errorf(types.ErrKindUnsupported, op, "unsupported boot header version %d", m.HeaderVersion)
	}

	h := types.BootImageHeader{
		HeaderVersion: m.HeaderVersion,
		PageSize:      m.PageSize,
		KernelAddr:    m.KernelAddr,
		RamdiskAddr:   m.RamdiskAddr,
		SecondAddr:    m.SecondAddr,
		TagsAddr:      m.TagsAddr,
		DtbAddr:       m.DtbAddr,
	}
	copy(h.Magic[:], types.BootMagic)
	h.SetName(m.Name)
	h.SetCmdline(m.Cmdline)

	if m.OSVersion != "" || m.OSPatchLevel != "" {
		v, err := bootimg.ParseOSVersion(m.OSVersion, m.OSPatchLevel)
		if err != nil {
			return nil, types.NewCodecError(types.ErrKindInvalidInput, op, path, err)
		}
		if h.OSVersion, err = bootimg.PackOSVersion(v); err != nil {
			return nil, types.NewCodecError(types.ErrKindInvalidInput, op, path, err)
		}
	}

	format, ok := types.ParseCompressionFormat(m.RamdiskFormat)
	if !ok {
		return nil, types.Errorf(types.ErrKindInvalidInput, op, "unknown ramdisk format %q", m.RamdiskFormat)
	}

	return &types.BootImageComponents{
		Header:              h,
		WorkDir:             dir,
		KernelPath:          resolveIn(dir, m.Kernel),
		RamdiskPath:         resolveIn(dir, m.Ramdisk),
		RamdiskDir:          resolveIn(dir, m.RamdiskDir),
		SecondPath:          resolveIn(dir, m.Second),
		RecoveryDtboPath:    resolveIn(dir, m.RecoveryDtbo),
		DtbPath:             resolveIn(dir, m.Dtb),
		SignaturePath:       resolveIn(dir, m.Signature),
		RamdiskFormat:       format,
		RamdiskDecompressed: m.RamdiskDecompressed,
	}, nil
}

func relativeTo(dir, path string) string {
	if path == "" {
		return ""
	}
	if rel, err := filepath.Rel(dir, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}

func resolveIn(dir, name string) string {
	if name == "" {
		return ""
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, filepath.FromSlash(name))
}
