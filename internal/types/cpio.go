package types

// CPIO newc constants
const (
	CpioNewcMagic    = "070701"
	CpioCrcMagic     = "070702"
	CpioHeaderSize   = 110
	CpioTrailerName  = "TRAILER!!!"
	CpioFieldCount   = 13
	CpioAlignment    = 4
	CpioModeTypeMask = 0xF000
	CpioModeDir      = 0x4000
	CpioModeRegular  = 0x8000
	CpioModeSymlink  = 0xA000
	CpioModeCharDev  = 0x2000
	CpioModeBlockDev = 0x6000
	CpioModeFifo     = 0x1000
	CpioModeSocket   = 0xC000
	CpioModePermMask = 0x0FFF
)

// CpioEntry is one newc archive member header
type CpioEntry struct {
	Magic     string
	Ino       uint32
	Mode      uint32
	UID       uint32
	GID       uint32
	Nlink     uint32
	Mtime     uint32
	FileSize  uint32
	DevMajor  uint32
	DevMinor  uint32
	RdevMajor uint32
	RdevMinor uint32
	NameSize  uint32
	Check     uint32
	Name      string
}

// IsDir reports whether the entry is a directory
func (e *CpioEntry) IsDir() bool {
	return e.Mode&CpioModeTypeMask == CpioModeDir
}

// IsRegular reports whether the entry is a regular file
func (e *CpioEntry) IsRegular() bool {
	return e.Mode&CpioModeTypeMask == CpioModeRegular
}

// IsSymlink reports whether the entry is a symbolic link
func (e *CpioEntry) IsSymlink() bool {
	return e.Mode&CpioModeTypeMask == CpioModeSymlink
}

// Perm returns the permission bits
func (e *CpioEntry) Perm() uint32 {
	return e.Mode & CpioModePermMask
}

// CpioExtractResult summarises an extraction
type CpioExtractResult struct {
	Files    int
	Dirs     int
	Symlinks int
	Skipped  int
	Bytes    int64
}
