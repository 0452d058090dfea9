// File: internal/interfaces/boot_image.go
package interfaces

import "github.com/deploymenttheory/go-droidimg/internal/types"

// BootHeaderReader provides methods for reading an Android boot image header
type BootHeaderReader interface {
	// Header returns the parsed header
	Header() *types.BootImageHeader

	// HeaderVersion returns the header layout version
	HeaderVersion() uint32

	// PageSize returns the effective page size used for layout
	PageSize() uint32

	// HeaderSize returns the number of header bytes for this version
	HeaderSize() uint32

	// Layout returns the page-aligned offsets of every component
	Layout() types.BootLayout

	// OSVersion returns the decoded os_version field
	OSVersion() types.OSVersion

	// Name returns the board name
	Name() string

	// Cmdline returns the full kernel command line
	Cmdline() string
}
