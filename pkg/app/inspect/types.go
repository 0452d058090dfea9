package inspect

import (
	"time"

	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// Request represents an image inspection request
type Request struct {
	ImagePath string

	// MaxRegions caps the regions returned; 0 keeps them all
	MaxRegions int
	// Probe enables the filesystem and partition table detail passes
	Probe bool
}

// Response represents inspection results
type Response struct {
	Path        string                `json:"path" yaml:"path"`
	Size        int64                 `json:"size" yaml:"size"`
	Type        types.FileType        `json:"type" yaml:"type"`
	Description string                `json:"description" yaml:"description"`
	Regions     []types.FileRegion    `json:"regions" yaml:"regions"`
	Truncated   bool                  `json:"truncated" yaml:"truncated"`
	Filesystem  *types.FilesystemInfo `json:"filesystem,omitempty" yaml:"filesystem,omitempty"`
	Partitions  []PartitionSummary    `json:"partitions,omitempty" yaml:"partitions,omitempty"`
	ElapsedTime time.Duration         `json:"elapsed_time" yaml:"elapsed_time"`
}

// PartitionSummary is one GPT partition as shown to the user
type PartitionSummary struct {
	Index    int    `json:"index" yaml:"index"`
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	FirstLBA uint64 `json:"first_lba" yaml:"first_lba"`
	LastLBA  uint64 `json:"last_lba" yaml:"last_lba"`
	Size     uint64 `json:"size" yaml:"size"`
	GUID     string `json:"guid" yaml:"guid"`
}

// SpeculativeCount returns how many regions were inferred rather than read
func (r *Response) SpeculativeCount() int {
	n := 0
	for _, region := range r.Regions {
		if region.Speculative {
			n++
		}
	}
	return n
}
