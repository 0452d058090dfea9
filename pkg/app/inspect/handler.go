package inspect

import (
	"fmt"
	"time"

	"github.com/deploymenttheory/go-droidimg/internal/parsers/gpt"
	"github.com/deploymenttheory/go-droidimg/internal/services"
	"github.com/deploymenttheory/go-droidimg/internal/types"
	"github.com/deploymenttheory/go-droidimg/pkg/app"
)

// Handle processes an inspection request
func Handle(ctx *app.Context, req *Request) (*Response, error) {
	startTime := time.Now()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx.Log(fmt.Sprintf("Inspecting image: %s", req.ImagePath))
	ctx.Progress("Classifying...", 10)

	classifier := services.NewClassifierService(ctx.Config)
	result, err := classifier.Classify(ctx, req.ImagePath)
	if err != nil {
		return nil, app.FromError("classification failed", err)
	}

	response := &Response{
		Path:        result.Path,
		Size:        result.Size,
		Type:        result.Type,
		Description: result.Description,
		Regions:     result.Regions,
	}

	if req.Probe {
		ctx.Progress("Probing...", 60)
		probeDetails(ctx, req, response)
	}

	if req.MaxRegions > 0 && len(response.Regions) > req.MaxRegions {
		response.Regions = response.Regions[:req.MaxRegions]
		response.Truncated = true
	}

	response.ElapsedTime = time.Since(startTime)
	ctx.Progress("Complete", 100)
	ctx.Log(fmt.Sprintf("Inspection completed: %s with %d regions in %v", response.Type, len(response.Regions), response.ElapsedTime))
	return response, nil
}

// probeDetails adds filesystem and partition detail. Failures only log,
// the classification already stands on its own.
func probeDetails(ctx *app.Context, req *Request, response *Response) {
	switch response.Type {
	case types.FileTypeExt4, types.FileTypeF2FS, types.FileTypeEROFS, types.FileTypeSparseImage:
		info, err := services.NewFilesystemService(ctx.Config).Probe(req.ImagePath)
		if err != nil {
			ctx.Log(fmt.Sprintf("Filesystem probe skipped: %v", err))
			return
		}
		response.Filesystem = info
	case types.FileTypeGPTDisk:
		parts, err := services.NewGPTService(ctx.Config).ReadPartitions(req.ImagePath)
		if err != nil {
			ctx.Log(fmt.Sprintf("Partition table skipped: %v", err))
			return
		}
		response.Partitions = summarizePartitions(parts)
	}
}

func summarizePartitions(parts []types.GPTPartition) []PartitionSummary {
	summaries := make([]PartitionSummary, 0, len(parts))
	for i := range parts {
		p := &parts[i]
		summaries = append(summaries, PartitionSummary{
			Index:    p.Index,
			Name:     p.Name,
			Type:     gpt.TypeLabel(p.TypeGUID),
			FirstLBA: p.FirstLBA,
			LastLBA:  p.LastLBA,
			Size:     p.SizeBytes(),
			GUID:     p.UniqueGUID.String(),
		})
	}
	return summaries
}
