package inspect

import (
	"os"

	"github.com/deploymenttheory/go-droidimg/pkg/app"
)

const maxRegionLimit = 100000

// Validate validates an inspection request
func (r *Request) Validate() error {
	if r.ImagePath == "" {
		return app.NewError(app.ErrCodeInvalidInput, "image path is required", nil)
	}

	info, err := os.Stat(r.ImagePath)
	if err != nil {
		if os.IsNotExist(err) {
			return app.NewError(app.ErrCodeNotFound, "image not found", err)
		}
		return app.NewError(app.ErrCodeIO, "cannot access image", err)
	}
	if info.IsDir() {
		return app.NewError(app.ErrCodeInvalidInput, "image path is a directory", nil)
	}

	if r.MaxRegions < 0 || r.MaxRegions > maxRegionLimit {
		return app.NewError(app.ErrCodeInvalidInput, "max regions must be between 0 and 100000", nil)
	}
	return nil
}
