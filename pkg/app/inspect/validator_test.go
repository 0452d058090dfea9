package inspect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	image := createTestExt4Image(t)

	tests := []struct {
		name    string
		request Request
		wantErr bool
	}{
		{"valid", Request{ImagePath: image}, false},
		{"valid with limit", Request{ImagePath: image, MaxRegions: 50}, false},
		{"empty path", Request{}, true},
		{"limit too large", Request{ImagePath: image, MaxRegions: maxRegionLimit + 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
