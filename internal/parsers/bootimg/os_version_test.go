package bootimg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-droidimg/internal/types"
)

func TestOSVersionRoundTrip(t *testing.T) {
	for _, major := range []int{0, 1, 11, 127} {
		for _, minor := range []int{0, 64, 127} {
			for _, patch := range []int{0, 3, 127} {
				for _, year := range []int{2000, 2021, 2127} {
					for _, month := range []int{0, 1, 12, 15} {
						in := types.OSVersion{Major: major, Minor: minor, Patch: patch, Year: year, Month: month}
						packed, err := PackOSVersion(in)
						require.NoError(t, err)
						assert.Equal(t, in, UnpackOSVersion(packed))
					}
				}
			}
		}
	}
}

func TestPackOSVersionKnownValue(t *testing.T) {
	packed, err := PackOSVersion(types.OSVersion{Major: 11, Minor: 0, Patch: 0, Year: 2021, Month: 6})
	require.NoError(t, err)
	assert.Equal(t, uint32(11<<25|21<<4|6), packed)
}

func TestPackOSVersionRange(t *testing.T) {
	testCases := []struct {
		name string
		v    types.OSVersion
	}{
		{"major too large", types.OSVersion{Major: 128, Year: 2020}},
		{"negative patch", types.OSVersion{Patch: -1, Year: 2020}},
		{"year before 2000", types.OSVersion{Year: 1999}},
		{"year too late", types.OSVersion{Year: 2128}},
		{"month too large", types.OSVersion{Year: 2020, Month: 16}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := PackOSVersion(tc.v)
			assert.Error(t, err)
		})
	}
}

func TestParseOSVersion(t *testing.T) {
	v, err := ParseOSVersion("12.1", "2022-03")
	require.NoError(t, err)
	assert.Equal(t, types.OSVersion{Major: 12, Minor: 1, Patch: 0, Year: 2022, Month: 3}, v)
	assert.Equal(t, "12.1.0 (2022-03)", FormatOSVersion(v))

	_, err = ParseOSVersion("x.y", "2022-03")
	assert.Error(t, err)
	_, err = ParseOSVersion("12", "March")
	assert.Error(t, err)
}
