package bootimg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/deploymenttheory/go-droidimg/internal/types"
)

const (
	osVersionFieldMax = 0x7f
	osMonthMax        = 0x0f
	osYearBase        = 2000
)

// PackOSVersion encodes a version as
// (major<<25)|(minor<<18)|(patch<<11)|((year-2000)<<4)|month
func PackOSVersion(v types.OSVersion) (uint32, error) {
	for name, field := range map[string]int{"major": v.Major, "minor": v.Minor, "patch": v.Patch} {
		if field < 0 || field > osVersionFieldMax {
			return 0, fmt.Errorf("os version %s %d out of range [0,%d]", name, field, osVersionFieldMax)
		}
	}
	if v.Year < osYearBase || v.Year > osYearBase+osVersionFieldMax {
		return 0, fmt.Errorf("os patch year %d out of range [%d,%d]", v.Year, osYearBase, osYearBase+osVersionFieldMax)
	}
	if v.Month < 0 || v.Month > osMonthMax {
		return 0, fmt.Errorf("os patch month %d out of range [0,%d]", v.Month, osMonthMax)
	}

	return uint32(v.Major)<<25 |
		uint32(v.Minor)<<18 |
		uint32(v.Patch)<<11 |
		uint32(v.Year-osYearBase)<<4 |
		uint32(v.Month), nil
}

// UnpackOSVersion decodes a packed os_version field
func UnpackOSVersion(packed uint32) types.OSVersion {
	return types.OSVersion{
		Major: int((packed >> 25) & osVersionFieldMax),
		Minor: int((packed >> 18) & osVersionFieldMax),
		Patch: int((packed >> 11) & osVersionFieldMax),
		Year:  int((packed>>4)&osVersionFieldMax) + osYearBase,
		Month: int(packed & osMonthMax),
	}
}

// ParseOSVersion parses "A.B.C" and "YYYY-MM" strings into an OSVersion
func ParseOSVersion(version, patchLevel string) (types.OSVersion, error) {
	var v types.OSVersion

	parts := strings.Split(strings.TrimSpace(version), ".")
	if len(parts) == 0 || len(parts) > 3 || parts[0] == "" {
		return v, fmt.Errorf("invalid os version %q", version)
	}
	fields := []*int{&v.Major, &v.Minor, &v.Patch}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return v, fmt.Errorf("invalid os version %q: %w", version, err)
		}
		*fields[i] = n
	}

	var year, month int
	if _, err := fmt.Sscanf(strings.TrimSpace(patchLevel), "%d-%d", &year, &month); err != nil {
		return v, fmt.Errorf("invalid os patch level %q: %w", patchLevel, err)
	}
	v.Year, v.Month = year, month

	if _, err := PackOSVersion(v); err != nil {
		return v, err
	}
	return v, nil
}

// FormatOSVersion renders a version as "A.B.C (YYYY-MM)"
func FormatOSVersion(v types.OSVersion) string {
	return fmt.Sprintf("%d.%d.%d (%04d-%02d)", v.Major, v.Minor, v.Patch, v.Year, v.Month)
}
