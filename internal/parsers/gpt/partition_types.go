package gpt

import (
	"strings"

	"github.com/deploymenttheory/go-droidimg/internal/types"
)

// Well known partition type GUIDs
const (
	TypeEFISystem         = "C12A7328-F81F-11D2-BA4B-00A0C93EC93B"
	TypeBIOSBoot          = "21686148-6449-6E6F-744E-656564454649"
	TypeMicrosoftData     = "EBD0A0A2-B9E5-4433-87C0-68B6B72699C7"
	TypeLinuxData         = "0FC63DAF-8483-4772-8E79-3D69D8477DE4"
	TypeLinuxSwap         = "0657FD6D-A4AB-43C4-84E5-0933C84B4F4F"
	TypeAppleAPFS         = "7C3457EF-0000-11AA-AA11-00306543ECAC"
	TypeAndroidBootloader = "2568845D-2332-4675-BC39-8FA5A4748D15"
	TypeAndroidBootldr2   = "114EAFFE-1552-4022-B26E-9B053604CF84"
	TypeAndroidBoot       = "49A4D17F-93A3-45C1-A0DE-F50B2EBE2599"
	TypeAndroidRecovery   = "4177C722-9E92-4AAB-8644-43502BFD5506"
	TypeAndroidMisc       = "EF32A33B-A409-486C-9141-9FFB711F6266"
	TypeAndroidMetadata   = "20AC26BE-20B7-11E3-84C5-6CFDB94711E9"
	TypeAndroidSystem     = "38F428E6-D326-425D-9140-6E0EA133647C"
	TypeAndroidCache      = "A893EF21-E428-470A-9E55-0668FD91A2D9"
	TypeAndroidData       = "DC76DDA9-5AC1-491C-AF42-A82591580C0D"
	TypeAndroidPersistent = "EBC597D0-2053-4B15-8B64-E0AAC75F4DB1"
	TypeAndroidVendor     = "C5A0AEEC-13EA-11E5-A1B1-001E67CA0C3C"
	TypeAndroidConfig     = "BD59408B-4514-490D-BF12-9878D963F378"
	TypeAndroidFactory    = "8F68CC74-C5E5-48DA-BE91-A0C8C15E9C80"
	TypeAndroidFactoryAlt = "9FDAA6EF-4B3F-40D2-BA8D-BFF16BFB887B"
	TypeAndroidFastboot   = "767941D0-2085-11E3-AD3B-6CFDB94711E9"
	TypeAndroidOEM        = "AC6D7924-EB71-4DF8-B48D-E267B27148FF"
)

var partitionTypeLabels = map[string]string{
	TypeEFISystem:         "EFI System",
	TypeBIOSBoot:          "BIOS boot",
	TypeMicrosoftData:     "Microsoft basic data",
	TypeLinuxData:         "Linux filesystem",
	TypeLinuxSwap:         "Linux swap",
	TypeAppleAPFS:         "Apple APFS",
	TypeAndroidBootloader: "Android bootloader",
	TypeAndroidBootldr2:   "Android bootloader 2",
	TypeAndroidBoot:       "Android boot",
	TypeAndroidRecovery:   "Android recovery",
	TypeAndroidMisc:       "Android misc",
	TypeAndroidMetadata:   "Android metadata",
	TypeAndroidSystem:     "Android system",
	TypeAndroidCache:      "Android cache",
	TypeAndroidData:       "Android data",
	TypeAndroidPersistent: "Android persistent",
	TypeAndroidVendor:     "Android vendor",
	TypeAndroidConfig:     "Android config",
	TypeAndroidFactory:    "Android factory",
	TypeAndroidFactoryAlt: "Android factory (alt)",
	TypeAndroidFastboot:   "Android fastboot/tertiary",
	TypeAndroidOEM:        "Android OEM",
}

// TypeLabel maps a partition type GUID to a human label
func TypeLabel(g types.GUID) string {
	if g.IsZero() {
		return "Unused"
	}
	if label, ok := partitionTypeLabels[g.String()]; ok {
		return label
	}
	return "Unknown"
}

// ParseTypeGUID accepts either a GUID string or a label/alias such as
// "android boot", "boot", "linux" or "efi"
func ParseTypeGUID(s string) (types.GUID, error) {
	if g, err := types.ParseGUID(s); err == nil {
		return g, nil
	}

	want := strings.ToLower(strings.TrimSpace(s))
	for guid, label := range partitionTypeLabels {
		l := strings.ToLower(label)
		if l == want || strings.TrimPrefix(l, "android ") == want {
			return types.ParseGUID(guid)
		}
	}
	switch want {
	case "linux":
		return types.ParseGUID(TypeLinuxData)
	case "efi", "esp":
		return types.ParseGUID(TypeEFISystem)
	}
	return types.GUID{}, types.Errorf(types.ErrKindInvalidInput, "parse partition type", "unknown partition type %q", s)
}
