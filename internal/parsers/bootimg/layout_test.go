package bootimg

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deploymenttheory/go-droidimg/internal/types"
)

func TestAlignUp(t *testing.T) {
	testCases := []struct {
		size, page, want int64
	}{
		{0, 4096, 0},
		{1, 4096, 4096},
		{4096, 4096, 4096},
		{4097, 4096, 8192},
		{100, 2048, 2048},
		{100, 0, 100},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, AlignUp(tc.size, tc.page), "AlignUp(%d, %d)", tc.size, tc.page)
		assert.Equal(t, tc.want-tc.size, PaddingSize(tc.size, tc.page))
	}
}

func TestComputeLayout(t *testing.T) {
	testCases := []struct {
		name   string
		header types.BootImageHeader
		want   types.BootLayout
	}{
		{
			name:   "v0 kernel ramdisk second",
			header: types.BootImageHeader{HeaderVersion: 0, PageSize: 2048, KernelSize: 5000, RamdiskSize: 2048, SecondSize: 1},
			want: types.BootLayout{
				PageSize: 2048, HeaderSize: 1632,
				KernelOffset: 2048, RamdiskOffset: 2048 + 6144, SecondOffset: 2048 + 6144 + 2048,
				TotalSize: 2048 + 6144 + 2048 + 2048,
			},
		},
		{
			name:   "v1 with recovery dtbo",
			header: types.BootImageHeader{HeaderVersion: 1, PageSize: 4096, KernelSize: 4096, RamdiskSize: 10, RecoveryDtboSize: 5000},
			want: types.BootLayout{
				PageSize: 4096, HeaderSize: 1648,
				KernelOffset: 4096, RamdiskOffset: 8192, SecondOffset: 12288, RecoveryDtboOffset: 12288,
				TotalSize: 12288 + 8192,
			},
		},
		{
			name:   "v2 dtb follows recovery dtbo",
			header: types.BootImageHeader{HeaderVersion: 2, PageSize: 4096, KernelSize: 1, RamdiskSize: 1, SecondSize: 1, RecoveryDtboSize: 1, DtbSize: 1},
			want: types.BootLayout{
				PageSize: 4096, HeaderSize: 1660,
				KernelOffset: 4096, RamdiskOffset: 8192, SecondOffset: 12288, RecoveryDtboOffset: 16384, DtbOffset: 20480,
				TotalSize: 24576,
			},
		},
		{
			name:   "v2 dtb without recovery dtbo",
			header: types.BootImageHeader{HeaderVersion: 2, PageSize: 4096, KernelSize: 1, RamdiskSize: 1, DtbSize: 1},
			want: types.BootLayout{
				PageSize: 4096, HeaderSize: 1660,
				KernelOffset: 4096, RamdiskOffset: 8192, SecondOffset: 12288, RecoveryDtboOffset: 12288, DtbOffset: 12288,
				TotalSize: 16384,
			},
		},
		{
			name:   "v4 ignores page size field and adds signature",
			header: types.BootImageHeader{HeaderVersion: 4, PageSize: 2048, KernelSize: 4097, RamdiskSize: 1, SignatureSize: 4096},
			want: types.BootLayout{
				PageSize: 4096, HeaderSize: 1584,
				KernelOffset: 4096, RamdiskOffset: 4096 + 8192, SignatureOffset: 4096 + 8192 + 4096,
				TotalSize: 4096 + 8192 + 4096 + 4096,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := tc.header
			assert.Equal(t, tc.want, ComputeLayout(&h))
		})
	}
}
