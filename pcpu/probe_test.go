package pcpu_test

import (
	"testing"

	"github.com/bobuhiro11/arm64hv/pcpu"
)

func TestMaxGuestPageTableLevels(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		paBits int
		want   int
	}{
		{32, 3},
		{43, 3},
		{44, 4},
		{48, 4},
		{52, 4},
	} {
		if got := pcpu.MaxGuestPageTableLevels(tt.paBits); got != tt.want {
			t.Errorf("MaxGuestPageTableLevels(%d) = %d, want %d", tt.paBits, got, tt.want)
		}
	}
}

func TestComputeVTCRTable(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		paBits  int
		wantPS  uint64
		wantSL0 uint64
		wantTSZ uint64
	}{
		{32, 0, 1, 25},
		{39, 1, 1, 25},
		{41, 2, 1, 25},
		{43, 3, 1, 25},
		{47, 4, 2, 16},
		{51, 5, 2, 16},
		{60, 6, 2, 16},
	} {
		v, err := pcpu.ComputeVTCR(tt.paBits)
		if err != nil {
			t.Fatalf("ComputeVTCR(%d): %v", tt.paBits, err)
		}

		if gotPS := (v >> 16) & 0x7; gotPS != tt.wantPS {
			t.Errorf("ComputeVTCR(%d).PS = %d, want %d", tt.paBits, gotPS, tt.wantPS)
		}

		if gotSL0 := (v >> 6) & 0x3; gotSL0 != tt.wantSL0 {
			t.Errorf("ComputeVTCR(%d).SL0 = %d, want %d", tt.paBits, gotSL0, tt.wantSL0)
		}

		if gotT0SZ := v & 0x3f; gotT0SZ != tt.wantTSZ {
			t.Errorf("ComputeVTCR(%d).T0SZ = %d, want %d", tt.paBits, gotT0SZ, tt.wantTSZ)
		}
	}
}

func TestComputeVTCRBelowMinimum(t *testing.T) {
	t.Parallel()

	if _, err := pcpu.ComputeVTCR(8); err == nil {
		t.Errorf("ComputeVTCR(8): want error for unsupported PA width")
	}
}
