package pcpu

import (
	"fmt"

	"github.com/bobuhiro11/arm64hv/hverr"
	"github.com/bobuhiro11/arm64hv/sysreg"
)

// vtcrRow is one row of the VTCR_EL2 mapping table: which PS field
// value and stage-2 starting level/T0SZ a given probed PA range implies.
type vtcrRow struct {
	minPABits int
	ps        uint64
	sl0       uint64
	t0sz      uint64
}

// vtcrTable, in ascending PA-bits order. Ranges below 44 bits fit a
// 3-level stage-2 table starting at L1; 44 bits and up need L0. sl0 is the
// VTCR_EL2.SL0 encoding for a 4KB granule: 1 starts at L1, 2 at L0.
var vtcrTable = []vtcrRow{
	{minPABits: 32, ps: 0, sl0: 1, t0sz: 25}, // PA_32B_4GB
	{minPABits: 36, ps: 1, sl0: 1, t0sz: 25}, // PA_36B_64GB
	{minPABits: 40, ps: 2, sl0: 1, t0sz: 25}, // PA_40B_1TB
	{minPABits: 42, ps: 3, sl0: 1, t0sz: 25}, // PA_42B_4TB
	{minPABits: 44, ps: 4, sl0: 2, t0sz: 16}, // PA_44B_16TB
	{minPABits: 48, ps: 5, sl0: 2, t0sz: 16}, // PA_48B_256TB
	{minPABits: 52, ps: 6, sl0: 2, t0sz: 16}, // PA_52B_4PB
}

const (
	vtcrTG0Bits   = 0 << 14 // 4KB granule
	vtcrSH0Inner  = 3 << 12 // inner shareable
	vtcrORGN0WBWA = 1 << 10 // WBRAWA
	vtcrIRGN0WBWA = 1 << 8  // WBRAWA
)

// PABits reads ID_AA64MMFR0_EL1.PARange and returns the physical address
// width it encodes. It returns ErrUnsupported for a PARange encoding this
// core does not recognize.
func PABits() (int, error) {
	parange := sysreg.ReadIDAA64MMFR0EL1() & 0xf

	switch parange {
	case 0:
		return 32, nil
	case 1:
		return 36, nil
	case 2:
		return 40, nil
	case 3:
		return 42, nil
	case 4:
		return 44, nil
	case 5:
		return 48, nil
	case 6:
		return 52, nil
	default:
		return 0, fmt.Errorf("ID_AA64MMFR0_EL1.PARange=%d: %w", parange, hverr.ErrUnsupported)
	}
}

// MaxGuestPageTableLevels returns 4 if paBits >= 44, else 3.
func MaxGuestPageTableLevels(paBits int) int {
	if paBits >= 44 {
		return 4
	}

	return 3
}

func rowFor(paBits int) (vtcrRow, error) {
	var best *vtcrRow

	for i := range vtcrTable {
		row := &vtcrTable[i]
		if paBits >= row.minPABits {
			best = row
		}
	}

	if best == nil {
		return vtcrRow{}, fmt.Errorf("PA bits=%d below minimum supported (32): %w", paBits, hverr.ErrUnsupported)
	}

	return *best, nil
}

// ComputeVTCR builds the VTCR_EL2 value for a 4KB-granule, inner-shareable,
// write-back stage-2 table sized for the given probed PA-bit width.
func ComputeVTCR(paBits int) (uint64, error) {
	row, err := rowFor(paBits)
	if err != nil {
		return 0, err
	}

	v := row.t0sz | row.sl0<<6 | vtcrIRGN0WBWA | vtcrORGN0WBWA | vtcrSH0Inner | vtcrTG0Bits | row.ps<<16

	return v, nil
}
