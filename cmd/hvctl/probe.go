package hvctl

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/arch/arm64/arm64asm"

	"github.com/bobuhiro11/arm64hv/pcpu"
)

// ProbeCmd reports this core's virtualization capabilities: the probed
// physical address range from ID_AA64MMFR0_EL1, and the stage-2 page
// table level count and VTCR_EL2 value that implies.
type ProbeCmd struct {
	DisasmHex string `help:"Hex-encoded 4-byte AArch64 instruction to disassemble, e.g. copied from a fatal-exit ELR dump." optional:""`
}

// Run implements the probe subcommand.
func (p *ProbeCmd) Run() error {
	paBits, err := pcpu.PABits()
	if err != nil {
		return err
	}

	levels := pcpu.MaxGuestPageTableLevels(paBits)

	vtcr, err := pcpu.ComputeVTCR(paBits)
	if err != nil {
		return err
	}

	fmt.Printf("PA range:            %d bits\n", paBits)
	fmt.Printf("stage-2 levels:      %d\n", levels)
	fmt.Printf("VTCR_EL2 (computed): %#016x\n", vtcr)

	if p.DisasmHex != "" {
		return p.disasm()
	}

	return nil
}

// disasm decodes a single AArch64 instruction the operator pasted in.
// It takes raw bytes rather than reading guest memory directly, since
// this engine owns no memory-management interface: the operator is
// expected to have captured the bytes from a fatal-exit diagnostic dump.
func (p *ProbeCmd) disasm() error {
	b, err := hex.DecodeString(p.DisasmHex)
	if err != nil {
		return fmt.Errorf("decoding --disasm-hex: %w", err)
	}

	inst, err := arm64asm.Decode(b)
	if err != nil {
		return fmt.Errorf("disassembling %x: %w", b, err)
	}

	fmt.Printf("instruction: %s\n", arm64asm.GNUSyntax(inst))

	return nil
}
