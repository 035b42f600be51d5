package sysreg

// GuestSystemRegisters is the flat bank of EL1/EL2-for-guest control
// registers swapped across every world switch. Each field has
// exactly one owner (its vCPU) and is touched by exactly two operations:
// Restore, before ERET into the guest, and Store, right after exit.
type GuestSystemRegisters struct {
	SCTLREL1   uint64
	CNTVOFFEL2 uint64
	CNTKCTLEL1 uint64
	CNTHCTLEL2 uint64
	PMCREL0    uint64
	HCREL2     uint64
	VTCREL2    uint64
	VTTBREL2   uint64
	VMPIDREL2  uint64
	SPEL0      uint64
}

// Restore writes every field of the bank into hardware, in preparation for
// an ERET into the guest.
func (b *GuestSystemRegisters) Restore() {
	writeSCTLREL1(b.SCTLREL1)
	writeCNTVOFFEL2(b.CNTVOFFEL2)
	writeCNTKCTLEL1(b.CNTKCTLEL1)
	writeCNTHCTLEL2(b.CNTHCTLEL2)
	writePMCREL0(b.PMCREL0)
	writeHCREL2(b.HCREL2)
	writeVTCREL2(b.VTCREL2)
	writeVTTBREL2(b.VTTBREL2)
	writeVMPIDREL2(b.VMPIDREL2)
	writeSPEL0(b.SPEL0)
}

// Store reads every field of the bank back from hardware, right after a
// guest exit.
func (b *GuestSystemRegisters) Store() {
	b.SCTLREL1 = readSCTLREL1()
	b.CNTVOFFEL2 = readCNTVOFFEL2()
	b.CNTKCTLEL1 = readCNTKCTLEL1()
	b.CNTHCTLEL2 = readCNTHCTLEL2()
	b.PMCREL0 = readPMCREL0()
	b.HCREL2 = readHCREL2()
	b.VTCREL2 = readVTCREL2()
	b.VTTBREL2 = readVTTBREL2()
	b.VMPIDREL2 = readVMPIDREL2()
	b.SPEL0 = readSPEL0()
}

// Defaults for SetupConfig.

const (
	// defaultSCTLREL1 is the architectural reset-like default the vCPU
	// façade programs into SCTLR_EL1 on Setup.
	defaultSCTLREL1 = 0x30C5_0830

	// EL1PCEN and EL1PCTEN gate the guest's EL1 access to the physical
	// timer/counter, set in CNTHCTL_EL2 when timer passthrough is
	// enabled.
	el1PCEN  = 1 << 1
	el1PCTEN = 1 << 0
)

// DefaultSCTLREL1 exposes defaultSCTLREL1 for callers assembling a bank by
// hand (the vcpu package's Setup uses it directly).
func DefaultSCTLREL1() uint64 { return defaultSCTLREL1 }

// CNTHCTLPassthroughTimer returns the CNTHCTL_EL2 value for a guest that is
// allowed direct EL1 access to the physical counter/timer.
func CNTHCTLPassthroughTimer() uint64 { return el1PCEN | el1PCTEN }
