// Package sysreg gives Go code access to the AArch64 EL2 system registers
// that Go's arm64 assembler has no built-in mnemonic for. Every accessor
// here is declared with no body in this file and implemented as a single
// MRS/MSR instruction in sysreg_arm64.s.
package sysreg

// readSCTLREL1/writeSCTLREL1 access SCTLR_EL1, the guest's EL1 system
// control register.
func readSCTLREL1() uint64   // implemented in sysreg_arm64.s
func writeSCTLREL1(v uint64) // implemented in sysreg_arm64.s

func readCNTVOFFEL2() uint64   // implemented in sysreg_arm64.s
func writeCNTVOFFEL2(v uint64) // implemented in sysreg_arm64.s
func readCNTKCTLEL1() uint64   // implemented in sysreg_arm64.s
func writeCNTKCTLEL1(v uint64) // implemented in sysreg_arm64.s
func readCNTHCTLEL2() uint64   // implemented in sysreg_arm64.s
func writeCNTHCTLEL2(v uint64) // implemented in sysreg_arm64.s
func readPMCREL0() uint64      // implemented in sysreg_arm64.s
func writePMCREL0(v uint64)    // implemented in sysreg_arm64.s

func readHCREL2() uint64   // implemented in sysreg_arm64.s
func writeHCREL2(v uint64) // implemented in sysreg_arm64.s

func readVTCREL2() uint64     // implemented in sysreg_arm64.s
func writeVTCREL2(v uint64)   // implemented in sysreg_arm64.s
func readVTTBREL2() uint64    // implemented in sysreg_arm64.s
func writeVTTBREL2(v uint64)  // implemented in sysreg_arm64.s
func readVMPIDREL2() uint64   // implemented in sysreg_arm64.s
func writeVMPIDREL2(v uint64) // implemented in sysreg_arm64.s

func readVBAREL2() uint64   // implemented in sysreg_arm64.s
func writeVBAREL2(v uint64) // implemented in sysreg_arm64.s

func readESREL2() uint64   // implemented in sysreg_arm64.s
func readFAREL2() uint64   // implemented in sysreg_arm64.s
func readHPFAREL2() uint64 // implemented in sysreg_arm64.s

func readIDAA64MMFR0EL1() uint64 // implemented in sysreg_arm64.s

func readSPEL0() uint64   // implemented in sysreg_arm64.s
func writeSPEL0(v uint64) // implemented in sysreg_arm64.s

func readTPIDREL2() uint64   // implemented in sysreg_arm64.s
func writeTPIDREL2(v uint64) // implemented in sysreg_arm64.s

// barrier/TLB maintenance primitives, also raw asm: no Go mnemonic covers
// these EL2-only forms either.
func dsbISHST() // implemented in sysreg_arm64.s
func dsbISH()   // implemented in sysreg_arm64.s
func dsbNSH()   // implemented in sysreg_arm64.s
func isb()      // implemented in sysreg_arm64.s

func tlbiVMALLS12E1IS() // implemented in sysreg_arm64.s
func icIALLU()          // implemented in sysreg_arm64.s
func tlbiALLE2()        // implemented in sysreg_arm64.s
func tlbiALLE1()        // implemented in sysreg_arm64.s

// HCREL2 read/write and VBAREL2 read/write are exported for the per-CPU
// controller (package pcpu), which needs to snapshot/restore them directly
// rather than through the guest system-register bank.

// ReadHCREL2 returns the current value of HCR_EL2.
func ReadHCREL2() uint64 { return readHCREL2() }

// WriteHCREL2 sets HCR_EL2.
func WriteHCREL2(v uint64) { writeHCREL2(v) }

// ReadVBAREL2 returns the current value of VBAR_EL2.
func ReadVBAREL2() uint64 { return readVBAREL2() }

// WriteVBAREL2 sets VBAR_EL2.
func WriteVBAREL2(v uint64) { writeVBAREL2(v) }

// ReadIDAA64MMFR0EL1 returns ID_AA64MMFR0_EL1, used to probe the physical
// address range this core supports.
func ReadIDAA64MMFR0EL1() uint64 { return readIDAA64MMFR0EL1() }

// ReadESREL2 returns ESR_EL2, the syndrome of the most recent exception
// taken to EL2. Valid only when read promptly after an exit, before any
// other exception occurs.
func ReadESREL2() uint64 { return readESREL2() }

// ReadFAREL2 returns FAR_EL2.
func ReadFAREL2() uint64 { return readFAREL2() }

// ReadHPFAREL2 returns HPFAR_EL2.
func ReadHPFAREL2() uint64 { return readHPFAREL2() }

// ReadSPEL0 returns SP_EL0, the host's current stack pointer at EL0 (used
// by the host OS as a current-task pointer on some hosts).
func ReadSPEL0() uint64 { return readSPEL0() }

// WriteSPEL0 sets SP_EL0.
func WriteSPEL0(v uint64) { writeSPEL0(v) }

// ReadTPIDREL2 returns TPIDR_EL2, the only register architecturally
// guaranteed to be both per-CPU and readable before any other context has
// been recovered. The exit trampoline (package vectors) uses it to locate
// this core's exit-context scratch block.
func ReadTPIDREL2() uint64 { return readTPIDREL2() }

// WriteTPIDREL2 sets TPIDR_EL2. Called once per core by pcpu.HardwareEnable.
func WriteTPIDREL2(v uint64) { writeTPIDREL2(v) }

// TLBIStage2AndISB issues the TLB maintenance sequence setup_current_cpu
// must run after writing VTTBR_EL2/VMID: dsb ishst; tlbi vmalls12e1is;
// dsb ish; isb.
func TLBIStage2AndISB() {
	dsbISHST()
	tlbiVMALLS12E1IS()
	dsbISH()
	isb()
}

// InvalidateAllAndISB issues the TLB/cache maintenance sequence run()
// performs before every ERET into the guest: ic iallu; tlbi alle2; tlbi
// alle1; dsb nsh; isb.
func InvalidateAllAndISB() {
	icIALLU()
	tlbiALLE2()
	tlbiALLE1()
	dsbNSH()
	isb()
}
