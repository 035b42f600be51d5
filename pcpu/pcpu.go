// Package pcpu implements the per-CPU virtualization lifecycle
// controller: enabling/disabling the EL2 virtualization controls and swapping
// the EL2 exception vector. One PerCPU is constructed per physical core
// and is not safe to share across cores.
package pcpu

import (
	"unsafe"

	"github.com/bobuhiro11/arm64hv/hverr"
	"github.com/bobuhiro11/arm64hv/sysreg"
	"github.com/bobuhiro11/arm64hv/vectors"
)

// IRQHandler is the host-provided callback invoked when a physical IRQ
// fires while no guest is running on this CPU.
type IRQHandler func()

// HCR_EL2 bits this controller owns.
const (
	hcrVM  = 1 << 0  // virtualization MMU enable
	hcrRW  = 1 << 31 // EL1 execution state is AArch64
	hcrTSC = 1 << 19 // trap EL1 SMC to EL2
	hcrIMO = 1 << 4  // physical IRQ routed to EL2
	hcrFMO = 1 << 3  // physical FIQ routed to EL2
)

// PerCPU holds the saved host VBAR_EL2 and the one-shot IRQ-handler slot
// for one physical core.
type PerCPU struct {
	cpuID int

	enabled          bool
	originalVBAREL2  uint64
	originalHCREL2   uint64
	originalTPIDREL2 uint64

	// hostSPEL0 is the host's SP_EL0 (its current-task pointer on Linux
	// hosts), parked here for the duration of each vcpu.Run.
	hostSPEL0 uint64

	// exitCtx is referenced from Go so the garbage collector never
	// reclaims it while TPIDR_EL2 points at it from assembly the GC
	// cannot see (vectors.runGuestRestoreCommon).
	exitCtx *vectors.ExitContext

	irqHandler    IRQHandler
	irqHandlerSet bool
}

// ExitContext returns the per-CPU exit-context block vectors.RunGuest
// expects as its second argument. Valid only after HardwareEnable.
func (p *PerCPU) ExitContext() *vectors.ExitContext { return p.exitCtx }

// New constructs a PerCPU for the given physical core, initializing the
// IRQ-handler slot with the host-provided closure (nil means the host
// wants physical IRQs taken outside a guest to be dropped). The core is
// not virtualization-enabled until HardwareEnable is called.
func New(cpuID int, irq IRQHandler) *PerCPU {
	return &PerCPU{
		cpuID:         cpuID,
		irqHandler:    irq,
		irqHandlerSet: irq != nil,
	}
}

// CPUID returns the physical core ID this PerCPU was constructed for.
func (p *PerCPU) CPUID() int { return p.cpuID }

// SetIRQHandler installs the host's IRQ-acknowledgement callback. It is
// one-shot: calling it a second time (or after New installed a handler)
// returns ErrAlreadyEnabled without replacing the handler.
func (p *PerCPU) SetIRQHandler(h IRQHandler) error {
	if p.irqHandlerSet {
		return hverr.ErrAlreadyEnabled
	}

	p.irqHandler = h
	p.irqHandlerSet = true

	return nil
}

// DispatchIRQ invokes the installed IRQ handler, or does nothing if none
// was installed. The vector table's current-EL IRQ stub reaches it, via
// vectors.ExitContext, for any physical IRQ taken while no guest was
// running; a panic here terminates the hypervisor.
func (p *PerCPU) DispatchIRQ() {
	if p.irqHandler != nil {
		p.irqHandler()
	}
}

// IsEnabled reports HCR_EL2.VM.
func (p *PerCPU) IsEnabled() bool {
	return sysreg.ReadHCREL2()&hcrVM != 0
}

// HardwareEnable snapshots VBAR_EL2, installs vectorBase as the new EL2
// vector table, and programs HCR_EL2 with VM=1, RW=EL1-is-AArch64, TSC=1,
// plus IMO/FMO when passthroughInterrupt is false. It fails
// with ErrAlreadyEnabled if called twice without an intervening
// HardwareDisable.
func (p *PerCPU) HardwareEnable(vectorBase uintptr, passthroughInterrupt bool) error {
	if p.enabled {
		return hverr.ErrAlreadyEnabled
	}

	p.originalVBAREL2 = sysreg.ReadVBAREL2()
	sysreg.WriteVBAREL2(uint64(vectorBase))

	p.originalTPIDREL2 = sysreg.ReadTPIDREL2()
	p.exitCtx = &vectors.ExitContext{IRQ: p.DispatchIRQ}
	sysreg.WriteTPIDREL2(uint64(uintptr(unsafe.Pointer(p.exitCtx))))

	p.originalHCREL2 = sysreg.ReadHCREL2()
	sysreg.WriteHCREL2(HCRBits(passthroughInterrupt))
	p.enabled = true

	return nil
}

// HCRBits returns the HCR_EL2 value this engine programs for
// passthroughInterrupt policy: VM|RW|TSC, plus IMO|FMO when
// passthroughInterrupt is false. Exported so vcpu.Setup computes the same
// value for its per-vCPU GuestSystemRegisters bank rather than
// duplicating the bit formula.
func HCRBits(passthroughInterrupt bool) uint64 {
	hcr := uint64(hcrVM | hcrRW | hcrTSC)
	if !passthroughInterrupt {
		hcr |= hcrIMO | hcrFMO
	}

	return hcr
}

// HardwareDisable restores the saved VBAR_EL2 and HCR_EL2 (clearing VM for
// any host that had it clear, which is every host this engine supports),
// and runs the maintenance sequence `ic iallu; tlbi alle2; tlbi alle1;
// dsb nsh; isb` so no stale guest translations or instructions survive
// into host execution. It fails with ErrNotEnabled if the core was never
// enabled. Enable/disable round-trips leave both registers bit-identical
// to their pre-enable values.
func (p *PerCPU) HardwareDisable() error {
	if !p.enabled {
		return hverr.ErrNotEnabled
	}

	sysreg.WriteVBAREL2(p.originalVBAREL2)
	sysreg.WriteTPIDREL2(p.originalTPIDREL2)
	sysreg.InvalidateAllAndISB()
	sysreg.WriteHCREL2(p.originalHCREL2)
	p.enabled = false
	p.exitCtx = nil

	return nil
}

// SaveHostSPEL0 parks the host's SP_EL0 in this core's slot before a
// guest entry overwrites it with the guest's value.
func (p *PerCPU) SaveHostSPEL0() {
	p.hostSPEL0 = sysreg.ReadSPEL0()
}

// RestoreHostSPEL0 writes the parked host SP_EL0 back after a guest exit.
func (p *PerCPU) RestoreHostSPEL0() {
	sysreg.WriteSPEL0(p.hostSPEL0)
}

// MaxGuestPageTableLevels returns 4 or 3 stage-2 page-table levels
// depending on the probed physical address range.
func (p *PerCPU) MaxGuestPageTableLevels() (int, error) {
	bits, err := PABits()
	if err != nil {
		return 0, err
	}

	return MaxGuestPageTableLevels(bits), nil
}
