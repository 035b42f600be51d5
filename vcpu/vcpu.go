// Package vcpu is the facade the host actually drives: one VCPU per
// guest virtual core, owning its TrapFrame, its GuestSystemRegisters bank,
// and the stage-2 configuration it runs under.
package vcpu

import (
	"errors"
	"fmt"
	"reflect"
	"unsafe"

	"github.com/bobuhiro11/arm64hv/esr"
	"github.com/bobuhiro11/arm64hv/exit"
	"github.com/bobuhiro11/arm64hv/hverr"
	"github.com/bobuhiro11/arm64hv/pcpu"
	"github.com/bobuhiro11/arm64hv/sysreg"
	"github.com/bobuhiro11/arm64hv/trapframe"
	"github.com/bobuhiro11/arm64hv/vectors"
)

// guestPhysAddrMask keeps VTTBR_EL2's VMID field (bits 63:48) from
// bleeding into the baddr field when a caller hands in an already-shifted
// or otherwise dirty address.
const guestPhysAddrMask = 0x0000_FFFF_FFFF_FFFF

// spsrEL1hDAIFMasked is EL1h (M[3:0]=0b0101) with D, A, I, F all masked
// (bits 9:6 set), the fixed SPSR_EL2 value every guest entry uses.
const spsrEL1hDAIFMasked = 0x3C5

// InterruptController is the engine's narrow view of the external virtual
// interrupt controller collaborator. The GIC model itself lives outside
// this engine; InjectInterrupt only forwards the vector to it.
type InterruptController interface {
	Inject(vector uint32) error
}

// Config configures a new VCPU: its MPIDR_EL1 affinity value as presented
// to the guest, and the guest-visible DTB address, preloaded into the
// guest's x0 per the AArch64 Linux boot protocol (opaque to this engine
// beyond that).
type Config struct {
	MPIDREL1 uint64
	DTBAddr  uint64
}

// SetupConfig configures Setup's interrupt/timer passthrough policy.
type SetupConfig struct {
	PassthroughInterrupt bool
	PassthroughTimer     bool
}

// VCPU is one guest virtual core. TrapFrame must remain its first field,
// and HostStackTop must remain immediately after it at byte offset
// trapframe.Size: vectors.RunGuest's assembly addresses both by that raw
// offset, independent of anything declared below them.
type VCPU struct {
	TrapFrame    trapframe.TrapFrame
	HostStackTop uint64

	sysregs sysreg.GuestSystemRegisters
	dtbAddr uint64

	paBits   int
	ptLevels int

	eptRoot uint64
	vmid    uint16
	pcpu    *pcpu.PerCPU
	intc    InterruptController

	setupDone      bool
	currentCPUDone bool
	running        bool
}

var (
	_ [unsafe.Offsetof(VCPU{}.TrapFrame) - 0]byte
	_ [unsafe.Offsetof(VCPU{}.HostStackTop) - trapframe.Size]byte
)

// New constructs a VCPU with a zeroed trap frame except for x0, which is
// preloaded with cfg.DTBAddr. VMPIDR_EL2 is derived from cfg.MPIDREL1 as
// (1<<31) | mpidr, bit 31 being the architecturally required RES1 marker.
// New probes ID_AA64MMFR0_EL1.PARange up front so the stage-2 geometry is
// fixed for the vCPU's lifetime; an unrecognized PARange encoding is
// ErrUnsupported.
func New(cfg Config) (*VCPU, error) {
	paBits, err := pcpu.PABits()
	if err != nil {
		return nil, err
	}

	v := &VCPU{
		dtbAddr:  cfg.DTBAddr,
		paBits:   paBits,
		ptLevels: pcpu.MaxGuestPageTableLevels(paBits),
	}
	v.TrapFrame.SetGPR(0, cfg.DTBAddr)
	v.sysregs.VMPIDREL2 = (uint64(1) << 31) | cfg.MPIDREL1

	return v, nil
}

// PABits returns the physical-address width probed at construction.
func (v *VCPU) PABits() int { return v.paBits }

// PageTableLevels returns the stage-2 page-table level count chosen at
// construction from the probed PA width.
func (v *VCPU) PageTableLevels() int { return v.ptLevels }

// Setup programs the guest system-register bank with its architectural
// defaults and fixes the guest-entry SPSR to EL1h with D/A/I/F masked. It
// may be called only once.
func (v *VCPU) Setup(cfg SetupConfig) error {
	if v.setupDone {
		return fmt.Errorf("vcpu already set up: %w", hverr.ErrAlreadyEnabled)
	}

	v.sysregs.SCTLREL1 = sysreg.DefaultSCTLREL1()
	v.sysregs.CNTVOFFEL2 = 0
	v.sysregs.CNTKCTLEL1 = 0

	if cfg.PassthroughTimer {
		v.sysregs.CNTHCTLEL2 = sysreg.CNTHCTLPassthroughTimer()
	} else {
		v.sysregs.CNTHCTLEL2 = 0
	}

	v.sysregs.PMCREL0 = 0
	v.sysregs.HCREL2 = pcpu.HCRBits(cfg.PassthroughInterrupt)
	v.sysregs.SPEL0 = 0

	v.TrapFrame.SPSR = spsrEL1hDAIFMasked
	v.setupDone = true

	return nil
}

// SetInterruptController registers the external interrupt controller
// collaborator InjectInterrupt delegates to.
func (v *VCPU) SetInterruptController(ic InterruptController) {
	v.intc = ic
}

// SetEntry sets ELR_EL2, the guest program counter the next Run resumes
// at. Valid only while the vCPU is not running.
func (v *VCPU) SetEntry(gpa uint64) error {
	if v.running {
		return fmt.Errorf("SetEntry while running: %w", hverr.ErrInvalidInput)
	}

	v.TrapFrame.ELR = gpa

	return nil
}

// SetEPTRoot records the stage-2 table root (a host-physical address) and
// updates the bank's VTTBR_EL2 value, with VMID packed into bits 63:48; the
// hardware register is written by the next Run's Restore. It runs the
// stage-2 TLBI/ISB sequence (dsb ishst; tlbi vmalls12e1is; dsb ish; isb)
// since the root is changing under a potentially already-configured VMID.
func (v *VCPU) SetEPTRoot(hpa uint64) error {
	if v.running {
		return fmt.Errorf("SetEPTRoot while running: %w", hverr.ErrInvalidInput)
	}

	v.eptRoot = hpa & guestPhysAddrMask
	v.sysregs.VTTBREL2 = (uint64(v.vmid) << 48) | v.eptRoot
	sysreg.TLBIStage2AndISB()

	return nil
}

// SetupCurrentCPU binds this vCPU to a physical core, computes VTCR_EL2
// from the PA width probed at construction, and assigns vmid. It must be
// called once before the first Run on any given physical core; it too
// runs the stage-2 TLBI/ISB sequence.
func (v *VCPU) SetupCurrentCPU(p *pcpu.PerCPU, vmid uint16) error {
	if v.running {
		return fmt.Errorf("SetupCurrentCPU while running: %w", hverr.ErrInvalidInput)
	}

	if p == nil {
		return fmt.Errorf("nil PerCPU: %w", hverr.ErrInvalidInput)
	}

	vtcr, err := pcpu.ComputeVTCR(v.paBits)
	if err != nil {
		return err
	}

	v.pcpu = p
	v.vmid = vmid
	v.sysregs.VTCREL2 = vtcr
	v.sysregs.VTTBREL2 = (uint64(vmid) << 48) | v.eptRoot

	sysreg.TLBIStage2AndISB()

	v.currentCPUDone = true

	return nil
}

// SetGPR sets guest register xN, 0 <= n <= 30. Valid only while the vCPU
// is not running.
func (v *VCPU) SetGPR(n int, val uint64) error {
	if v.running {
		return fmt.Errorf("SetGPR while running: %w", hverr.ErrInvalidInput)
	}

	if n < 0 || n > trapframe.NumRegs-1 {
		return fmt.Errorf("register index %d out of range: %w", n, hverr.ErrInvalidInput)
	}

	v.TrapFrame.SetGPR(n, val)

	return nil
}

// SetReturnValue sets x0, where the guest expects the result of an
// emulated MMIO read or hypercall before it is resumed.
func (v *VCPU) SetReturnValue(val uint64) error {
	return v.SetGPR(0, val)
}

// InjectInterrupt forwards vector to the registered interrupt controller
// collaborator. It fails with ErrUnsupported if none was registered.
func (v *VCPU) InjectInterrupt(vector uint32) error {
	if v.intc == nil {
		return fmt.Errorf("no interrupt controller registered: %w", hverr.ErrUnsupported)
	}

	return v.intc.Inject(vector)
}

// Run executes one RunGuest/trap round trip and returns the classified
// exit reason. Setup and SetupCurrentCPU must have been called first, and
// Run must not be called again (from any goroutine) until the previous
// call on this vCPU has returned.
//
// A trap the classifier cannot hand back to the host -- an unrecognized
// exception class, a data abort without a valid instruction syndrome, or
// a FIQ/SError from the guest -- panics with the full register diagnostic
// rather than returning: there is no state the guest could safely be
// resumed in.
func (v *VCPU) Run() (exit.Reason, error) {
	if !v.setupDone || !v.currentCPUDone || v.pcpu == nil {
		return exit.Reason{}, fmt.Errorf("vcpu not fully configured: %w", hverr.ErrInvalidInput)
	}

	if v.running {
		return exit.Reason{}, fmt.Errorf("Run reentered: %w", hverr.ErrInvalidInput)
	}

	v.running = true
	defer func() { v.running = false }()

	v.pcpu.SaveHostSPEL0()
	v.sysregs.Restore()
	sysreg.InvalidateAllAndISB()

	kind := vectors.RunGuest(&v.TrapFrame, v.pcpu.ExitContext())

	v.sysregs.Store()
	v.TrapFrame.SPEL0 = v.sysregs.SPEL0
	v.pcpu.RestoreHostSPEL0()

	if ctx := v.pcpu.ExitContext(); ctx.Running != 0 {
		panic("vcpu: exit trampoline returned with the running flag still set")
	}

	esrVal := sysreg.ReadESREL2()
	farVal := sysreg.ReadFAREL2()
	hpfarVal := sysreg.ReadHPFAREL2()

	if kind == vectors.Fatal {
		panic(v.fatalDiagnostic("FIQ or SError taken from the guest", esrVal, farVal, hpfarVal))
	}

	trapKind := exit.Synchronous
	if kind == vectors.IRQ {
		trapKind = exit.Irq
	}

	reason, err := exit.Classify(trapKind, esr.ESR(esrVal), &v.TrapFrame, hpfarVal, farVal)

	var fe *exit.FatalError
	if errors.As(err, &fe) {
		panic(v.fatalDiagnostic(fe.Error(), esrVal, farVal, hpfarVal))
	}

	return reason, err
}

// fatalDiagnostic formats the full dump for a trap nothing can resume
// from: the syndrome and fault-address registers, the guest's control and
// stage-2 registers as latched at exit, and every trap-frame slot.
func (v *VCPU) fatalDiagnostic(cause string, esrVal, farVal, hpfarVal uint64) string {
	return fmt.Sprintf(
		"fatal guest trap: %s\n"+
			"  class=%s pc=%#016x\n"+
			"  esr=%#016x far=%#016x hpfar=%#016x\n"+
			"  sctlr_el1=%#016x hcr_el2=%#016x\n"+
			"  vttbr_el2=%#016x vtcr_el2=%#016x\n%s",
		cause,
		esr.ESR(esrVal).ExceptionClass(), v.TrapFrame.ELR,
		esrVal, farVal, hpfarVal,
		v.sysregs.SCTLREL1, v.sysregs.HCREL2,
		v.sysregs.VTTBREL2, v.sysregs.VTCREL2,
		dumpFrame(&v.TrapFrame),
	)
}

// dumpFrame renders every slot of a TrapFrame as "name = 0x...", walking
// the struct by reflection so the dump can never drift from the layout.
func dumpFrame(tf *trapframe.TrapFrame) string {
	var out string

	s := reflect.ValueOf(tf).Elem()
	t := s.Type()

	for i := 0; i < s.NumField(); i++ {
		f := s.Field(i)
		if f.Kind() == reflect.Array {
			for j := 0; j < f.Len(); j++ {
				out += fmt.Sprintf("  x%-2d = %#016x\n", j, f.Index(j).Uint())
			}

			continue
		}

		out += fmt.Sprintf("  %s %s = %#016x\n", t.Field(i).Name, f.Type(), f.Uint())
	}

	return out
}
