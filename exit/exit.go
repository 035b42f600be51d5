// Package exit turns a trapped guest exception into a closed ExitReason
// the outer hypervisor acts on. Classify is the only entry point; it is a
// pure function of the trap kind, the ESR value latched at exit, the trap
// frame (read for GPR operands, mutated to advance ELR), and the
// fault-address registers.
package exit

import (
	"fmt"

	"github.com/bobuhiro11/arm64hv/esr"
	"github.com/bobuhiro11/arm64hv/hverr"
	"github.com/bobuhiro11/arm64hv/trapframe"
)

// TrapKind identifies which EL2 vector entry took the trap.
//
//go:generate stringer -type=TrapKind
type TrapKind int

const (
	Synchronous TrapKind = iota
	Irq
)

func (k TrapKind) String() string {
	switch k {
	case Synchronous:
		return "Synchronous"
	case Irq:
		return "Irq"
	default:
		return fmt.Sprintf("TrapKind(%d)", int(k))
	}
}

// Kind discriminates the variant carried by an ExitReason.
//
//go:generate stringer -type=Kind
type Kind int

const (
	Nothing Kind = iota
	Hypercall
	MmioRead
	MmioWrite
	SysRegRead
	SysRegWrite
	ExternalInterrupt
	CpuUp
	CpuDown
	SystemDown
	SendIPI
)

func (k Kind) String() string {
	switch k {
	case Nothing:
		return "Nothing"
	case Hypercall:
		return "Hypercall"
	case MmioRead:
		return "MmioRead"
	case MmioWrite:
		return "MmioWrite"
	case SysRegRead:
		return "SysRegRead"
	case SysRegWrite:
		return "SysRegWrite"
	case ExternalInterrupt:
		return "ExternalInterrupt"
	case CpuUp:
		return "CpuUp"
	case CpuDown:
		return "CpuDown"
	case SystemDown:
		return "SystemDown"
	case SendIPI:
		return "SendIPI"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Reason is the closed, flat tagged union of everything Classify can
// return. Only the fields relevant to Kind are meaningful; a single flat
// struct rather than an interface per variant, since every field is a
// plain scalar the host reads immediately on return.
type Reason struct {
	Kind Kind

	// Hypercall
	Nr   uint64
	Args [6]uint64

	// MmioRead / MmioWrite
	Addr     uint64
	Width    int
	Reg      int
	RegWidth int
	SignExt  bool
	Data     uint64

	// SysRegRead / SysRegWrite
	SysReg esr.SysRegAddr
	Value  uint64

	// CpuUp / CpuDown
	TargetCPU  uint64
	EntryPoint uint64
	Arg        uint64
	State      uint64

	// SendIPI
	TargetCPUAux uint64
	SendToAll    bool
	SendToSelf   bool
	Vector       uint8
}

// iccSGI1REL1 is S3_0_C12_C11_5, ICC_SGI1R_EL1.
var iccSGI1REL1 = esr.SysRegAddr{Op0: 3, Op1: 0, Op2: 5, CRn: 12, CRm: 11}

// FatalError reports a trap that cannot be handed back to the host as an
// ExitReason: an unrecognized exception class, or a data abort without a
// valid instruction syndrome (nothing short of fetching and decoding the
// guest instruction could emulate it, which this engine does not do). The
// vCPU facade turns it into a panic carrying the full register
// diagnostic; it is never surfaced as an ordinary error to resume from.
type FatalError struct {
	Class esr.Class
	ESR   uint64
	Addr  uint64 // faulting IPA when the trap carries one, else 0
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("unresumable trap: class=%s esr=%#016x ipa=%#016x", e.Class, e.ESR, e.Addr)
}

const (
	psci32Base = 0x8400_0000
	psci32Top  = 0x8400_001F
	psci64Base = 0xC400_0000
	psci64Top  = 0xC400_001F

	psciOffsetCPUOff    = 0x2
	psciOffsetCPUOn     = 0x3
	psciOffsetSystemOff = 0x8
)

// Classify turns a trapped guest exception into an ExitReason. ev is
// ESR_EL2, read promptly at exit before any other exception can occur;
// hpfarEL2/farEL2 are HPFAR_EL2/FAR_EL2 for data aborts. tf is the trap
// frame saved on this exit; Classify mutates tf.ELR to skip the trapped
// instruction for every handled synchronous exit except Hypercall, whose
// HVC has already advanced the PC in hardware.
func Classify(kind TrapKind, ev esr.ESR, tf *trapframe.TrapFrame, hpfarEL2, farEL2 uint64) (Reason, error) {
	if kind == Irq {
		return Reason{Kind: ExternalInterrupt}, nil
	}

	switch ev.ExceptionClass() {
	case esr.ClassDataAbortLowerEL:
		return classifyDataAbort(ev, tf, hpfarEL2, farEL2)
	case esr.ClassHVC64:
		return classifyHypercall(tf)
	case esr.ClassTrappedMsrMrs:
		return classifySysRegTrap(ev, tf)
	default:
		return Reason{}, &FatalError{Class: ev.ExceptionClass(), ESR: uint64(ev)}
	}
}

func classifyDataAbort(ev esr.ESR, tf *trapframe.TrapFrame, hpfarEL2, farEL2 uint64) (Reason, error) {
	d, err := ev.DecodeDataAbort()
	if err != nil {
		return Reason{}, err
	}

	if !d.ISV {
		addr, _ := ev.FaultAddr(hpfarEL2, farEL2)

		return Reason{}, &FatalError{Class: ev.ExceptionClass(), ESR: uint64(ev), Addr: addr}
	}

	if d.IsPermissionFault() && !d.IsTranslationFault() {
		return Reason{}, hverr.ErrUnsupported
	}

	addr, err := ev.FaultAddr(hpfarEL2, farEL2)
	if err != nil {
		return Reason{}, err
	}

	tf.ELR += ev.NextInstructionStep()

	if d.WnR {
		return Reason{
			Kind:  MmioWrite,
			Addr:  addr,
			Width: d.Width,
			Data:  tf.GPR(d.Reg),
		}, nil
	}

	return Reason{
		Kind:     MmioRead,
		Addr:     addr,
		Width:    d.Width,
		Reg:      d.Reg,
		RegWidth: d.RegWidth,
		SignExt:  d.SignExt,
	}, nil
}

func classifyHypercall(tf *trapframe.TrapFrame) (Reason, error) {
	nr := tf.GPR(0)

	var base uint64

	switch {
	case nr >= psci32Base && nr <= psci32Top:
		base = psci32Base
	case nr >= psci64Base && nr <= psci64Top:
		base = psci64Base
	default:
		var args [6]uint64
		for i := range args {
			args[i] = tf.GPR(i + 1)
		}

		return Reason{Kind: Hypercall, Nr: nr, Args: args}, nil
	}

	switch nr - base {
	case psciOffsetCPUOff:
		return Reason{Kind: CpuDown, State: tf.GPR(1)}, nil
	case psciOffsetCPUOn:
		return Reason{
			Kind:       CpuUp,
			TargetCPU:  tf.GPR(1),
			EntryPoint: tf.GPR(2),
			Arg:        tf.GPR(3),
		}, nil
	case psciOffsetSystemOff:
		return Reason{Kind: SystemDown}, nil
	default:
		return Reason{}, fmt.Errorf("psci function offset 0x%x: %w", nr-base, hverr.ErrUnsupported)
	}
}

func classifySysRegTrap(ev esr.ESR, tf *trapframe.TrapFrame) (Reason, error) {
	trap, err := ev.DecodeSysRegTrap()
	if err != nil {
		return Reason{}, err
	}

	tf.ELR += ev.NextInstructionStep()

	if trap.Addr == iccSGI1REL1 {
		if trap.IsRead {
			tf.SetGPR(trap.Reg, 0)

			return Reason{Kind: Nothing}, nil
		}

		return decodeSGI1R(tf.GPR(trap.Reg)), nil
	}

	if trap.IsRead {
		return Reason{Kind: SysRegRead, SysReg: trap.Addr, Reg: trap.Reg}, nil
	}

	return Reason{Kind: SysRegWrite, SysReg: trap.Addr, Value: tf.GPR(trap.Reg)}, nil
}

// decodeSGI1R decodes an ICC_SGI1R_EL1 write: IRM at bit 40, Aff3 at
// [55:48], Aff2 at [39:32], Aff1 at [23:16], INTID at [27:24], target list
// at [15:0].
func decodeSGI1R(v uint64) Reason {
	irm := (v>>40)&1 == 1
	aff3 := (v >> 48) & 0xff
	aff2 := (v >> 32) & 0xff
	aff1 := (v >> 16) & 0xff
	intid := uint8((v >> 24) & 0xf)
	targetList := v & 0xffff

	return Reason{
		Kind:         SendIPI,
		TargetCPU:    (aff3 << 24) | (aff2 << 16) | (aff1 << 8),
		TargetCPUAux: targetList,
		SendToAll:    irm,
		SendToSelf:   false,
		Vector:       intid,
	}
}
