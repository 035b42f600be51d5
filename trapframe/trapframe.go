// Package trapframe defines the fixed-layout guest register snapshot shared
// between Go and the hand-written EL2 assembly in the vectors package.
//
// The layout is part of the ABI: assembly addresses every field of TrapFrame
// by raw byte offset, and the field immediately after TrapFrame inside VCPU
// (HostStackTop, see the vcpu package) must land at offset 272. Nothing here
// may be reordered without touching vectors/vectors_arm64.s as well.
package trapframe

import "unsafe"

// TrapFrame is the 34-slot, 272-byte guest register save area: x0..x30,
// the guest's SP_EL0, ELR_EL2 (return PC) and SPSR_EL2 (saved PSTATE).
//
// It is created zeroed on vCPU construction and from then on mutated only
// by: the save-on-exit path (assembly), the classifier when advancing past
// a trapped instruction, and SetGPR/SetEntry/SetReturnValue while the vCPU
// is not running.
type TrapFrame struct {
	Regs  [31]uint64 // x0..x30
	SPEL0 uint64     // guest's SP_EL0
	ELR   uint64     // ELR_EL2: PC to resume at on ERET
	SPSR  uint64     // SPSR_EL2: saved PSTATE for ERET
}

// NumRegs is the number of general-purpose registers saved, x0..x30.
const NumRegs = 31

// Size is sizeof(TrapFrame) in bytes, and must equal 34*8 per the ABI.
const Size = NumRegs*8 + 8 + 8 + 8

// Compile-time layout assertions: a negative array length fails to
// compile, so these only typecheck when the equality holds. Each field's offset is pinned individually so a future
// reordering of the struct fails here instead of corrupting the asm ABI.
var (
	_ [unsafe.Sizeof(TrapFrame{}) - Size]byte
	_ [Size - unsafe.Sizeof(TrapFrame{})]byte

	_ [unsafe.Offsetof(TrapFrame{}.Regs) - 0]byte
	_ [unsafe.Offsetof(TrapFrame{}.SPEL0) - 31*8]byte
	_ [unsafe.Offsetof(TrapFrame{}.ELR) - 32*8]byte
	_ [unsafe.Offsetof(TrapFrame{}.SPSR) - 33*8]byte
)

// GPR returns the value of guest register xN, 0 <= n <= 30.
func (f *TrapFrame) GPR(n int) uint64 {
	return f.Regs[n]
}

// SetGPR sets guest register xN, 0 <= n <= 30.
func (f *TrapFrame) SetGPR(n int, v uint64) {
	f.Regs[n] = v
}
