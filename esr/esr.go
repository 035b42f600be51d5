// Package esr decodes ESR_EL2, the Exception Syndrome Register, into the
// fields the exit classifier needs. Every function here is a pure query
// over a raw ESR value taken at exception entry; none of them read
// hardware themselves and none of them mutate their input.
package esr

import (
	"fmt"

	"github.com/bobuhiro11/arm64hv/hverr"
)

// Class is the EC field of ESR_EL2, the 6-bit exception class.
type Class uint8

// Exception classes the classifier cares about. Anything else is a
// recognized-but-unhandled EC and is fatal per the classifier's policy.
const (
	ClassDataAbortLowerEL Class = 0x24
	ClassHVC64            Class = 0x16
	ClassTrappedMsrMrs    Class = 0x18
)

func (c Class) String() string {
	switch c {
	case ClassDataAbortLowerEL:
		return "DataAbortLowerEL"
	case ClassHVC64:
		return "HVC64"
	case ClassTrappedMsrMrs:
		return "TrappedMsrMrs"
	default:
		return fmt.Sprintf("EC(0x%02x)", uint8(c))
	}
}

// ESR wraps a raw ESR_EL2 value and exposes its decoded fields.
type ESR uint64

// ExceptionClass returns the EC field (bits 31:26).
func (e ESR) ExceptionClass() Class {
	return Class((e >> 26) & 0x3f)
}

// instructionLength reports ESR.IL (bit 25): true if the trapped
// instruction was 4 bytes, false if 2 (a Thumb/AArch32 form; in practice
// always true for the AArch64-only guests this core supports, but decoded
// faithfully regardless).
func (e ESR) instructionLength() bool {
	return (e>>25)&1 == 1
}

// NextInstructionStep returns the number of bytes to advance ELR by to
// skip the trapped instruction: 4 if ESR.IL=1, else 2.
func (e ESR) NextInstructionStep() uint64 {
	if e.instructionLength() {
		return 4
	}

	return 2
}

func (e ESR) iss() uint64 {
	return uint64(e) & 0x01ff_ffff
}

// FaultAddr concatenates HPFAR_EL2[43:4] (IPA bits [51:12]) with
// FAR_EL2[11:0] to recover the guest-physical address of a data abort. It
// fails with ErrIllFormed on any ESR that is not a data abort.
func (e ESR) FaultAddr(hpfarEL2, farEL2 uint64) (uint64, error) {
	if e.ExceptionClass() != ClassDataAbortLowerEL {
		return 0, fmt.Errorf("FaultAddr on EC=%s: %w", e.ExceptionClass(), hverr.ErrIllFormed)
	}

	ipaHigh := (hpfarEL2 >> 4) & 0xff_ffff_ffff // HPFAR_EL2[43:4] -> IPA[51:12]
	ipaLow := farEL2 & 0xfff                    // FAR_EL2[11:0] -> IPA[11:0]

	return (ipaHigh << 12) | ipaLow, nil
}

// DataAbort is the decoded ISS of a lower-EL data-abort ESR (EC=0x24).
type DataAbort struct {
	ISV      bool  // instruction-syndrome valid; false means the core cannot emulate this abort
	Width    int   // access width in bytes, valid only if ISV
	WnR      bool  // true: write, false: read
	Reg      int   // SRT: source/destination GPR index
	RegWidth int   // 8 if SF=1 (64-bit register), else 4
	SignExt  bool  // SSE: sign-extend on load
	DFSC     uint8 // data fault status code, ISS[5:0]
}

// IsTranslationFault reports whether DFSC encodes a translation fault
// (DFSC in 0b0001xx).
func (d DataAbort) IsTranslationFault() bool {
	return d.DFSC&0b111100 == 0b000100
}

// IsPermissionFault reports whether DFSC encodes a permission fault (DFSC
// in 0b0011xx).
func (d DataAbort) IsPermissionFault() bool {
	return d.DFSC&0b111100 == 0b001100
}

// DecodeDataAbort decodes the ISS of a data-abort ESR. It returns
// ErrIllFormed if e is not a data abort, and ErrInvalidInput if ISV is set
// but SAS encodes a width outside {1,2,4,8}.
func (e ESR) DecodeDataAbort() (DataAbort, error) {
	if e.ExceptionClass() != ClassDataAbortLowerEL {
		return DataAbort{}, fmt.Errorf("DecodeDataAbort on EC=%s: %w", e.ExceptionClass(), hverr.ErrIllFormed)
	}

	iss := e.iss()

	d := DataAbort{
		ISV:     (iss>>24)&1 == 1,
		WnR:     (iss>>6)&1 == 1,
		Reg:     int((iss >> 16) & 0x1f),
		SignExt: (iss>>21)&1 == 1,
		DFSC:    uint8(iss & 0x3f),
	}

	if (iss>>15)&1 == 1 {
		d.RegWidth = 8
	} else {
		d.RegWidth = 4
	}

	if !d.ISV {
		return d, nil
	}

	switch sas := (iss >> 22) & 0x3; sas {
	case 0:
		d.Width = 1
	case 1:
		d.Width = 2
	case 2:
		d.Width = 4
	case 3:
		d.Width = 8
	default:
		return d, fmt.Errorf("SAS=%d: %w", sas, hverr.ErrInvalidInput)
	}

	return d, nil
}

// SysRegAddr canonically identifies a trapped MSR/MRS target register by
// its ESR.ISS op0/op1/op2/CRn/CRm fields, independent of access direction.
type SysRegAddr struct {
	Op0, Op1, Op2 uint8
	CRn, CRm      uint8
}

// String renders the canonical "S<op0>_<op1>_C<CRn>_C<CRm>_<op2>" form
// used by the AArch64 assembler's generic system-register syntax.
func (a SysRegAddr) String() string {
	return fmt.Sprintf("S%d_%d_C%d_C%d_%d", a.Op0, a.Op1, a.CRn, a.CRm, a.Op2)
}

// SysRegTrap is the decoded ISS of a trapped MSR/MRS ESR (EC=0x18).
type SysRegTrap struct {
	Addr   SysRegAddr
	Reg    int  // Rt: GPR index to read from (MSR) or write to (MRS)
	IsRead bool // direction bit: true for MRS, false for MSR
}

// DecodeSysRegTrap decodes the ISS of a trapped-MSR/MRS ESR. It returns
// ErrIllFormed if e is not EC=0x18.
func (e ESR) DecodeSysRegTrap() (SysRegTrap, error) {
	if e.ExceptionClass() != ClassTrappedMsrMrs {
		return SysRegTrap{}, fmt.Errorf("DecodeSysRegTrap on EC=%s: %w", e.ExceptionClass(), hverr.ErrIllFormed)
	}

	iss := e.iss()

	return SysRegTrap{
		Addr: SysRegAddr{
			Op0: uint8((iss >> 20) & 0x3),
			Op2: uint8((iss >> 17) & 0x7),
			Op1: uint8((iss >> 14) & 0x7),
			CRn: uint8((iss >> 10) & 0xf),
			CRm: uint8((iss >> 1) & 0xf),
		},
		Reg:    int((iss >> 5) & 0x1f),
		IsRead: iss&1 == 1,
	}, nil
}
