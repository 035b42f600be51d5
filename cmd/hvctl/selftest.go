package hvctl

import (
	"fmt"

	"github.com/pkg/profile"

	"github.com/bobuhiro11/arm64hv/esr"
	"github.com/bobuhiro11/arm64hv/exit"
	"github.com/bobuhiro11/arm64hv/hverr"
	"github.com/bobuhiro11/arm64hv/trapframe"
)

// SelftestCmd runs this engine's internal invariant sweep: the trap
// frame ABI layout, the ESR decode tables, the PSCI call windowing, and
// the SGI1R fast path, each printed ok/FAIL.
type SelftestCmd struct {
	Profile bool `help:"Wrap the sweep in a pprof CPU profile written to a temporary directory." default:"false"`
}

// Run implements the selftest subcommand.
func (s *SelftestCmd) Run() error {
	if s.Profile {
		stop := profile.Start(profile.CPUProfile)
		defer stop.Stop()
	}

	checks := []struct {
		name string
		fn   func() error
	}{
		{"trap frame ABI layout", checkTrapFrameLayout},
		{"ESR data-abort decode", checkDataAbortDecode},
		{"ESR sysreg-trap decode", checkSysRegTrapDecode},
		{"PSCI HVC windowing", checkPSCIWindowing},
		{"SGI1R decode", checkSGI1RDecode},
	}

	for _, c := range checks {
		if err := c.fn(); err != nil {
			fmt.Printf("FAIL %-28s %v\n", c.name, err)

			return err
		}

		fmt.Printf("ok   %s\n", c.name)
	}

	return nil
}

func checkTrapFrameLayout() error {
	if trapframe.Size != 272 {
		return fmt.Errorf("trap frame size %d, want 272: %w", trapframe.Size, hverr.ErrInvalidInput)
	}

	return nil
}

// checkDataAbortDecode replays a representative MMIO read: a 4-byte load
// into x3 faulting at IPA 0xFEC0_1000.
func checkDataAbortDecode() error {
	const (
		ec  = uint64(0x24) << 26
		il  = uint64(1) << 25
		isv = uint64(1) << 24
		sas = uint64(2) << 22 // 4 bytes
		srt = uint64(3) << 16 // x3
		sf  = uint64(1) << 15
	)

	ev := esr.ESR(ec | il | isv | sas | srt | sf)

	d, err := ev.DecodeDataAbort()
	if err != nil {
		return err
	}

	if !d.ISV || d.Width != 4 || d.Reg != 3 || d.WnR {
		return fmt.Errorf("decoded %+v unexpectedly: %w", d, hverr.ErrInvalidInput)
	}

	addr, err := ev.FaultAddr(0xfec01<<4, 0x000) //nolint:gomnd
	if err != nil {
		return err
	}

	if addr != 0xfec0_1000 {
		return fmt.Errorf("FaultAddr = %#x, want 0xfec01000: %w", addr, hverr.ErrInvalidInput)
	}

	return nil
}

// checkSysRegTrapDecode verifies a trapped MRS of MIDR_EL1
// (S3_0_C0_C0_0) into x5 round-trips through DecodeSysRegTrap.
func checkSysRegTrapDecode() error {
	const (
		ec = uint64(0x18) << 26
		il = uint64(1) << 25

		op0 = uint64(3) << 20
		op2 = uint64(0) << 17
		op1 = uint64(0) << 14
		crn = uint64(0) << 10
		crm = uint64(0) << 1
		rt  = uint64(5) << 5
		dir = uint64(1) // MRS
	)

	ev := esr.ESR(ec | il | op0 | op2 | op1 | crn | crm | rt | dir)

	trap, err := ev.DecodeSysRegTrap()
	if err != nil {
		return err
	}

	if !trap.IsRead || trap.Reg != 5 || trap.Addr.Op0 != 3 {
		return fmt.Errorf("decoded %+v unexpectedly: %w", trap, hverr.ErrInvalidInput)
	}

	return nil
}

// checkPSCIWindowing exercises the 32-bit CPU_ON function ID through
// exit.Classify end to end.
func checkPSCIWindowing() error {
	const (
		ec = uint64(0x16) << 26 // HVC64
		il = uint64(1) << 25
	)

	var tf trapframe.TrapFrame
	tf.SetGPR(0, 0x8400_0003) // PSCI32 CPU_ON
	tf.SetGPR(1, 1)           // target CPU
	tf.SetGPR(2, 0x4010_0000) // entry point
	tf.SetGPR(3, 0)

	reason, err := exit.Classify(exit.Synchronous, esr.ESR(ec|il), &tf, 0, 0)
	if err != nil {
		return err
	}

	if reason.Kind != exit.CpuUp || reason.TargetCPU != 1 || reason.EntryPoint != 0x4010_0000 {
		return fmt.Errorf("classified %+v unexpectedly: %w", reason, hverr.ErrInvalidInput)
	}

	return nil
}

// checkSGI1RDecode exercises the built-in ICC_SGI1R_EL1 fast path for an
// IRM=1 (all-but-self) SGI.
func checkSGI1RDecode() error {
	const (
		ec = uint64(0x18) << 26 // trapped MSR/MRS
		il = uint64(1) << 25

		// ICC_SGI1R_EL1 = S3_0_C12_C11_5
		op0 = uint64(3) << 20
		op2 = uint64(5) << 17
		op1 = uint64(0) << 14
		crn = uint64(12) << 10
		crm = uint64(11) << 1
		rt  = uint64(2) << 5
		dir = uint64(0) // MSR
	)

	var tf trapframe.TrapFrame
	tf.SetGPR(2, uint64(1)<<40|uint64(3)<<24) // IRM=1, INTID=3

	reason, err := exit.Classify(exit.Synchronous, esr.ESR(ec|il|op0|op2|op1|crn|crm|rt|dir), &tf, 0, 0)
	if err != nil {
		return err
	}

	if reason.Kind != exit.SendIPI || !reason.SendToAll || reason.Vector != 3 {
		return fmt.Errorf("classified %+v unexpectedly: %w", reason, hverr.ErrInvalidInput)
	}

	return nil
}
