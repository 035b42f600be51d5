package vcpu_test

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/bobuhiro11/arm64hv/hverr"
	"github.com/bobuhiro11/arm64hv/trapframe"
	"github.com/bobuhiro11/arm64hv/vcpu"
)

// TestHostStackTopOffset pins the layout the world-switch assembly
// addresses by raw byte offset: the trap frame first, HostStackTop
// immediately after it.
func TestHostStackTopOffset(t *testing.T) {
	t.Parallel()

	if got := unsafe.Offsetof(vcpu.VCPU{}.TrapFrame); got != 0 {
		t.Errorf("offsetof(TrapFrame) = %d, want 0", got)
	}

	if got := unsafe.Offsetof(vcpu.VCPU{}.HostStackTop); got != uintptr(trapframe.Size) {
		t.Errorf("offsetof(HostStackTop) = %d, want %d", got, trapframe.Size)
	}
}

// newVCPU constructs a vCPU for tests that never enter a guest. New still
// probes ID_AA64MMFR0_EL1, which Linux emulates for EL0 readers, so these
// tests run anywhere on arm64, not only at EL2.
func newVCPU(t *testing.T, cfg vcpu.Config) *vcpu.VCPU {
	t.Helper()

	v, err := vcpu.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return v
}

func TestNewPreloadsDTBAddr(t *testing.T) {
	t.Parallel()

	v := newVCPU(t, vcpu.Config{MPIDREL1: 0x81, DTBAddr: 0x4800_0000})

	if got := v.TrapFrame.GPR(0); got != 0x4800_0000 {
		t.Errorf("x0 = %#x, want 0x48000000 (DTB address)", got)
	}
}

func TestNewProbesStage2Geometry(t *testing.T) {
	t.Parallel()

	v := newVCPU(t, vcpu.Config{})

	if v.PABits() < 32 {
		t.Errorf("PABits() = %d, want >= 32", v.PABits())
	}

	want := 3
	if v.PABits() >= 44 {
		want = 4
	}

	if got := v.PageTableLevels(); got != want {
		t.Errorf("PageTableLevels() = %d for %d PA bits, want %d", got, v.PABits(), want)
	}
}

func TestSetupOnlyOnce(t *testing.T) {
	t.Parallel()

	v := newVCPU(t, vcpu.Config{})

	if err := v.Setup(vcpu.SetupConfig{}); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	if err := v.Setup(vcpu.SetupConfig{}); !errors.Is(err, hverr.ErrAlreadyEnabled) {
		t.Errorf("second Setup: want ErrAlreadyEnabled, got %v", err)
	}
}

func TestSetGPROutOfRange(t *testing.T) {
	t.Parallel()

	v := newVCPU(t, vcpu.Config{})

	for _, n := range []int{-1, trapframe.NumRegs, 100} {
		if err := v.SetGPR(n, 0); !errors.Is(err, hverr.ErrInvalidInput) {
			t.Errorf("SetGPR(%d): want ErrInvalidInput, got %v", n, err)
		}
	}
}

func TestSetEntryAndReturnValue(t *testing.T) {
	t.Parallel()

	v := newVCPU(t, vcpu.Config{})

	if err := v.SetEntry(0x4000_0000); err != nil {
		t.Fatalf("SetEntry: %v", err)
	}

	if got := v.TrapFrame.ELR; got != 0x4000_0000 {
		t.Errorf("ELR = %#x, want 0x40000000", got)
	}

	if err := v.SetReturnValue(0x1234); err != nil {
		t.Fatalf("SetReturnValue: %v", err)
	}

	if got := v.TrapFrame.GPR(0); got != 0x1234 {
		t.Errorf("x0 = %#x, want 0x1234", got)
	}
}

func TestSetupCurrentCPURejectsNil(t *testing.T) {
	t.Parallel()

	v := newVCPU(t, vcpu.Config{})

	if err := v.SetupCurrentCPU(nil, 0); !errors.Is(err, hverr.ErrInvalidInput) {
		t.Errorf("SetupCurrentCPU(nil): want ErrInvalidInput, got %v", err)
	}
}

func TestRunBeforeSetupFails(t *testing.T) {
	t.Parallel()

	v := newVCPU(t, vcpu.Config{})

	if _, err := v.Run(); !errors.Is(err, hverr.ErrInvalidInput) {
		t.Errorf("Run before setup: want ErrInvalidInput, got %v", err)
	}
}

// recordingIntC records every vector handed to Inject.
type recordingIntC struct {
	vectors []uint32
}

func (r *recordingIntC) Inject(vector uint32) error {
	r.vectors = append(r.vectors, vector)

	return nil
}

func TestInjectInterruptDelegates(t *testing.T) {
	t.Parallel()

	v := newVCPU(t, vcpu.Config{})

	if err := v.InjectInterrupt(27); !errors.Is(err, hverr.ErrUnsupported) {
		t.Errorf("InjectInterrupt with no controller: want ErrUnsupported, got %v", err)
	}

	ic := &recordingIntC{}
	v.SetInterruptController(ic)

	if err := v.InjectInterrupt(27); err != nil {
		t.Fatalf("InjectInterrupt: %v", err)
	}

	if len(ic.vectors) != 1 || ic.vectors[0] != 27 {
		t.Errorf("controller received %v, want [27]", ic.vectors)
	}
}
