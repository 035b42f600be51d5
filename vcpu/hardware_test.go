package vcpu_test

import (
	"os"
	"runtime"
	"testing"

	"github.com/bobuhiro11/arm64hv/exit"
	"github.com/bobuhiro11/arm64hv/pcpu"
	"github.com/bobuhiro11/arm64hv/vcpu"
	"github.com/bobuhiro11/arm64hv/vectors"
)

// requireEL2 mirrors pcpu's hardware_test.go guard: this suite executes
// real ERET/MRS/MSR instructions and can only run at EL2.
func requireEL2(t *testing.T) {
	t.Helper()

	if runtime.GOARCH != "arm64" {
		t.Skipf("Skipping test since GOARCH=%s, not arm64", runtime.GOARCH)
	}

	if os.Getenv("ARM64HV_EL2_HARDWARE") != "1" {
		t.Skip("Skipping test since ARM64HV_EL2_HARDWARE=1 is not set")
	}
}

// TestRunGuestRoundTrip brings up a physical core, configures one vCPU
// pointed at a single HVC instruction in identity-mapped guest memory,
// and checks that Run classifies the resulting exit as a Hypercall. It
// depends on a stage-2 table the caller's test harness must have mapped
// externally; this engine does not manage stage-2 table content, so the
// test only asserts the classify path, not guest image setup.
func TestRunGuestRoundTrip(t *testing.T) {
	t.Parallel()
	requireEL2(t)

	p := pcpu.New(0, func() {})

	if err := p.HardwareEnable(vectors.VectorTableBase(), false); err != nil {
		t.Fatalf("HardwareEnable: %v", err)
	}
	defer p.HardwareDisable() //nolint:errcheck

	v, err := vcpu.New(vcpu.Config{MPIDREL1: 0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := v.Setup(vcpu.SetupConfig{PassthroughTimer: true}); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	if err := v.SetupCurrentCPU(p, 0); err != nil {
		t.Fatalf("SetupCurrentCPU: %v", err)
	}

	// The test harness is expected to have already mapped a single HVC
	// #0 instruction at this guest-physical address via an externally
	// managed stage-2 table before running this suite.
	const entry = 0x4010_0000

	if err := v.SetEntry(entry); err != nil {
		t.Fatalf("SetEntry: %v", err)
	}

	reason, err := v.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if reason.Kind != exit.Hypercall {
		t.Errorf("Run = %+v, want Hypercall", reason)
	}
}
