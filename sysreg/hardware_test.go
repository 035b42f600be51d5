package sysreg_test

import (
	"os"
	"runtime"
	"testing"

	"github.com/bobuhiro11/arm64hv/sysreg"
)

// requireEL2 mirrors the guard in the pcpu and vcpu suites: Store and
// Restore execute real MRS/MSR instructions against EL2-only registers,
// which fault anywhere below EL2.
func requireEL2(t *testing.T) {
	t.Helper()

	if runtime.GOARCH != "arm64" {
		t.Skipf("Skipping test since GOARCH=%s, not arm64", runtime.GOARCH)
	}

	if os.Getenv("ARM64HV_EL2_HARDWARE") != "1" {
		t.Skip("Skipping test since ARM64HV_EL2_HARDWARE=1 is not set")
	}
}

// TestStoreRestoreIdentity checks that Store followed by Restore followed
// by another Store reads back the same architectural bits for every
// register in the bank.
func TestStoreRestoreIdentity(t *testing.T) {
	requireEL2(t)

	var b sysreg.GuestSystemRegisters

	b.Store()
	first := b

	b.Restore()
	b.Store()

	if b != first {
		t.Errorf("bank after restore+store = %+v, want %+v", b, first)
	}
}
