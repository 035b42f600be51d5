package sysreg_test

import (
	"testing"

	"github.com/bobuhiro11/arm64hv/sysreg"
)

func TestDefaultSCTLREL1(t *testing.T) {
	t.Parallel()

	if got := sysreg.DefaultSCTLREL1(); got != 0x30C5_0830 {
		t.Errorf("DefaultSCTLREL1() = 0x%x, want 0x30C50830", got)
	}
}

func TestCNTHCTLPassthroughTimer(t *testing.T) {
	t.Parallel()

	if got, want := sysreg.CNTHCTLPassthroughTimer(), uint64(0x3); got != want {
		t.Errorf("CNTHCTLPassthroughTimer() = 0x%x, want 0x%x", got, want)
	}
}
