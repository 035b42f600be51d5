package trapframe_test

import (
	"testing"
	"unsafe"

	"github.com/bobuhiro11/arm64hv/trapframe"
)

func TestLayoutInvariant(t *testing.T) {
	t.Parallel()

	if got := unsafe.Sizeof(trapframe.TrapFrame{}); got != 34*8 {
		t.Fatalf("sizeof(TrapFrame) = %d, want %d", got, 34*8)
	}

	if trapframe.Size != 34*8 {
		t.Fatalf("trapframe.Size = %d, want %d", trapframe.Size, 34*8)
	}
}

func TestGPRRoundTrip(t *testing.T) {
	t.Parallel()

	var f trapframe.TrapFrame

	f.SetGPR(0, 0x1234)
	f.SetGPR(30, 0xdead_beef)

	if got := f.GPR(0); got != 0x1234 {
		t.Errorf("GPR(0) = 0x%x, want 0x1234", got)
	}

	if got := f.GPR(30); got != 0xdead_beef {
		t.Errorf("GPR(30) = 0x%x, want 0xdeadbeef", got)
	}
}
