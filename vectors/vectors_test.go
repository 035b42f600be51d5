package vectors

import "testing"

func TestTrapKindValues(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		kind TrapKind
		want uint64
	}{
		{Synchronous, 0},
		{IRQ, 1},
		{Fatal, 2},
	} {
		if got := uint64(tt.kind); got != tt.want {
			t.Errorf("TrapKind = %d, want %d", got, tt.want)
		}
	}
}

func TestExitContextLayout(t *testing.T) {
	t.Parallel()

	var ctx ExitContext
	ctx.Running = 1
	ctx.CurrentFrame = 0x4100_0000

	if ctx.Running != 1 {
		t.Errorf("Running = %d, want 1", ctx.Running)
	}

	if ctx.CurrentFrame != 0x4100_0000 {
		t.Errorf("CurrentFrame = %#x, want 0x41000000", ctx.CurrentFrame)
	}
}
