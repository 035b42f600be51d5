package hvctl_test

import (
	"testing"

	"github.com/bobuhiro11/arm64hv/cmd/hvctl"
)

func TestSelftestRun(t *testing.T) {
	t.Parallel()

	s := hvctl.SelftestCmd{}

	if err := s.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestSelftestRunWithProfile(t *testing.T) {
	t.Parallel()

	s := hvctl.SelftestCmd{Profile: true}

	if err := s.Run(); err != nil {
		t.Fatalf("Run with profile: %v", err)
	}
}
