// Package hvctl is the operator-facing command line for the EL2
// per-CPU/vCPU engine.
package hvctl

import (
	"github.com/alecthomas/kong"
)

// CLI is the root kong command tree.
type CLI struct {
	Probe    ProbeCmd    `cmd:"" help:"Report this core's EL2 virtualization capabilities."`
	Selftest SelftestCmd `cmd:"" help:"Run the engine's internal capability/invariant sweep."`
}

// Parse parses os.Args and runs the selected subcommand.
func Parse() error {
	c := CLI{}

	programName := "hvctl"
	programDesc := "hvctl inspects and exercises the AArch64 EL2 per-CPU/vCPU engine"

	ctx := kong.Parse(&c,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	return ctx.Run()
}
