// Package hverr defines the sentinel errors shared by every package in the
// per-CPU / per-vCPU engine.
package hverr

import "errors"

var (
	// ErrInvalidInput is returned when a decoder produced an unrecognized
	// value, e.g. a data-abort access width outside {1,2,4,8}.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupported is returned for a recognized but unhandled case: a
	// permission fault that is not a translation fault, an in-range but
	// unrecognized PSCI function offset, or a feature gated off.
	ErrUnsupported = errors.New("unsupported")

	// ErrIllFormed is returned when a field is queried on an ESR value
	// that does not carry it, e.g. fault_addr() on a non-data-abort ESR.
	ErrIllFormed = errors.New("ill-formed request for this ESR")

	// ErrAlreadyEnabled is returned by hardware_enable() on a per-CPU
	// state that is already enabled.
	ErrAlreadyEnabled = errors.New("per-cpu virtualization already enabled")

	// ErrNotEnabled is returned by hardware_disable() on a per-CPU state
	// that was never enabled.
	ErrNotEnabled = errors.New("per-cpu virtualization not enabled")
)
