// Package osutils answers the operating-system questions the HAL asks before it
// installs hooks: is the process elevated, is it trusted for accessibility, and
// can the display be nudged awake before a run.
package osutils

// Trust is the accessibility trust state of the current process.
type Trust uint8

const (
	TrustUnknown Trust = iota
	Trusted
	Untrusted
	// TrustNotApplicable means the OS has no per-process accessibility gate.
	TrustNotApplicable
)
