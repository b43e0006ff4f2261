//go:build !cgo

package native

import (
	"fmt"
	"runtime"

	"automacro/internal/errs"
	"automacro/internal/hal"
)

// New fails without cgo: robotgo and gohook are C libraries.
func New() (hal.Binding, error) {
	return nil, fmt.Errorf("%w: %s build without cgo", errs.ErrPlatformUnsupported, runtime.GOOS)
}
