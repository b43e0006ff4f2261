//go:build !windows && !(darwin && cgo)

package osutils

import (
	"fmt"
	"os"
	"runtime"
)

func IsAdmin() bool {
	return os.Geteuid() == 0
}

func AccessibilityTrust(prompt bool) Trust {
	if runtime.GOOS == "darwin" {
		return TrustUnknown
	}
	return TrustNotApplicable
}

func WakeDisplay() error {
	return fmt.Errorf("wake display not supported on %s", runtime.GOOS)
}
