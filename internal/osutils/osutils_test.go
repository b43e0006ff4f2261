package osutils

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccessibilityTrustOffDarwin(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("depends on TCC state")
	}
	assert.Equal(t, TrustNotApplicable, AccessibilityTrust(false))
}
