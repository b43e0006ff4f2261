package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHelpersWrapSentinels(t *testing.T) {
	assert.ErrorIs(t, Invalid("speed %v", 0), ErrInvalidArgument)
	assert.ErrorIs(t, Conflict("ctrl+a"), ErrConflict)

	err := Injection("key down", errors.New("boom"))
	assert.ErrorIs(t, err, ErrInjectionFailed)
	assert.Contains(t, err.Error(), "key down")
}

func TestFatal(t *testing.T) {
	assert.True(t, Fatal(fmt.Errorf("hook: %w", ErrPermissionDenied)))
	assert.True(t, Fatal(ErrPlatformUnsupported))
	assert.False(t, Fatal(ErrNotInitialized))
	assert.False(t, Fatal(nil))
}
