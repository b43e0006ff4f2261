// Package autostart registers the engine to start on login: a LaunchAgent on
// macOS, the HKCU Run key on Windows and an XDG autostart entry elsewhere.
package autostart

import (
	"fmt"
	"os"
	"strings"

	"automacro/internal/errs"
)

// Entry is one login item.
type Entry struct {
	// Name identifies the item; it becomes the plist label suffix, the
	// registry value name or the .desktop file name.
	Name string
	Exec string
	Args []string
}

// Current is an entry that starts this executable with args.
func Current(name string, args ...string) (Entry, error) {
	exe, err := os.Executable()
	if err != nil {
		return Entry{}, fmt.Errorf("failed to get executable path: %w", err)
	}
	return Entry{Name: name, Exec: exe, Args: args}, nil
}

func (e Entry) validate() error {
	if e.Name == "" || strings.ContainsAny(e.Name, `/\ `) {
		return errs.Invalid("autostart name %q", e.Name)
	}
	if e.Exec == "" {
		return errs.Invalid("autostart entry %s has no executable", e.Name)
	}
	return nil
}

// Enable enables auto-start on login
func Enable(e Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	return enable(e)
}

// Disable disables auto-start on login. Disabling an absent entry is not an error.
func Disable(name string) error {
	if err := (Entry{Name: name, Exec: "-"}).validate(); err != nil {
		return err
	}
	return disable(name)
}

// IsEnabled checks if auto-start is enabled
func IsEnabled(name string) bool {
	return isEnabled(name)
}
