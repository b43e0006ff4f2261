//go:build windows

package osutils

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32        = windows.NewLazySystemDLL("user32.dll")
	procSendInput = user32.NewProc("SendInput")
)

const (
	inputMouse     = 0
	mouseEventMove = 0x0001
)

type mouseInput struct {
	dx        int32
	dy        int32
	mouseData uint32
	flags     uint32
	time      uint32
	extraInfo uintptr
}

type input struct {
	kind uint32
	mi   mouseInput
	_    [8]byte
}

// IsAdmin reports whether the process token is a member of the Administrators
// group. Injection into elevated windows needs it (UIPI).
func IsAdmin() bool {
	var token windows.Token
	h, _ := windows.GetCurrentProcess()
	if err := windows.OpenProcessToken(h, windows.TOKEN_QUERY, &token); err != nil {
		return false
	}
	defer token.Close()

	var sid *windows.SID
	err := windows.AllocateAndInitializeSid(
		&windows.SECURITY_NT_AUTHORITY,
		2,
		windows.SECURITY_BUILTIN_DOMAIN_RID,
		windows.DOMAIN_ALIAS_RID_ADMINS,
		0, 0, 0, 0, 0, 0,
		&sid,
	)
	if err != nil {
		return false
	}
	defer windows.FreeSid(sid)

	member, err := token.IsMember(sid)
	return err == nil && member
}

func AccessibilityTrust(prompt bool) Trust {
	return TrustNotApplicable
}

// WakeDisplay moves the pointer one pixel and back.
func WakeDisplay() error {
	in := input{kind: inputMouse, mi: mouseInput{dx: 1, dy: 1, flags: mouseEventMove}}
	for _, d := range []int32{1, -1} {
		in.mi.dx, in.mi.dy = d, d
		n, _, err := procSendInput.Call(1, uintptr(unsafe.Pointer(&in)), unsafe.Sizeof(in))
		if n == 0 {
			return fmt.Errorf("SendInput: %w", err)
		}
	}
	return nil
}
