package hal

type Permission uint8

const (
	PermissionUnknown Permission = iota
	PermissionGranted
	PermissionDenied
	PermissionNotRequired
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	case PermissionNotRequired:
		return "not_required"
	default:
		return "unknown"
	}
}

func (p Permission) ok() bool {
	return p == PermissionGranted || p == PermissionNotRequired
}

// PermissionStatus is what the platform reports for each capability that can be
// gated by the OS (macOS privacy settings, Windows UIPI elevation).
type PermissionStatus struct {
	Accessibility   Permission `json:"accessibility"`
	InputMonitoring Permission `json:"input_monitoring"`
	ScreenCapture   Permission `json:"screen_capture"`
	Elevated        bool       `json:"elevated"`
}

// CanHook reports whether input listeners and injection are allowed.
func (s PermissionStatus) CanHook() bool {
	return s.Accessibility.ok() && s.InputMonitoring.ok()
}

type PermissionRequest struct {
	Accessibility   bool
	InputMonitoring bool
	ScreenCapture   bool
	// Prompt asks the OS to show its consent dialog where it has one.
	Prompt bool
}
