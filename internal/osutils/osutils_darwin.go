//go:build darwin && cgo

package osutils

/*
#cgo LDFLAGS: -framework ApplicationServices -framework CoreFoundation
#include <ApplicationServices/ApplicationServices.h>

static int axTrusted(int prompt) {
    if (!prompt) {
        return AXIsProcessTrusted();
    }
    const void *keys[] = { kAXTrustedCheckOptionPrompt };
    const void *values[] = { kCFBooleanTrue };
    CFDictionaryRef opts = CFDictionaryCreate(NULL, keys, values, 1,
        &kCFCopyStringDictionaryKeyCallBacks, &kCFTypeDictionaryValueCallBacks);
    int ok = AXIsProcessTrustedWithOptions(opts);
    CFRelease(opts);
    return ok;
}

static void nudgePointer(void) {
    CGEventRef ev = CGEventCreate(NULL);
    CGPoint loc = CGEventGetLocation(ev);
    CFRelease(ev);

    CGEventRef a = CGEventCreateMouseEvent(NULL, kCGEventMouseMoved,
        CGPointMake(loc.x + 1, loc.y + 1), kCGMouseButtonLeft);
    CGEventPost(kCGHIDEventTap, a);
    CFRelease(a);

    CGEventRef b = CGEventCreateMouseEvent(NULL, kCGEventMouseMoved, loc, kCGMouseButtonLeft);
    CGEventPost(kCGHIDEventTap, b);
    CFRelease(b);
}
*/
import "C"

import "os"

func IsAdmin() bool {
	return os.Geteuid() == 0
}

// AccessibilityTrust asks the TCC database whether this process may post and
// tap events. With prompt set, macOS shows its consent dialog when untrusted.
func AccessibilityTrust(prompt bool) Trust {
	p := C.int(0)
	if prompt {
		p = 1
	}
	if C.axTrusted(p) != 0 {
		return Trusted
	}
	return Untrusted
}

func WakeDisplay() error {
	C.nudgePointer()
	return nil
}
