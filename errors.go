package symphony

import "fmt"

// ErrValidation marks a setup-time error the caller can recover from by
// re-configuring (streams not bound, rate mismatch, indefinite epoch with
// responses, and so on). It never reaches hardware.
type ErrValidation struct {
	Msg string
}

func (e *ErrValidation) Error() string { return "symphony: validation: " + e.Msg }

// ErrPreloadEmpty is raised when an active output stream yields zero samples
// during preload — the upstream stimulus was exhausted before the first
// block could be sent. Validation should catch this earlier; this is the
// belt-and-braces check inside the bridge itself.
type ErrPreloadEmpty struct {
	StreamName string
}

func (e *ErrPreloadEmpty) Error() string {
	return fmt.Sprintf("symphony: preload on stream %q yielded zero samples", e.StreamName)
}

// ErrHardwareBuffer is raised by the acquisition loop on overflow/underrun.
// It is always fatal to the current Epoch and moves the bridge to Faulted.
type ErrHardwareBuffer struct {
	Overrun bool // false means underrun
}

func (e *ErrHardwareBuffer) Error() string {
	if e.Overrun {
		return "symphony: hardware buffer overrun"
	}
	return "symphony: hardware buffer underrun"
}

// ErrDevice wraps a non-zero return from a vendor driver call.
type ErrDevice struct {
	Code int
	Text string
}

func (e *ErrDevice) Error() string {
	return fmt.Sprintf("symphony: device error %d: %s", e.Code, e.Text)
}
