package calibrator

import "sync/atomic"

// AbortFlag is a cooperative cancellation token with a single writer (the
// operator command path) and a single reader (the running sequencer). The
// reader only polls it at wait-loop boundaries, so a request takes effect
// within one poll interval and never interrupts a hardware command already
// in flight.
type AbortFlag struct {
	v atomic.Bool
}

// Request sets the flag.
func (f *AbortFlag) Request() {
	f.v.Store(true)
}

// Requested reports whether the flag is set.
func (f *AbortFlag) Requested() bool {
	return f.v.Load()
}

// reset clears the flag. Only the sequencer calls it, at the start of an
// operation.
func (f *AbortFlag) reset() {
	f.v.Store(false)
}
