// Package errors defines the stable set of error kinds shared by every
// kernel component (spec §7). Each kind is backed by a sentinel
// *kernel.Error so callers can compare by identity the same way the teacher
// compares against ErrInvalidMapping in mem/vmm, while also exposing a Kind
// string for logging/telemetry.
package errors

import "spartan/kernel"

// Kind names a §7 error kind.
type Kind string

const (
	KindNoMem    Kind = "NOMEM"
	KindInval    Kind = "INVAL"
	KindNoEnt    Kind = "NOENT"
	KindLimit    Kind = "LIMIT"
	KindHangup   Kind = "HANGUP"
	KindIntr     Kind = "INTR"
	KindTimeout  Kind = "TIMEOUT"
	KindOverflow Kind = "OVERFLOW"
	KindNotSup   Kind = "NOTSUP"
)

// New builds a *kernel.Error tagged with the given module and kind.
// Components that need a per-site message (e.g. "area overlaps [0x..,0x..)")
// should call New directly rather than reusing one of the package sentinels.
func New(module string, kind Kind, message string) *kernel.Error {
	return &kernel.Error{Module: module, Kind: string(kind), Message: message}
}

var (
	// ErrInvalidParamValue is the generic "malformed argument" sentinel,
	// kept from the teacher for call sites that don't need a dedicated
	// per-module message.
	ErrInvalidParamValue = New("kernel", KindInval, "invalid parameter value")

	// ErrNoMem indicates memory exhaustion after a failed reclaim-and-retry.
	ErrNoMem = New("kernel", KindNoMem, "out of memory")

	// ErrNoEnt indicates the target (phone, handle, area, cache) does not exist.
	ErrNoEnt = New("kernel", KindNoEnt, "no such entity")

	// ErrLimit indicates a quota was exceeded (phone slots, in-flight async, queue depth).
	ErrLimit = New("kernel", KindLimit, "quota exceeded")

	// ErrHangup indicates the peer closed the phone.
	ErrHangup = New("kernel", KindHangup, "phone hung up")

	// ErrIntr indicates an interruptible sleep was interrupted.
	ErrIntr = New("kernel", KindIntr, "interrupted")

	// ErrTimeout indicates a deadline passed before completion.
	ErrTimeout = New("kernel", KindTimeout, "timed out")

	// ErrOverflow indicates a payload exceeded the negotiated buffer size.
	ErrOverflow = New("kernel", KindOverflow, "payload too large")

	// ErrNotSup indicates the operation is unsupported by the backend/object.
	ErrNotSup = New("kernel", KindNotSup, "operation not supported")
)
