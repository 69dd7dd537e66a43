package kernel

import (
	"os"

	"github.com/sirupsen/logrus"
)

var (
	// haltFn is invoked after a panic has been logged. It is mocked by
	// tests and is overridden by cmd/spartanctl to stop the simulated
	// per-CPU goroutines before the process exits.
	haltFn = func() { os.Exit(1) }

	// log is the package-level logger, mirroring the teacher's
	// package-level hal.ActiveTerminal singleton in hal/hal.go.
	log = logrus.WithField("component", "kernel")

	errRuntimePanic = &Error{Module: "rt", Kind: "PANIC", Message: "unknown cause"}
)

// SetHaltFn overrides the action taken after a panic is logged. Production
// code calls this once at boot to wire in scheduler shutdown; tests call it
// to observe that Panic actually halted instead of letting the process exit.
func SetHaltFn(fn func()) {
	haltFn = fn
}

// Panic logs the supplied error (if not nil) and halts the kernel. With the
// default halt function (os.Exit) Panic never returns; a halt function set
// through SetHaltFn may return, and Panic then returns after it. Per §7, it
// is reserved for broken
// invariants, never for errors that can be converted to a return value.
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	case nil:
		err = nil
	}

	if err != nil {
		log.WithFields(logrus.Fields{
			"module": err.Module,
			"kind":   err.Kind,
		}).Error("kernel panic: " + err.Message)
	} else {
		log.Error("kernel panic: system halted")
	}

	haltFn()
}
