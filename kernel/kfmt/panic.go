package kfmt

import "ridge/kernel"

// haltFn is invoked after a panic has been fully reported. It is a
// function variable so tests can intercept it instead of actually halting
// the processor.
var haltFn = func() {
	for {
	}
}

// backtraceFn prints a frame-pointer backtrace to the active sink. It is
// wired to kernel/backtrace.Print by trap.Init; left nil
// it is simply skipped, which keeps kfmt free of a dependency on
// kernel/backtrace (backtrace already depends on kfmt for its own output).
var backtraceFn func()

// SetBacktraceFn installs the function used to print a backtrace as part
// of a panic report.
func SetBacktraceFn(fn func()) {
	backtraceFn = fn
}

// SetHaltFn installs the function run after a panic has been fully
// reported, replacing the default infinite HLT-equivalent loop. It
// exists so packages that can themselves panic through kfmt — trap,
// except, and their tests — can observe that a panic occurred without
// hanging the calling goroutine.
func SetHaltFn(fn func()) {
	haltFn = fn
}

// Panic reports e — a *kernel.Error, a string, or any other value — then
// walks the call stack (if a backtrace function has been installed) and
// halts the processor. It never returns.
func Panic(e interface{}) {
	Printf("\n--- kernel panic ---\n")
	panicString(e)
	Printf("\n")

	if backtraceFn != nil {
		backtraceFn()
	}

	haltFn()
}

func panicString(e interface{}) {
	switch v := e.(type) {
	case *kernel.Error:
		Printf("[%s] %s", v.Module, v.Message)
	case string:
		Printf("%s", v)
	case error:
		Printf("%s", v.Error())
	default:
		Printf("unknown panic value")
	}
}
