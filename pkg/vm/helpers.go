package vm

import (
	"github.com/sirupsen/logrus"
)

// HelperFn is the shape of a host function callable from guest bytecode.
// The first five guest registers become the arguments in order; the return
// value replaces R0. R1..R5 are clobbered by the call, R6..R9 and the guest
// stack are preserved.
type HelperFn func(a1, a2, a3, a4, a5 uint64) uint64

// HelperKeyTracePrintk is the key the kernel assigns to bpf_trace_printk.
// Convention-compatible programs use kernel key numbering; the engine
// itself treats keys as opaque.
const HelperKeyTracePrintk = 6

// TracePrintk is a trivial stand-in for the kernel trace-print helper. It
// logs its raw arguments and returns 0; it does not interpret the format
// string the kernel variant takes.
func TracePrintk(a1, a2, a3, a4, a5 uint64) uint64 {
	logrus.WithFields(logrus.Fields{
		"r1": a1, "r2": a2, "r3": a3, "r4": a4, "r5": a5,
	}).Info("trace_printk")
	return 0
}

// RegisterHelper maps a 32-bit key to fn. Calling it between executions is
// allowed; calling it during an execution is undefined. Helpers registered
// after Compile are visible to the interpreter but not to the compiled
// image, which resolves keys at compile time.
func (vm *VM) RegisterHelper(key uint32, fn HelperFn) {
	vm.helpers[key] = fn
}
