// Package vm is a user-space virtual machine for eBPF bytecode. A program
// is executed either by interpretation or, on linux/amd64, by just-in-time
// translation to native code; both paths produce identical results on
// well-formed inputs, with the divergences documented on ExecJIT.
package vm

import (
	"runtime"
	"unsafe"

	"github.com/sirupsen/logrus"
)

// Flavor selects how the first two guest registers are populated on entry.
// Everything downstream of argument preparation is flavor-independent.
type Flavor int

const (
	// FlavorNoData runs the program with no guest memory: R1 = 0, R2 = 0.
	FlavorNoData Flavor = iota

	// FlavorRaw passes the packet memory directly: R1 = &mem[0],
	// R2 = len(mem).
	FlavorRaw

	// FlavorMbuff passes a caller-owned metadata buffer: R1 = &mbuff[0],
	// R2 = len(mbuff). The caller is responsible for placing the packet
	// start and end pointers at agreed offsets inside the buffer.
	FlavorMbuff

	// FlavorFixedMbuff passes an engine-owned 32-byte metadata buffer. On
	// each execution the engine writes &mem[0] and &mem[0]+len(mem) into
	// the buffer at the offsets given to NewFixedMbuff, emulating the
	// kernel sk_buff convention without burdening the caller.
	FlavorFixedMbuff
)

// fixedMbuffSize is the size of the engine-owned metadata buffer.
const fixedMbuffSize = 32

// VM couples a verified program, a helper registry and, optionally, a
// compiled image. A VM may be moved between threads but must not be
// executed concurrently: the helper table and the fixed metadata buffer are
// single-owner mutable state. The guest stack is allocated afresh for each
// execution. Independent VM instances share nothing.
type VM struct {
	flavor Flavor
	prog   []byte
	insns  []Instruction

	helpers map[uint32]HelperFn

	// FlavorFixedMbuff state.
	mbuff      []byte
	dataOff    int
	dataEndOff int

	jit *jitProgram

	logger *logrus.Logger
}

// New verifies prog and returns a VM of the given flavor. Use
// NewFixedMbuff for FlavorFixedMbuff, which needs offsets.
func New(prog []byte, flavor Flavor) (*VM, error) {
	vm := &VM{
		flavor:  flavor,
		helpers: make(map[uint32]HelperFn),
		logger:  logrus.StandardLogger(),
	}
	if flavor == FlavorFixedMbuff {
		vm.mbuff = make([]byte, fixedMbuffSize)
		vm.dataEndOff = fixedMbuffSize - 8
	}
	if err := vm.SetProgram(prog); err != nil {
		return nil, err
	}
	return vm, nil
}

// NewFixedMbuff verifies prog and returns a FlavorFixedMbuff VM that
// writes the packet start pointer at dataOff and the end pointer at
// dataEndOff inside its internal buffer before each execution. Both
// offsets must leave room for an 8-byte pointer.
func NewFixedMbuff(prog []byte, dataOff, dataEndOff int) (*VM, error) {
	if dataOff < 0 || dataOff+8 > fixedMbuffSize ||
		dataEndOff < 0 || dataEndOff+8 > fixedMbuffSize {
		return nil, &VerifierError{Reason: ReasonBadLength, PC: -1}
	}
	vm, err := New(prog, FlavorFixedMbuff)
	if err != nil {
		return nil, err
	}
	vm.dataOff = dataOff
	vm.dataEndOff = dataEndOff
	return vm, nil
}

// SetProgram re-runs the verifier on prog and installs it. Any compiled
// image belongs to the previous program and is released.
func (vm *VM) SetProgram(prog []byte) error {
	if err := verify(prog); err != nil {
		return err
	}
	vm.prog = prog
	vm.insns = decode(prog)
	if vm.jit != nil {
		vm.jit.release()
		vm.jit = nil
	}
	return nil
}

// SetLogger routes trace output (interpreter disassembly, JIT dumps) to l
// instead of the standard logrus logger.
func (vm *VM) SetLogger(l *logrus.Logger) {
	vm.logger = l
}

// Exec interprets the program. mem and mbuff are borrowed for the duration
// of the call; which of them reaches the guest depends on the flavor.
// Memory accesses inside the guest are not bounds-checked: an out-of-range
// access reads or writes whatever host memory the address names, or faults
// the process.
func (vm *VM) Exec(mem, mbuff []byte) (uint64, error) {
	r1, r2 := vm.prepareArgs(mem, mbuff)
	ret, err := vm.interpret(r1, r2)
	// The guest may hold these regions only by raw address.
	runtime.KeepAlive(mem)
	runtime.KeepAlive(mbuff)
	return ret, err
}

// Compile translates the program to native code. Helper keys are resolved
// from the current registry into the compiled image; helpers registered
// afterwards are invisible to JITted runs. Returns ErrJITUnsupported on
// platforms without a backend.
func (vm *VM) Compile() error {
	p, err := compile(vm)
	if err != nil {
		return err
	}
	if vm.jit != nil {
		vm.jit.release()
	}
	vm.jit = p
	return nil
}

// ExecJIT runs the compiled image. It fails with ErrNotCompiled if Compile
// has not been called. Two divergences from Exec are part of the contract:
// a DIV or MOD by a runtime-zero register returns 0xFFFFFFFFFFFFFFFF and
// exits cleanly instead of faulting, and out-of-bounds guest memory
// accesses can crash the process outright.
func (vm *VM) ExecJIT(mem, mbuff []byte) (uint64, error) {
	if vm.jit == nil {
		return 0, ErrNotCompiled
	}
	r1, r2 := vm.prepareArgs(mem, mbuff)
	ret, err := vm.jit.run(r1, r2)
	runtime.KeepAlive(mem)
	runtime.KeepAlive(mbuff)
	return ret, err
}

// Close releases the compiled image, if any. The VM remains usable for
// interpretation.
func (vm *VM) Close() error {
	if vm.jit != nil {
		vm.jit.release()
		vm.jit = nil
	}
	return nil
}

// prepareArgs resolves the flavor into the values of R1 and R2 on entry.
func (vm *VM) prepareArgs(mem, mbuff []byte) (uint64, uint64) {
	switch vm.flavor {
	case FlavorRaw:
		return slicePtr(mem), uint64(len(mem))
	case FlavorMbuff:
		return slicePtr(mbuff), uint64(len(mbuff))
	case FlavorFixedMbuff:
		p := slicePtr(mem)
		putNativeUint64(vm.mbuff[vm.dataOff:], p)
		putNativeUint64(vm.mbuff[vm.dataEndOff:], p+uint64(len(mem)))
		return slicePtr(vm.mbuff), fixedMbuffSize
	default: // FlavorNoData
		return 0, 0
	}
}

func slicePtr(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

// putNativeUint64 stores v in host byte order, as the guest will read the
// metadata buffer through plain pointer loads.
func putNativeUint64(b []byte, v uint64) {
	*(*uint64)(unsafe.Pointer(&b[0])) = v
}
