package vm

import (
	"errors"
	"fmt"
)

// VerifierReason identifies the check a program failed.
type VerifierReason int

const (
	ReasonEmpty VerifierReason = iota
	ReasonBadLength
	ReasonMissingExit
	ReasonUnknownOpcode
	ReasonUnsupportedOpcode
	ReasonBadRegister
	ReasonWriteR10
	ReasonBadBranchTarget
	ReasonBadLddw
	ReasonDivByZeroImm
	ReasonBadShift
)

var verifierReasonText = map[VerifierReason]string{
	ReasonEmpty:             "empty program",
	ReasonBadLength:         "program length is not a multiple of 8",
	ReasonMissingExit:       "last instruction is not EXIT",
	ReasonUnknownOpcode:     "unknown opcode",
	ReasonUnsupportedOpcode: "unsupported opcode",
	ReasonBadRegister:       "register out of range",
	ReasonWriteR10:          "write to read-only register r10",
	ReasonBadBranchTarget:   "branch target out of range",
	ReasonBadLddw:           "incomplete or malformed lddw",
	ReasonDivByZeroImm:      "division by zero immediate",
	ReasonBadShift:          "shift amount out of range",
}

// VerifierError is returned by New and SetProgram when the bytecode fails
// static verification. PC is the index, in 8-byte units, of the offending
// instruction; it is -1 for whole-program failures.
type VerifierError struct {
	Reason VerifierReason
	PC     int
}

func (e *VerifierError) Error() string {
	text, ok := verifierReasonText[e.Reason]
	if !ok {
		text = "verification failed"
	}
	if e.PC < 0 {
		return fmt.Sprintf("verifier: %s", text)
	}
	return fmt.Sprintf("verifier: %s at pc %d", text, e.PC)
}

// DivByZeroFault is reported by the interpreter when a DIV or MOD
// instruction meets a zero divisor in a register at run time. The JIT does
// not raise it; see ExecJIT.
type DivByZeroFault struct {
	PC int
}

func (e *DivByZeroFault) Error() string {
	return fmt.Sprintf("division by zero at pc %d", e.PC)
}

// UnknownHelperFault is reported when a CALL instruction names a helper key
// with no registered function. The interpreter raises it at run time; the
// JIT raises it from Compile, since helper addresses are resolved into the
// emitted code.
type UnknownHelperFault struct {
	Key uint32
	PC  int
}

func (e *UnknownHelperFault) Error() string {
	return fmt.Sprintf("unknown helper %d at pc %d", e.Key, e.PC)
}

// UnsupportedOpcodeError is returned by Compile when an instruction has no
// emitter.
type UnsupportedOpcodeError struct {
	Opcode uint8
	PC     int
}

func (e *UnsupportedOpcodeError) Error() string {
	return fmt.Sprintf("jit: no emitter for opcode %#02x at pc %d", e.Opcode, e.PC)
}

var (
	// ErrNotCompiled is returned by ExecJIT when Compile has not been
	// called on the current program.
	ErrNotCompiled = errors.New("program is not compiled")

	// ErrJITUnsupported is returned by Compile on platforms without a JIT
	// backend.
	ErrJITUnsupported = errors.New("jit is not supported on this platform")
)
