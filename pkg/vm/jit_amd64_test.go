//go:build linux && amd64

package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
)

// TestJITParity runs a matrix of programs through both engines and
// requires bit-identical results.
func TestJITParity(t *testing.T) {
	tests := []struct {
		name   string
		prog   []byte
		flavor Flavor
		mem    []byte
	}{
		{"exit only", prog(exit()), FlavorNoData, nil},
		{"alu64 mix", prog(
			ins(OpcodeMOVIMM, 0, 0, 0, 40),
			ins(OpcodeADDIMM, 0, 0, 0, 2),
			ins(OpcodeMULIMM, 0, 0, 0, 3),
			ins(OpcodeSUBIMM, 0, 0, 0, 26),
			ins(OpcodeORIMM, 0, 0, 0, 0x1000),
			ins(OpcodeANDIMM, 0, 0, 0, 0x10ff),
			ins(OpcodeXORIMM, 0, 0, 0, 0x0f0f),
			exit()), FlavorNoData, nil},
		{"alu64 reg forms", prog(
			ins(OpcodeMOVIMM, 1, 0, 0, 91),
			ins(OpcodeMOVIMM, 2, 0, 0, 13),
			ins(OpcodeMOVSRC, 0, 1, 0, 0),
			ins(OpcodeDIVSRC, 0, 2, 0, 0),
			ins(OpcodeMULSRC, 0, 2, 0, 0),
			ins(OpcodeADDSRC, 0, 1, 0, 0),
			ins(OpcodeMODSRC, 0, 2, 0, 0),
			exit()), FlavorNoData, nil},
		{"alu32 mix", prog(
			ins(OpcodeMOV32IMM, 0, 0, 0, -1),
			ins(OpcodeADD32IMM, 0, 0, 0, 2),
			ins(OpcodeMUL32IMM, 0, 0, 0, 7),
			ins(OpcodeDIV32IMM, 0, 0, 0, 3),
			ins(OpcodeMOD32IMM, 0, 0, 0, 1000),
			exit()), FlavorNoData, nil},
		{"neg both widths", prog(
			ins(OpcodeMOVIMM, 1, 0, 0, 5),
			ins(OpcodeNEG, 1, 0, 0, 0),
			ins(OpcodeMOV32IMM, 0, 0, 0, 5),
			ins(OpcodeNEG32, 0, 0, 0, 0),
			ins(OpcodeADDSRC, 0, 1, 0, 0),
			exit()), FlavorNoData, nil},
		{"shifts", prog(
			ins(OpcodeMOVIMM, 0, 0, 0, 1),
			ins(OpcodeLSHIMM, 0, 0, 0, 63),
			ins(OpcodeRSHIMM, 0, 0, 0, 1),
			ins(OpcodeARSHIMM, 0, 0, 0, 3),
			ins(OpcodeMOVIMM, 1, 0, 0, 65),
			ins(OpcodeLSHSRC, 0, 1, 0, 0),
			ins(OpcodeMOV32IMM, 2, 0, 0, -16),
			ins(OpcodeARSH32SRC, 2, 1, 0, 0),
			ins(OpcodeADDSRC, 0, 2, 0, 0),
			exit()), FlavorNoData, nil},
		{"byteswap", prog(
			lddw(0, 0x123456789abcdef0),
			ins(OpcodeBE, 0, 0, 0, 64),
			ins(OpcodeBE, 0, 0, 0, 32),
			ins(OpcodeBE, 0, 0, 0, 16),
			ins(OpcodeLE, 0, 0, 0, 32),
			exit()), FlavorNoData, nil},
		{"lddw", prog(
			lddw(1, 0x89abcdef12345678),
			ins(OpcodeMOVSRC, 0, 1, 0, 0),
			exit()), FlavorNoData, nil},
		{"high registers", prog(
			ins(OpcodeMOVIMM, 6, 0, 0, 100),
			ins(OpcodeMOVIMM, 7, 0, 0, 200),
			ins(OpcodeMOVIMM, 8, 0, 0, 300),
			ins(OpcodeMOVIMM, 9, 0, 0, 400),
			ins(OpcodeMOVSRC, 0, 6, 0, 0),
			ins(OpcodeADDSRC, 0, 7, 0, 0),
			ins(OpcodeADDSRC, 0, 8, 0, 0),
			ins(OpcodeADDSRC, 0, 9, 0, 0),
			ins(OpcodeMULSRC, 8, 9, 0, 0),
			ins(OpcodeADDSRC, 0, 8, 0, 0),
			exit()), FlavorNoData, nil},
		{"stack traffic", prog(
			lddw(1, 0x1122334455667788),
			ins(OpcodeSTXDW, 10, 1, -8, 0),
			ins(OpcodeSTW, 10, 0, -16, 0x11223344),
			ins(OpcodeSTH, 10, 0, -20, 0x5566),
			ins(OpcodeSTB, 10, 0, -24, 0x77),
			ins(OpcodeSTDW, 10, 0, -32, -1),
			ins(OpcodeLDXB, 0, 10, -1, 0),
			ins(OpcodeLDXH, 2, 10, -20, 0),
			ins(OpcodeADDSRC, 0, 2, 0, 0),
			ins(OpcodeLDXW, 2, 10, -16, 0),
			ins(OpcodeADDSRC, 0, 2, 0, 0),
			ins(OpcodeLDXDW, 2, 10, -32, 0),
			ins(OpcodeADDSRC, 0, 2, 0, 0),
			ins(OpcodeLDXB, 2, 10, -24, 0),
			ins(OpcodeADDSRC, 0, 2, 0, 0),
			exit()), FlavorNoData, nil},
		{"stx reg forms", prog(
			ins(OpcodeMOVIMM, 1, 0, 0, 0x1234),
			ins(OpcodeSTXB, 10, 1, -1, 0),
			ins(OpcodeSTXH, 10, 1, -4, 0),
			ins(OpcodeSTXW, 10, 1, -8, 0),
			ins(OpcodeLDXH, 0, 10, -4, 0),
			exit()), FlavorNoData, nil},
		{"branches and loop", prog(
			ins(OpcodeMOVIMM, 0, 0, 0, 0),
			ins(OpcodeMOVIMM, 1, 0, 0, 10),
			ins(OpcodeADDSRC, 0, 1, 0, 0),
			ins(OpcodeSUBIMM, 1, 0, 0, 1),
			ins(OpcodeJNEIMM, 1, 0, -3, 0),
			ins(OpcodeJEQIMM, 0, 0, 2, 55),
			ins(OpcodeMOVIMM, 0, 0, 0, 0),
			exit(),
			ins(OpcodeADDIMM, 0, 0, 0, 1),
			exit()), FlavorNoData, nil},
		{"signed branches", prog(
			ins(OpcodeMOVIMM, 1, 0, 0, -5),
			ins(OpcodeMOVIMM, 0, 0, 0, 0),
			ins(OpcodeJSLTIMM, 1, 0, 1, -1),
			exit(),
			ins(OpcodeMOVIMM, 0, 0, 0, 1),
			ins(OpcodeJSGESRC, 1, 1, 1, 0),
			exit(),
			ins(OpcodeADDIMM, 0, 0, 0, 2),
			exit()), FlavorNoData, nil},
		{"jset", prog(
			ins(OpcodeMOVIMM, 1, 0, 0, 6),
			ins(OpcodeMOVIMM, 0, 0, 0, 0),
			ins(OpcodeJSETIMM, 1, 0, 1, 2),
			exit(),
			ins(OpcodeMOVIMM, 0, 0, 0, 1),
			exit()), FlavorNoData, nil},
		{"unsigned compare", prog(
			ins(OpcodeMOVIMM, 1, 0, 0, -1),
			ins(OpcodeMOVIMM, 0, 0, 0, 0),
			ins(OpcodeJGTIMM, 1, 0, 1, 1),
			exit(),
			ins(OpcodeMOVIMM, 0, 0, 0, 1),
			exit()), FlavorNoData, nil},
		{"packet load", []byte{
			0x71, 0x10, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x95, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		}, FlavorRaw, []byte{0xaa, 0xbb, 0x11, 0xcc, 0xdd}},
		{"packet length", prog(
			ins(OpcodeMOVSRC, 0, 2, 0, 0),
			exit()), FlavorRaw, make([]byte, 17)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			machine, err := New(tt.prog, tt.flavor)
			require.NoError(t, err)
			defer machine.Close()

			want, err := machine.Exec(tt.mem, nil)
			require.NoError(t, err)

			require.NoError(t, machine.Compile())
			got, err := machine.ExecJIT(tt.mem, nil)
			require.NoError(t, err)
			assert.Equal(t, want, got, "interpreter/jit divergence")

			// Compiled code is reusable.
			got, err = machine.ExecJIT(tt.mem, nil)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

// TestJITDivByZeroReturnsAllOnes pins the documented divergence: the
// interpreter faults, the compiled program returns ~0 and exits cleanly.
func TestJITDivByZeroReturnsAllOnes(t *testing.T) {
	for _, op := range []uint8{OpcodeDIVSRC, OpcodeMODSRC, OpcodeDIV32SRC, OpcodeMOD32SRC} {
		p := prog(
			ins(OpcodeMOVIMM, 0, 0, 0, 42),
			ins(OpcodeMOVIMM, 1, 0, 0, 0),
			ins(op, 0, 1, 0, 0),
			exit())
		machine, err := New(p, FlavorNoData)
		require.NoError(t, err)

		_, err = machine.Exec(nil, nil)
		var fault *DivByZeroFault
		require.ErrorAs(t, err, &fault)

		require.NoError(t, machine.Compile())
		ret, err := machine.ExecJIT(nil, nil)
		require.NoError(t, err)
		assert.Equal(t, uint64(0xffffffffffffffff), ret)
		machine.Close()
	}
}

func TestJITHelperCall(t *testing.T) {
	p := prog(
		ins(OpcodeMOVIMM, 1, 0, 0, 1),
		ins(OpcodeMOVIMM, 2, 0, 0, 2),
		ins(OpcodeMOVIMM, 3, 0, 0, 3),
		ins(OpcodeMOVIMM, 4, 0, 0, 4),
		ins(OpcodeMOVIMM, 5, 0, 0, 5),
		ins(OpcodeMOVIMM, 6, 0, 0, 1000),
		ins(OpcodeCALL, 0, 0, 0, 9),
		ins(OpcodeADDSRC, 0, 6, 0, 0),
		exit())
	machine, err := New(p, FlavorNoData)
	require.NoError(t, err)
	defer machine.Close()
	machine.RegisterHelper(9, func(a1, a2, a3, a4, a5 uint64) uint64 {
		return a1 + a2*10 + a3*100 + a4*1000 + a5*10000
	})

	want, err := machine.Exec(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1+20+300+4000+50000+1000), want)

	require.NoError(t, machine.Compile())
	got, err := machine.ExecJIT(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestJITHelperPreservesState(t *testing.T) {
	// R6..R9 and the stack must survive the exit-and-resume dance.
	p := prog(
		ins(OpcodeMOVIMM, 6, 0, 0, 6),
		ins(OpcodeMOVIMM, 7, 0, 0, 7),
		ins(OpcodeMOVIMM, 8, 0, 0, 8),
		ins(OpcodeMOVIMM, 9, 0, 0, 9),
		ins(OpcodeSTW, 10, 0, -4, 12),
		ins(OpcodeCALL, 0, 0, 0, 7),
		ins(OpcodeCALL, 0, 0, 0, 7),
		ins(OpcodeMOVSRC, 0, 6, 0, 0),
		ins(OpcodeADDSRC, 0, 7, 0, 0),
		ins(OpcodeADDSRC, 0, 8, 0, 0),
		ins(OpcodeADDSRC, 0, 9, 0, 0),
		ins(OpcodeLDXW, 1, 10, -4, 0),
		ins(OpcodeADDSRC, 0, 1, 0, 0),
		exit())
	machine, err := New(p, FlavorNoData)
	require.NoError(t, err)
	defer machine.Close()
	machine.RegisterHelper(7, func(a1, a2, a3, a4, a5 uint64) uint64 {
		return 0xdeadbeef
	})

	require.NoError(t, machine.Compile())
	ret, err := machine.ExecJIT(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(6+7+8+9+12), ret)
}

// TestJITHelperSnapshot pins the freeze semantics: helpers registered
// after Compile are invisible to the compiled image but visible to the
// interpreter.
func TestJITHelperSnapshot(t *testing.T) {
	p := prog(ins(OpcodeCALL, 0, 0, 0, 1), exit())
	machine, err := New(p, FlavorNoData)
	require.NoError(t, err)
	defer machine.Close()

	machine.RegisterHelper(1, func(a1, a2, a3, a4, a5 uint64) uint64 { return 7 })
	require.NoError(t, machine.Compile())
	machine.RegisterHelper(1, func(a1, a2, a3, a4, a5 uint64) uint64 { return 9 })

	jitRet, err := machine.ExecJIT(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), jitRet)

	intRet, err := machine.Exec(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), intRet)
}

func TestJITUnknownHelperFailsAtCompile(t *testing.T) {
	p := prog(ins(OpcodeCALL, 0, 0, 0, 42), exit())
	machine, err := New(p, FlavorNoData)
	require.NoError(t, err)
	err = machine.Compile()
	var fault *UnknownHelperFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, uint32(42), fault.Key)
}

func TestJITFixedMbuff(t *testing.T) {
	p := []byte{
		0x79, 0x11, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, // ldxdw r1, [r1+8]
		0x69, 0x10, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, // ldxh r0, [r1+2]
		0x95, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // exit
	}
	mem := []byte{0xaa, 0xbb, 0x11, 0x22, 0xcc, 0xdd}
	machine, err := NewFixedMbuff(p, 8, 24)
	require.NoError(t, err)
	defer machine.Close()
	require.NoError(t, machine.Compile())
	ret, err := machine.ExecJIT(mem, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x2211), ret)
}

// TestJITEmittedPrologue decodes the first emitted instructions and checks
// they are the expected callee-saved pushes, which also exercises that the
// buffer holds valid x86-64.
func TestJITEmittedPrologue(t *testing.T) {
	machine, err := New(prog(exit()), FlavorNoData)
	require.NoError(t, err)
	defer machine.Close()
	require.NoError(t, machine.Compile())

	code := machine.jit.buf
	for i := 0; i < len(hostCalleeSaved); i++ {
		inst, err := x86asm.Decode(code, 64)
		require.NoError(t, err)
		assert.Equal(t, x86asm.PUSH, inst.Op)
		code = code[inst.Len:]
	}
}

func TestSetProgramDropsCompiledImage(t *testing.T) {
	machine, err := New(prog(exit()), FlavorNoData)
	require.NoError(t, err)
	require.NoError(t, machine.Compile())
	require.NoError(t, machine.SetProgram(prog(ins(OpcodeMOVIMM, 0, 0, 0, 1), exit())))
	_, err = machine.ExecJIT(nil, nil)
	require.ErrorIs(t, err, ErrNotCompiled)
}
