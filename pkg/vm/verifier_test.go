package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireReason(t *testing.T, err error, reason VerifierReason) {
	t.Helper()
	require.Error(t, err)
	var verr *VerifierError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, reason, verr.Reason)
}

func TestVerifierRejects(t *testing.T) {
	tests := []struct {
		name   string
		prog   []byte
		reason VerifierReason
	}{
		{"empty", nil, ReasonEmpty},
		{"bad length", []byte{0x95, 0, 0}, ReasonBadLength},
		{"missing exit", prog(ins(OpcodeMOVIMM, 0, 0, 0, 1)), ReasonMissingExit},
		{"unknown opcode", prog(ins(0x8d, 0, 0, 0, 0), exit()), ReasonUnknownOpcode},
		{"legacy packet load", prog(ins(OpcodeLDABSW, 0, 0, 0, 0), exit()), ReasonUnsupportedOpcode},
		{"bad dst register", prog(ins(OpcodeMOVIMM, 11, 0, 0, 0), exit()), ReasonBadRegister},
		{"bad src register", prog(ins(OpcodeMOVSRC, 0, 12, 0, 0), exit()), ReasonBadRegister},
		{"write to r10", prog(ins(OpcodeMOVIMM, 10, 0, 0, 0), exit()), ReasonWriteR10},
		{"load into r10", prog(ins(OpcodeLDXW, 10, 1, 0, 0), exit()), ReasonWriteR10},
		{"branch past end", prog(ins(OpcodeJA, 0, 0, 5, 0), exit()), ReasonBadBranchTarget},
		{"branch before start", prog(ins(OpcodeJA, 0, 0, -2, 0), exit()), ReasonBadBranchTarget},
		{"branch into lddw half", prog(
			ins(OpcodeJA, 0, 0, 1, 0),
			lddw(0, 1),
			exit()), ReasonBadBranchTarget},
		{"lddw missing half", prog(
			ins(OpcodeLDDW, 0, 0, 0, 1),
			exit()), ReasonBadLddw},
		{"lddw malformed half", prog(
			ins(OpcodeLDDW, 0, 0, 0, 1),
			ins(0, 1, 0, 0, 0),
			exit()), ReasonBadLddw},
		{"lddw at last slot", prog(
			exit(),
			ins(OpcodeLDDW, 0, 0, 0, 1)), ReasonMissingExit},
		{"div by zero imm", prog(ins(OpcodeDIVIMM, 0, 0, 0, 0), exit()), ReasonDivByZeroImm},
		{"mod by zero imm", prog(ins(OpcodeMOD32IMM, 0, 0, 0, 0), exit()), ReasonDivByZeroImm},
		{"shift64 too large", prog(ins(OpcodeLSHIMM, 0, 0, 0, 64), exit()), ReasonBadShift},
		{"shift64 negative", prog(ins(OpcodeRSHIMM, 0, 0, 0, -1), exit()), ReasonBadShift},
		{"shift32 too large", prog(ins(OpcodeARSH32IMM, 0, 0, 0, 32), exit()), ReasonBadShift},
		{"byteswap bad width", prog(ins(OpcodeBE, 0, 0, 0, 24), exit()), ReasonUnknownOpcode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireReason(t, verify(tt.prog), tt.reason)
		})
	}
}

func TestVerifierAccepts(t *testing.T) {
	tests := []struct {
		name string
		prog []byte
	}{
		{"exit only", prog(exit())},
		{"max shift 63", prog(ins(OpcodeLSHIMM, 0, 0, 0, 63), exit())},
		{"max shift 31", prog(ins(OpcodeRSH32IMM, 0, 0, 0, 31), exit())},
		{"lddw at last-but-one", prog(lddw(0, 1), exit())},
		{"store through r10", prog(ins(OpcodeSTXDW, 10, 1, -8, 0), exit())},
		{"backward branch", prog(
			ins(OpcodeMOVIMM, 0, 0, 0, 3),
			ins(OpcodeSUBIMM, 0, 0, 0, 1),
			ins(OpcodeJNEIMM, 0, 0, -2, 0),
			exit())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, verify(tt.prog))
		})
	}
}

func TestVerifierErrorText(t *testing.T) {
	err := verify(prog(ins(0x8d, 0, 0, 0, 0), exit()))
	require.EqualError(t, err, "verifier: unknown opcode at pc 0")
}
