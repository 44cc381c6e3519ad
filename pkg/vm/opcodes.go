package vm

// The following constants define the machine.
const (
	StackSize    = 1 << 9
	NumRegisters = 11

	// InstructionSize is the width of one instruction slot in bytes.
	InstructionSize = 8
)

// Instruction classes, held in the low three bits of the opcode.
const (
	ClassLD    = 0x00
	ClassLDX   = 0x01
	ClassST    = 0x02
	ClassSTX   = 0x03
	ClassALU32 = 0x04
	ClassJMP   = 0x05
	ClassALU64 = 0x07
)

// This list of constants defines the opcodes.
const (
	// ***********************
	//  ALU instructions
	// ***********************

	// 64-bit class.
	OpcodeADDIMM  = 0x07
	OpcodeADDSRC  = 0x0f
	OpcodeSUBIMM  = 0x17
	OpcodeSUBSRC  = 0x1f
	OpcodeMULIMM  = 0x27
	OpcodeMULSRC  = 0x2f
	OpcodeDIVIMM  = 0x37
	OpcodeDIVSRC  = 0x3f
	OpcodeORIMM   = 0x47
	OpcodeORSRC   = 0x4f
	OpcodeANDIMM  = 0x57
	OpcodeANDSRC  = 0x5f
	OpcodeLSHIMM  = 0x67
	OpcodeLSHSRC  = 0x6f
	OpcodeRSHIMM  = 0x77
	OpcodeRSHSRC  = 0x7f
	OpcodeNEG     = 0x87
	OpcodeMODIMM  = 0x97
	OpcodeMODSRC  = 0x9f
	OpcodeXORIMM  = 0xa7
	OpcodeXORSRC  = 0xaf
	OpcodeMOVIMM  = 0xb7
	OpcodeMOVSRC  = 0xbf
	OpcodeARSHIMM = 0xc7
	OpcodeARSHSRC = 0xcf

	// 32-bit class. Results are zero-extended into the 64-bit destination.
	OpcodeADD32IMM  = 0x04
	OpcodeADD32SRC  = 0x0c
	OpcodeSUB32IMM  = 0x14
	OpcodeSUB32SRC  = 0x1c
	OpcodeMUL32IMM  = 0x24
	OpcodeMUL32SRC  = 0x2c
	OpcodeDIV32IMM  = 0x34
	OpcodeDIV32SRC  = 0x3c
	OpcodeOR32IMM   = 0x44
	OpcodeOR32SRC   = 0x4c
	OpcodeAND32IMM  = 0x54
	OpcodeAND32SRC  = 0x5c
	OpcodeLSH32IMM  = 0x64
	OpcodeLSH32SRC  = 0x6c
	OpcodeRSH32IMM  = 0x74
	OpcodeRSH32SRC  = 0x7c
	OpcodeNEG32     = 0x84
	OpcodeMOD32IMM  = 0x94
	OpcodeMOD32SRC  = 0x9c
	OpcodeXOR32IMM  = 0xa4
	OpcodeXOR32SRC  = 0xac
	OpcodeMOV32IMM  = 0xb4
	OpcodeMOV32SRC  = 0xbc
	OpcodeARSH32IMM = 0xc4
	OpcodeARSH32SRC = 0xcc

	// ***********************
	// Byteswap instructions
	// ***********************
	// These are just two opcodes; the immediate selects the width and must
	// be 16, 32 or 64. LE truncates the register to the given width on a
	// little-endian host, BE byte-swaps it in place.
	OpcodeLE = 0xd4
	OpcodeBE = 0xdc

	// ***********************
	// Memory instructions
	// ***********************

	// OpcodeLDDW extends into the next instruction slot as it loads a
	// 64-bit word while the immediate can only contain 32 bits. The next
	// slot must have opcode, dst/src and offset set to zero and carries the
	// high half in its immediate.
	OpcodeLDDW = 0x18

	// Legacy packet-access family. Recognized so the verifier can reject
	// programs that use it with a precise reason; neither engine implements
	// it.
	OpcodeLDABSW  = 0x20
	OpcodeLDABSH  = 0x28
	OpcodeLDABSB  = 0x30
	OpcodeLDABSDW = 0x38
	OpcodeLDINDW  = 0x40
	OpcodeLDINDH  = 0x48
	OpcodeLDINDB  = 0x50
	OpcodeLDINDDW = 0x58

	OpcodeLDXW  = 0x61
	OpcodeLDXH  = 0x69
	OpcodeLDXB  = 0x71
	OpcodeLDXDW = 0x79
	OpcodeSTW   = 0x62
	OpcodeSTH   = 0x6a
	OpcodeSTB   = 0x72
	OpcodeSTDW  = 0x7a
	OpcodeSTXW  = 0x63
	OpcodeSTXH  = 0x6b
	OpcodeSTXB  = 0x73
	OpcodeSTXDW = 0x7b

	// ***********************
	// Branch instructions
	// ***********************

	OpcodeJA      = 0x05
	OpcodeJEQIMM  = 0x15
	OpcodeJEQSRC  = 0x1d
	OpcodeJGTIMM  = 0x25
	OpcodeJGTSRC  = 0x2d
	OpcodeJGEIMM  = 0x35
	OpcodeJGESRC  = 0x3d
	OpcodeJSETIMM = 0x45
	OpcodeJSETSRC = 0x4d
	OpcodeJNEIMM  = 0x55
	OpcodeJNESRC  = 0x5d
	OpcodeJSGTIMM = 0x65
	OpcodeJSGTSRC = 0x6d
	OpcodeJSGEIMM = 0x75
	OpcodeJSGESRC = 0x7d
	OpcodeJLTIMM  = 0xa5
	OpcodeJLTSRC  = 0xad
	OpcodeJLEIMM  = 0xb5
	OpcodeJLESRC  = 0xbd
	OpcodeJSLTIMM = 0xc5
	OpcodeJSLTSRC = 0xcd
	OpcodeJSLEIMM = 0xd5
	OpcodeJSLESRC = 0xdd

	OpcodeCALL = 0x85
	OpcodeEXIT = 0x95
)
