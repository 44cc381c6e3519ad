package vm

import (
	"encoding/binary"
	"fmt"
)

// Instruction represents a eBPF instruction.
//
// msb                                                        lsb
// +------------------------+----------------+----+----+--------+
// |immediate               |offset          |src |dst |opcode  |
// +------------------------+----------------+----+----+--------+
//
// From least significant to most significant bit:
// 8 bit opcode
// 4 bit destination register (dst)
// 4 bit source register (src)
// 16 bit offset
// 32 bit immediate (imm)
//
// The wire format is little-endian regardless of the host. LDDW loads a
// 64-bit immediate and extends into the next 8-byte slot: the second slot
// must have opcode, dst, src and offset all zero and contributes its
// immediate as the high half of the value.
type Instruction struct {
	// Opcode is the instruction's opcode.
	Opcode uint8

	// Dst is the destination register, 0..10.
	Dst uint8

	// Src is the source register, 0..10.
	Src uint8

	// Offset is the offset for the current instruction.
	Offset int16

	// Immediate is the immediate value for the instruction.
	Immediate int32
}

// Class returns the instruction class held in the low three bits of the
// opcode.
func (i Instruction) Class() uint8 {
	return i.Opcode & 0x07
}

func (i Instruction) String() string {
	return fmt.Sprintf("opcode: %#02x, dst: r%d, src: r%d, offset: %d, imm: %d",
		i.Opcode, i.Dst, i.Src, i.Offset, i.Immediate)
}

// decode splits a bytecode sequence into instruction slots. The caller has
// already checked that len(prog) is a multiple of InstructionSize.
func decode(prog []byte) []Instruction {
	insns := make([]Instruction, 0, len(prog)/InstructionSize)
	for off := 0; off < len(prog); off += InstructionSize {
		insns = append(insns, Instruction{
			Opcode:    prog[off],
			Dst:       prog[off+1] & 0x0f,
			Src:       prog[off+1] >> 4,
			Offset:    int16(binary.LittleEndian.Uint16(prog[off+2 : off+4])),
			Immediate: int32(binary.LittleEndian.Uint32(prog[off+4 : off+8])),
		})
	}
	return insns
}
