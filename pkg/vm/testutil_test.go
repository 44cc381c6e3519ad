package vm

import "encoding/binary"

// ins assembles one instruction slot.
func ins(op, dst, src uint8, off int16, imm int32) []byte {
	b := make([]byte, InstructionSize)
	b[0] = op
	b[1] = dst | src<<4
	binary.LittleEndian.PutUint16(b[2:], uint16(off))
	binary.LittleEndian.PutUint32(b[4:], uint32(imm))
	return b
}

// lddw assembles the two slots of a 64-bit immediate load.
func lddw(dst uint8, v uint64) []byte {
	return append(
		ins(OpcodeLDDW, dst, 0, 0, int32(uint32(v))),
		ins(0, 0, 0, 0, int32(uint32(v>>32)))...)
}

func prog(insns ...[]byte) []byte {
	var p []byte
	for _, i := range insns {
		p = append(p, i...)
	}
	return p
}

func exit() []byte {
	return ins(OpcodeEXIT, 0, 0, 0, 0)
}
