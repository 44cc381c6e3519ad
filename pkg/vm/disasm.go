package vm

import "fmt"

var aluMnemonics = map[uint8]string{
	0x00: "add",
	0x10: "sub",
	0x20: "mul",
	0x30: "div",
	0x40: "or",
	0x50: "and",
	0x60: "lsh",
	0x70: "rsh",
	0x80: "neg",
	0x90: "mod",
	0xa0: "xor",
	0xb0: "mov",
	0xc0: "arsh",
}

var jmpMnemonics = map[uint8]string{
	0x10: "jeq",
	0x20: "jgt",
	0x30: "jge",
	0x40: "jset",
	0x50: "jne",
	0x60: "jsgt",
	0x70: "jsge",
	0xa0: "jlt",
	0xb0: "jle",
	0xc0: "jslt",
	0xd0: "jsle",
}

var memSuffix = map[uint8]string{
	0x00: "w",
	0x08: "h",
	0x10: "b",
	0x18: "dw",
}

// Disassemble renders a single instruction in kernel-documentation
// assembler syntax. LDDW shows only the low half; the caller is expected
// to know the next slot belongs to it.
func Disassemble(i Instruction) string {
	switch i.Class() {
	case ClassALU64, ClassALU32:
		suffix := ""
		if i.Class() == ClassALU32 {
			suffix = "32"
		}
		switch i.Opcode {
		case OpcodeLE, OpcodeBE:
			dir := "le"
			if i.Opcode == OpcodeBE {
				dir = "be"
			}
			return fmt.Sprintf("%-6s r%d", fmt.Sprintf("%s%d", dir, i.Immediate), i.Dst)
		case OpcodeNEG, OpcodeNEG32:
			return fmt.Sprintf("%-6s r%d", "neg"+suffix, i.Dst)
		}
		name, ok := aluMnemonics[i.Opcode&0xf0]
		if !ok {
			break
		}
		if i.Opcode&0x08 != 0 {
			return fmt.Sprintf("%-6s r%d, r%d", name+suffix, i.Dst, i.Src)
		}
		return fmt.Sprintf("%-6s r%d, %d", name+suffix, i.Dst, i.Immediate)

	case ClassJMP:
		switch i.Opcode {
		case OpcodeJA:
			return fmt.Sprintf("%-6s %+d", "ja", i.Offset)
		case OpcodeCALL:
			return fmt.Sprintf("%-6s %d", "call", i.Immediate)
		case OpcodeEXIT:
			return "exit"
		}
		name, ok := jmpMnemonics[i.Opcode&0xf0]
		if !ok {
			break
		}
		if i.Opcode&0x08 != 0 {
			return fmt.Sprintf("%-6s r%d, r%d, %+d", name, i.Dst, i.Src, i.Offset)
		}
		return fmt.Sprintf("%-6s r%d, %d, %+d", name, i.Dst, i.Immediate, i.Offset)

	case ClassLD:
		if i.Opcode == OpcodeLDDW {
			return fmt.Sprintf("%-6s r%d, %#x", "lddw", i.Dst, uint32(i.Immediate))
		}

	case ClassLDX:
		if s, ok := memSuffix[i.Opcode&0x18]; ok {
			return fmt.Sprintf("%-6s r%d, [r%d%+d]", "ldx"+s, i.Dst, i.Src, i.Offset)
		}

	case ClassST:
		if s, ok := memSuffix[i.Opcode&0x18]; ok {
			return fmt.Sprintf("%-6s [r%d%+d], %d", "st"+s, i.Dst, i.Offset, i.Immediate)
		}

	case ClassSTX:
		if s, ok := memSuffix[i.Opcode&0x18]; ok {
			return fmt.Sprintf("%-6s [r%d%+d], r%d", "stx"+s, i.Dst, i.Offset, i.Src)
		}
	}
	return fmt.Sprintf("unknown (%#02x)", i.Opcode)
}

// DisassembleProgram renders one line per instruction slot. The second
// slot of a LDDW is shown as a raw continuation.
func DisassembleProgram(prog []byte) ([]string, error) {
	if len(prog) == 0 || len(prog)%InstructionSize != 0 {
		return nil, &VerifierError{Reason: ReasonBadLength, PC: -1}
	}
	insns := decode(prog)
	lines := make([]string, 0, len(insns))
	for pc := 0; pc < len(insns); pc++ {
		ins := insns[pc]
		if ins.Opcode == OpcodeLDDW && pc+1 < len(insns) {
			v := uint64(uint32(ins.Immediate)) | uint64(uint32(insns[pc+1].Immediate))<<32
			lines = append(lines, fmt.Sprintf("%-6s r%d, %#x", "lddw", ins.Dst, v))
			lines = append(lines, fmt.Sprintf("%-6s", "..."))
			pc++
			continue
		}
		lines = append(lines, Disassemble(ins))
	}
	return lines, nil
}
