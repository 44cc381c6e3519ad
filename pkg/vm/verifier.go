package vm

// The verifier runs once when bytecode is installed. It is deliberately
// weak: it rejects obviously broken programs but makes no claim of safety.
// In particular it does not track pointer provenance, does not prove memory
// accesses in-bounds and does not reject loops.

func verify(prog []byte) error {
	if len(prog) == 0 {
		return &VerifierError{Reason: ReasonEmpty, PC: -1}
	}
	if len(prog)%InstructionSize != 0 {
		return &VerifierError{Reason: ReasonBadLength, PC: -1}
	}

	insns := decode(prog)
	n := len(insns)
	if insns[n-1].Opcode != OpcodeEXIT {
		return &VerifierError{Reason: ReasonMissingExit, PC: n - 1}
	}

	// First pass: per-instruction checks and LDDW pairing.
	lddwSecond := make([]bool, n)
	for pc := 0; pc < n; pc++ {
		if lddwSecond[pc] {
			continue
		}
		ins := insns[pc]
		if ins.Dst >= NumRegisters || ins.Src >= NumRegisters {
			return &VerifierError{Reason: ReasonBadRegister, PC: pc}
		}

		switch {
		case ins.Opcode == OpcodeLDDW:
			if pc+1 >= n {
				return &VerifierError{Reason: ReasonBadLddw, PC: pc}
			}
			next := insns[pc+1]
			if next.Opcode != 0 || next.Dst != 0 || next.Src != 0 || next.Offset != 0 {
				return &VerifierError{Reason: ReasonBadLddw, PC: pc}
			}
			lddwSecond[pc+1] = true
		case isLegacyPacketLoad(ins.Opcode):
			return &VerifierError{Reason: ReasonUnsupportedOpcode, PC: pc}
		case !opcodeKnown(ins.Opcode):
			return &VerifierError{Reason: ReasonUnknownOpcode, PC: pc}
		}

		if writesDst(ins) && ins.Dst == 10 {
			return &VerifierError{Reason: ReasonWriteR10, PC: pc}
		}

		switch ins.Opcode {
		case OpcodeDIVIMM, OpcodeMODIMM, OpcodeDIV32IMM, OpcodeMOD32IMM:
			if ins.Immediate == 0 {
				return &VerifierError{Reason: ReasonDivByZeroImm, PC: pc}
			}
		case OpcodeLSHIMM, OpcodeRSHIMM, OpcodeARSHIMM:
			if ins.Immediate < 0 || ins.Immediate > 63 {
				return &VerifierError{Reason: ReasonBadShift, PC: pc}
			}
		case OpcodeLSH32IMM, OpcodeRSH32IMM, OpcodeARSH32IMM:
			if ins.Immediate < 0 || ins.Immediate > 31 {
				return &VerifierError{Reason: ReasonBadShift, PC: pc}
			}
		case OpcodeLE, OpcodeBE:
			switch ins.Immediate {
			case 16, 32, 64:
			default:
				return &VerifierError{Reason: ReasonUnknownOpcode, PC: pc}
			}
		}
	}

	// Second pass: branch targets, once all LDDW second halves are known.
	for pc := 0; pc < n; pc++ {
		ins := insns[pc]
		if lddwSecond[pc] || ins.Class() != ClassJMP {
			continue
		}
		if ins.Opcode == OpcodeCALL || ins.Opcode == OpcodeEXIT {
			continue
		}
		target := pc + 1 + int(ins.Offset)
		if target < 0 || target >= n || lddwSecond[target] {
			return &VerifierError{Reason: ReasonBadBranchTarget, PC: pc}
		}
	}
	return nil
}

// writesDst reports whether the instruction writes its dst register. Store
// instructions only read dst as an address base; jumps compare it.
func writesDst(ins Instruction) bool {
	switch ins.Class() {
	case ClassALU32, ClassALU64, ClassLDX:
		return true
	case ClassLD:
		return ins.Opcode == OpcodeLDDW
	}
	return false
}

func isLegacyPacketLoad(opcode uint8) bool {
	switch opcode {
	case OpcodeLDABSW, OpcodeLDABSH, OpcodeLDABSB, OpcodeLDABSDW,
		OpcodeLDINDW, OpcodeLDINDH, OpcodeLDINDB, OpcodeLDINDDW:
		return true
	}
	return false
}

func opcodeKnown(opcode uint8) bool {
	switch opcode {
	case OpcodeADDIMM, OpcodeADDSRC, OpcodeSUBIMM, OpcodeSUBSRC,
		OpcodeMULIMM, OpcodeMULSRC, OpcodeDIVIMM, OpcodeDIVSRC,
		OpcodeORIMM, OpcodeORSRC, OpcodeANDIMM, OpcodeANDSRC,
		OpcodeLSHIMM, OpcodeLSHSRC, OpcodeRSHIMM, OpcodeRSHSRC,
		OpcodeNEG, OpcodeMODIMM, OpcodeMODSRC, OpcodeXORIMM, OpcodeXORSRC,
		OpcodeMOVIMM, OpcodeMOVSRC, OpcodeARSHIMM, OpcodeARSHSRC:
		return true
	case OpcodeADD32IMM, OpcodeADD32SRC, OpcodeSUB32IMM, OpcodeSUB32SRC,
		OpcodeMUL32IMM, OpcodeMUL32SRC, OpcodeDIV32IMM, OpcodeDIV32SRC,
		OpcodeOR32IMM, OpcodeOR32SRC, OpcodeAND32IMM, OpcodeAND32SRC,
		OpcodeLSH32IMM, OpcodeLSH32SRC, OpcodeRSH32IMM, OpcodeRSH32SRC,
		OpcodeNEG32, OpcodeMOD32IMM, OpcodeMOD32SRC, OpcodeXOR32IMM, OpcodeXOR32SRC,
		OpcodeMOV32IMM, OpcodeMOV32SRC, OpcodeARSH32IMM, OpcodeARSH32SRC:
		return true
	case OpcodeLE, OpcodeBE, OpcodeLDDW:
		return true
	case OpcodeLDXW, OpcodeLDXH, OpcodeLDXB, OpcodeLDXDW,
		OpcodeSTW, OpcodeSTH, OpcodeSTB, OpcodeSTDW,
		OpcodeSTXW, OpcodeSTXH, OpcodeSTXB, OpcodeSTXDW:
		return true
	case OpcodeJA, OpcodeJEQIMM, OpcodeJEQSRC, OpcodeJGTIMM, OpcodeJGTSRC,
		OpcodeJGEIMM, OpcodeJGESRC, OpcodeJSETIMM, OpcodeJSETSRC,
		OpcodeJNEIMM, OpcodeJNESRC, OpcodeJSGTIMM, OpcodeJSGTSRC,
		OpcodeJSGEIMM, OpcodeJSGESRC, OpcodeJLTIMM, OpcodeJLTSRC,
		OpcodeJLEIMM, OpcodeJLESRC, OpcodeJSLTIMM, OpcodeJSLTSRC,
		OpcodeJSLEIMM, OpcodeJSLESRC, OpcodeCALL, OpcodeEXIT:
		return true
	}
	return false
}
