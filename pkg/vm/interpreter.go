package vm

import (
	"math/bits"
	"runtime"
	"unsafe"

	"github.com/sirupsen/logrus"
)

// interpret runs a fetch-decode-dispatch loop over the installed program.
// Guest addresses are host addresses: loads and stores go straight through
// unsafe pointers with no bounds check, matching what the JIT emits. The
// verifier does not prove accesses in-bounds, so a broken program can read
// or corrupt host memory.
func (vm *VM) interpret(r1, r2 uint64) (ret uint64, err error) {
	stack := make([]byte, StackSize)
	defer runtime.KeepAlive(&stack)

	var regs [NumRegisters]uint64
	regs[1] = r1
	regs[2] = r2
	regs[10] = uint64(uintptr(unsafe.Pointer(&stack[0]))) + StackSize

	trace := vm.logger.IsLevelEnabled(logrus.TraceLevel)

	pc := 0
	for {
		ins := vm.insns[pc]
		if trace {
			vm.logger.Tracef("%4d: %s", pc, Disassemble(ins))
		}
		next := pc + 1

		switch ins.Opcode {
		// 64-bit ALU. Immediates are sign-extended.
		case OpcodeADDIMM:
			regs[ins.Dst] += uint64(int64(ins.Immediate))
		case OpcodeADDSRC:
			regs[ins.Dst] += regs[ins.Src]
		case OpcodeSUBIMM:
			regs[ins.Dst] -= uint64(int64(ins.Immediate))
		case OpcodeSUBSRC:
			regs[ins.Dst] -= regs[ins.Src]
		case OpcodeMULIMM:
			regs[ins.Dst] *= uint64(int64(ins.Immediate))
		case OpcodeMULSRC:
			regs[ins.Dst] *= regs[ins.Src]
		case OpcodeDIVIMM:
			regs[ins.Dst] /= uint64(int64(ins.Immediate))
		case OpcodeDIVSRC:
			if regs[ins.Src] == 0 {
				return 0, &DivByZeroFault{PC: pc}
			}
			regs[ins.Dst] /= regs[ins.Src]
		case OpcodeORIMM:
			regs[ins.Dst] |= uint64(int64(ins.Immediate))
		case OpcodeORSRC:
			regs[ins.Dst] |= regs[ins.Src]
		case OpcodeANDIMM:
			regs[ins.Dst] &= uint64(int64(ins.Immediate))
		case OpcodeANDSRC:
			regs[ins.Dst] &= regs[ins.Src]
		case OpcodeLSHIMM:
			regs[ins.Dst] <<= uint64(ins.Immediate)
		case OpcodeLSHSRC:
			// Register shift counts are masked to the operand width, the
			// way the hardware the JIT targets masks them.
			regs[ins.Dst] <<= regs[ins.Src] & 63
		case OpcodeRSHIMM:
			regs[ins.Dst] >>= uint64(ins.Immediate)
		case OpcodeRSHSRC:
			regs[ins.Dst] >>= regs[ins.Src] & 63
		case OpcodeNEG:
			regs[ins.Dst] = uint64(-int64(regs[ins.Dst]))
		case OpcodeMODIMM:
			regs[ins.Dst] %= uint64(int64(ins.Immediate))
		case OpcodeMODSRC:
			if regs[ins.Src] == 0 {
				return 0, &DivByZeroFault{PC: pc}
			}
			regs[ins.Dst] %= regs[ins.Src]
		case OpcodeXORIMM:
			regs[ins.Dst] ^= uint64(int64(ins.Immediate))
		case OpcodeXORSRC:
			regs[ins.Dst] ^= regs[ins.Src]
		case OpcodeMOVIMM:
			regs[ins.Dst] = uint64(int64(ins.Immediate))
		case OpcodeMOVSRC:
			regs[ins.Dst] = regs[ins.Src]
		case OpcodeARSHIMM:
			regs[ins.Dst] = uint64(int64(regs[ins.Dst]) >> uint64(ins.Immediate))
		case OpcodeARSHSRC:
			regs[ins.Dst] = uint64(int64(regs[ins.Dst]) >> (regs[ins.Src] & 63))

		// 32-bit ALU. Results are zero-extended into the destination.
		case OpcodeADD32IMM:
			regs[ins.Dst] = uint64(uint32(regs[ins.Dst]) + uint32(ins.Immediate))
		case OpcodeADD32SRC:
			regs[ins.Dst] = uint64(uint32(regs[ins.Dst]) + uint32(regs[ins.Src]))
		case OpcodeSUB32IMM:
			regs[ins.Dst] = uint64(uint32(regs[ins.Dst]) - uint32(ins.Immediate))
		case OpcodeSUB32SRC:
			regs[ins.Dst] = uint64(uint32(regs[ins.Dst]) - uint32(regs[ins.Src]))
		case OpcodeMUL32IMM:
			regs[ins.Dst] = uint64(uint32(regs[ins.Dst]) * uint32(ins.Immediate))
		case OpcodeMUL32SRC:
			regs[ins.Dst] = uint64(uint32(regs[ins.Dst]) * uint32(regs[ins.Src]))
		case OpcodeDIV32IMM:
			regs[ins.Dst] = uint64(uint32(regs[ins.Dst]) / uint32(ins.Immediate))
		case OpcodeDIV32SRC:
			if uint32(regs[ins.Src]) == 0 {
				return 0, &DivByZeroFault{PC: pc}
			}
			regs[ins.Dst] = uint64(uint32(regs[ins.Dst]) / uint32(regs[ins.Src]))
		case OpcodeOR32IMM:
			regs[ins.Dst] = uint64(uint32(regs[ins.Dst]) | uint32(ins.Immediate))
		case OpcodeOR32SRC:
			regs[ins.Dst] = uint64(uint32(regs[ins.Dst]) | uint32(regs[ins.Src]))
		case OpcodeAND32IMM:
			regs[ins.Dst] = uint64(uint32(regs[ins.Dst]) & uint32(ins.Immediate))
		case OpcodeAND32SRC:
			regs[ins.Dst] = uint64(uint32(regs[ins.Dst]) & uint32(regs[ins.Src]))
		case OpcodeLSH32IMM:
			regs[ins.Dst] = uint64(uint32(regs[ins.Dst]) << uint32(ins.Immediate))
		case OpcodeLSH32SRC:
			regs[ins.Dst] = uint64(uint32(regs[ins.Dst]) << (uint32(regs[ins.Src]) & 31))
		case OpcodeRSH32IMM:
			regs[ins.Dst] = uint64(uint32(regs[ins.Dst]) >> uint32(ins.Immediate))
		case OpcodeRSH32SRC:
			regs[ins.Dst] = uint64(uint32(regs[ins.Dst]) >> (uint32(regs[ins.Src]) & 31))
		case OpcodeNEG32:
			regs[ins.Dst] = uint64(uint32(-int32(regs[ins.Dst])))
		case OpcodeMOD32IMM:
			regs[ins.Dst] = uint64(uint32(regs[ins.Dst]) % uint32(ins.Immediate))
		case OpcodeMOD32SRC:
			if uint32(regs[ins.Src]) == 0 {
				return 0, &DivByZeroFault{PC: pc}
			}
			regs[ins.Dst] = uint64(uint32(regs[ins.Dst]) % uint32(regs[ins.Src]))
		case OpcodeXOR32IMM:
			regs[ins.Dst] = uint64(uint32(regs[ins.Dst]) ^ uint32(ins.Immediate))
		case OpcodeXOR32SRC:
			regs[ins.Dst] = uint64(uint32(regs[ins.Dst]) ^ uint32(regs[ins.Src]))
		case OpcodeMOV32IMM:
			regs[ins.Dst] = uint64(uint32(ins.Immediate))
		case OpcodeMOV32SRC:
			regs[ins.Dst] = uint64(uint32(regs[ins.Src]))
		case OpcodeARSH32IMM:
			regs[ins.Dst] = uint64(uint32(int32(regs[ins.Dst]) >> uint32(ins.Immediate)))
		case OpcodeARSH32SRC:
			regs[ins.Dst] = uint64(uint32(int32(regs[ins.Dst]) >> (uint32(regs[ins.Src]) & 31)))

		// Byteswap.
		case OpcodeLE:
			switch ins.Immediate {
			case 16:
				regs[ins.Dst] = uint64(uint16(regs[ins.Dst]))
			case 32:
				regs[ins.Dst] = uint64(uint32(regs[ins.Dst]))
			}
		case OpcodeBE:
			switch ins.Immediate {
			case 16:
				regs[ins.Dst] = uint64(bits.ReverseBytes16(uint16(regs[ins.Dst])))
			case 32:
				regs[ins.Dst] = uint64(bits.ReverseBytes32(uint32(regs[ins.Dst])))
			case 64:
				regs[ins.Dst] = bits.ReverseBytes64(regs[ins.Dst])
			}

		// Memory.
		case OpcodeLDDW:
			regs[ins.Dst] = uint64(uint32(ins.Immediate)) |
				uint64(uint32(vm.insns[pc+1].Immediate))<<32
			next = pc + 2
		case OpcodeLDXW:
			regs[ins.Dst] = uint64(load32(regs[ins.Src], ins.Offset))
		case OpcodeLDXH:
			regs[ins.Dst] = uint64(load16(regs[ins.Src], ins.Offset))
		case OpcodeLDXB:
			regs[ins.Dst] = uint64(load8(regs[ins.Src], ins.Offset))
		case OpcodeLDXDW:
			regs[ins.Dst] = load64(regs[ins.Src], ins.Offset)
		case OpcodeSTW:
			store32(regs[ins.Dst], ins.Offset, uint32(ins.Immediate))
		case OpcodeSTH:
			store16(regs[ins.Dst], ins.Offset, uint16(ins.Immediate))
		case OpcodeSTB:
			store8(regs[ins.Dst], ins.Offset, uint8(ins.Immediate))
		case OpcodeSTDW:
			store64(regs[ins.Dst], ins.Offset, uint64(int64(ins.Immediate)))
		case OpcodeSTXW:
			store32(regs[ins.Dst], ins.Offset, uint32(regs[ins.Src]))
		case OpcodeSTXH:
			store16(regs[ins.Dst], ins.Offset, uint16(regs[ins.Src]))
		case OpcodeSTXB:
			store8(regs[ins.Dst], ins.Offset, uint8(regs[ins.Src]))
		case OpcodeSTXDW:
			store64(regs[ins.Dst], ins.Offset, regs[ins.Src])

		// Branches. Unsigned comparisons sign-extend the immediate first,
		// then compare unsigned, per the ISA.
		case OpcodeJA:
			next = pc + 1 + int(ins.Offset)
		case OpcodeJEQIMM:
			if regs[ins.Dst] == uint64(int64(ins.Immediate)) {
				next = pc + 1 + int(ins.Offset)
			}
		case OpcodeJEQSRC:
			if regs[ins.Dst] == regs[ins.Src] {
				next = pc + 1 + int(ins.Offset)
			}
		case OpcodeJGTIMM:
			if regs[ins.Dst] > uint64(int64(ins.Immediate)) {
				next = pc + 1 + int(ins.Offset)
			}
		case OpcodeJGTSRC:
			if regs[ins.Dst] > regs[ins.Src] {
				next = pc + 1 + int(ins.Offset)
			}
		case OpcodeJGEIMM:
			if regs[ins.Dst] >= uint64(int64(ins.Immediate)) {
				next = pc + 1 + int(ins.Offset)
			}
		case OpcodeJGESRC:
			if regs[ins.Dst] >= regs[ins.Src] {
				next = pc + 1 + int(ins.Offset)
			}
		case OpcodeJLTIMM:
			if regs[ins.Dst] < uint64(int64(ins.Immediate)) {
				next = pc + 1 + int(ins.Offset)
			}
		case OpcodeJLTSRC:
			if regs[ins.Dst] < regs[ins.Src] {
				next = pc + 1 + int(ins.Offset)
			}
		case OpcodeJLEIMM:
			if regs[ins.Dst] <= uint64(int64(ins.Immediate)) {
				next = pc + 1 + int(ins.Offset)
			}
		case OpcodeJLESRC:
			if regs[ins.Dst] <= regs[ins.Src] {
				next = pc + 1 + int(ins.Offset)
			}
		case OpcodeJSETIMM:
			if regs[ins.Dst]&uint64(int64(ins.Immediate)) != 0 {
				next = pc + 1 + int(ins.Offset)
			}
		case OpcodeJSETSRC:
			if regs[ins.Dst]&regs[ins.Src] != 0 {
				next = pc + 1 + int(ins.Offset)
			}
		case OpcodeJNEIMM:
			if regs[ins.Dst] != uint64(int64(ins.Immediate)) {
				next = pc + 1 + int(ins.Offset)
			}
		case OpcodeJNESRC:
			if regs[ins.Dst] != regs[ins.Src] {
				next = pc + 1 + int(ins.Offset)
			}
		case OpcodeJSGTIMM:
			if int64(regs[ins.Dst]) > int64(ins.Immediate) {
				next = pc + 1 + int(ins.Offset)
			}
		case OpcodeJSGTSRC:
			if int64(regs[ins.Dst]) > int64(regs[ins.Src]) {
				next = pc + 1 + int(ins.Offset)
			}
		case OpcodeJSGEIMM:
			if int64(regs[ins.Dst]) >= int64(ins.Immediate) {
				next = pc + 1 + int(ins.Offset)
			}
		case OpcodeJSGESRC:
			if int64(regs[ins.Dst]) >= int64(regs[ins.Src]) {
				next = pc + 1 + int(ins.Offset)
			}
		case OpcodeJSLTIMM:
			if int64(regs[ins.Dst]) < int64(ins.Immediate) {
				next = pc + 1 + int(ins.Offset)
			}
		case OpcodeJSLTSRC:
			if int64(regs[ins.Dst]) < int64(regs[ins.Src]) {
				next = pc + 1 + int(ins.Offset)
			}
		case OpcodeJSLEIMM:
			if int64(regs[ins.Dst]) <= int64(ins.Immediate) {
				next = pc + 1 + int(ins.Offset)
			}
		case OpcodeJSLESRC:
			if int64(regs[ins.Dst]) <= int64(regs[ins.Src]) {
				next = pc + 1 + int(ins.Offset)
			}

		case OpcodeCALL:
			key := uint32(ins.Immediate)
			fn, ok := vm.helpers[key]
			if !ok {
				return 0, &UnknownHelperFault{Key: key, PC: pc}
			}
			regs[0] = fn(regs[1], regs[2], regs[3], regs[4], regs[5])

		case OpcodeEXIT:
			return regs[0], nil
		}

		pc = next
	}
}

func load8(base uint64, off int16) uint8 {
	return *(*uint8)(unsafe.Pointer(uintptr(base + uint64(int64(off)))))
}

func load16(base uint64, off int16) uint16 {
	return *(*uint16)(unsafe.Pointer(uintptr(base + uint64(int64(off)))))
}

func load32(base uint64, off int16) uint32 {
	return *(*uint32)(unsafe.Pointer(uintptr(base + uint64(int64(off)))))
}

func load64(base uint64, off int16) uint64 {
	return *(*uint64)(unsafe.Pointer(uintptr(base + uint64(int64(off)))))
}

func store8(base uint64, off int16, v uint8) {
	*(*uint8)(unsafe.Pointer(uintptr(base + uint64(int64(off))))) = v
}

func store16(base uint64, off int16, v uint16) {
	*(*uint16)(unsafe.Pointer(uintptr(base + uint64(int64(off))))) = v
}

func store32(base uint64, off int16, v uint32) {
	*(*uint32)(unsafe.Pointer(uintptr(base + uint64(int64(off))))) = v
}

func store64(base uint64, off int16, v uint64) {
	*(*uint64)(unsafe.Pointer(uintptr(base + uint64(int64(off))))) = v
}
