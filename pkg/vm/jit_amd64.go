//go:build linux && amd64

package vm

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// The translator walks the verified instruction stream once, emitting raw
// x86-64 for each eBPF instruction and recording the native offset of each
// eBPF pc so branches can be patched in a linear fixup pass afterwards.
//
// Register allocation is fixed:
//
//	R0..R5  -> rax, rdi, rsi, rdx, r9, r8
//	R6..R9  -> rbx, r13, r12, r15
//	R10     -> rbp
//
// This is the classic user-space eBPF mapping except that host r12 stands
// in for r14: the Go runtime keeps the goroutine pointer in r14 and the
// emitted code must never touch it. Host r10 is reserved for the context
// block pointer, r11 and rcx are scratch.
//
// Emitted code cannot call Go functions, so a helper call stores its
// arguments, the helper key and a resume offset into the context block,
// sets the status word and returns to the trampoline. The Go side runs the
// helper and re-enters the code at the resume offset, where a re-entry
// prologue restores the callee-saved guest registers.

// Host register numbers.
const (
	rax = 0
	rcx = 1
	rdx = 2
	rbx = 3
	rsp = 4
	rbp = 5
	rsi = 6
	rdi = 7
	r8  = 8
	r9  = 9
	r10 = 10
	r11 = 11
	r12 = 12
	r13 = 13
	r14 = 14
	r15 = 15
)

// ctxReg holds the jitContext pointer for the whole run.
const ctxReg = r10

// regMap maps eBPF registers to host registers.
var regMap = [NumRegisters]int{rax, rdi, rsi, rdx, r9, r8, rbx, r13, r12, r15, rbp}

// hostCalleeSaved are the registers the prologue must preserve for the Go
// caller, in push order.
var hostCalleeSaved = [5]int{rbp, rbx, r12, r13, r15}

// Status word values.
const (
	jitStatusReturned   = 1
	jitStatusCallHelper = 2
)

// jitcall transfers control to emitted code with ctx in host r10.
// Implemented in jit_call_amd64.s.
func jitcall(entry, ctx uintptr)

// jitContext is the block shared between Go and the emitted code. Every
// field is 8 bytes wide; the emitted code addresses them by the offsets
// below.
type jitContext struct {
	status     uint64
	r0         uint64 // result on exit, helper return on resume
	arg1       uint64
	arg2       uint64
	stackTop   uint64
	helperKey  uint64
	resume     uint64 // native offset to re-enter at after a helper call
	helperArgs [5]uint64
	saved      [5]uint64 // R6..R9, R10 across a helper call
}

var ctxProto jitContext

var (
	offStatus    = int32(unsafe.Offsetof(ctxProto.status))
	offR0        = int32(unsafe.Offsetof(ctxProto.r0))
	offArg1      = int32(unsafe.Offsetof(ctxProto.arg1))
	offArg2      = int32(unsafe.Offsetof(ctxProto.arg2))
	offStackTop  = int32(unsafe.Offsetof(ctxProto.stackTop))
	offHelperKey = int32(unsafe.Offsetof(ctxProto.helperKey))
	offResume    = int32(unsafe.Offsetof(ctxProto.resume))
	offArgs      = int32(unsafe.Offsetof(ctxProto.helperArgs))
	offSaved     = int32(unsafe.Offsetof(ctxProto.saved))
)

// jitProgram is a compiled image: an executable buffer plus the helper
// registry snapshot taken at compile time.
type jitProgram struct {
	buf     []byte
	helpers map[uint32]HelperFn
}

func compile(vm *VM) (*jitProgram, error) {
	helpers := make(map[uint32]HelperFn, len(vm.helpers))
	for k, fn := range vm.helpers {
		helpers[k] = fn
	}

	c := &jitCompiler{
		code:  make([]byte, 0, 4096),
		pcLoc: make([]int32, len(vm.insns)),
	}
	if err := c.translate(vm.insns, helpers); err != nil {
		return nil, err
	}

	buf, err := unix.Mmap(-1, 0, len(c.code),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("jit: mmap: %w", err)
	}
	copy(buf, c.code)
	if err := unix.Mprotect(buf, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		unix.Munmap(buf)
		return nil, fmt.Errorf("jit: mprotect: %w", err)
	}

	if vm.logger.IsLevelEnabled(logrus.DebugLevel) {
		dumpNative(vm.logger, c.code)
	}
	return &jitProgram{buf: buf, helpers: helpers}, nil
}

func (p *jitProgram) run(r1, r2 uint64) (uint64, error) {
	stack := make([]byte, StackSize)
	ctx := &jitContext{
		arg1:     r1,
		arg2:     r2,
		stackTop: uint64(uintptr(unsafe.Pointer(&stack[0]))) + StackSize,
	}

	base := uintptr(unsafe.Pointer(&p.buf[0]))
	entry := base
	for {
		jitcall(entry, uintptr(unsafe.Pointer(ctx)))
		switch ctx.status {
		case jitStatusReturned:
			ret := ctx.r0
			runtime.KeepAlive(ctx)
			runtime.KeepAlive(&stack)
			return ret, nil
		case jitStatusCallHelper:
			// Presence was checked at compile time.
			fn := p.helpers[uint32(ctx.helperKey)]
			a := ctx.helperArgs
			ctx.r0 = fn(a[0], a[1], a[2], a[3], a[4])
			entry = base + uintptr(ctx.resume)
		default:
			return 0, fmt.Errorf("jit: corrupt status word %#x", ctx.status)
		}
	}
}

func (p *jitProgram) release() {
	if p.buf != nil {
		unix.Munmap(p.buf)
		p.buf = nil
	}
}

// jumpFixup records a rel32 slot that needs patching once all native
// offsets are known.
type jumpFixup struct {
	loc    int // offset of the rel32 within code
	target int // eBPF pc it must reach
}

type jitCompiler struct {
	code     []byte
	pcLoc    []int32
	jumps    []jumpFixup
	epilogue []int // rel32 slots that jump to the shared epilogue
}

func (c *jitCompiler) translate(insns []Instruction, helpers map[uint32]HelperFn) error {
	c.prologue()

	for pc := 0; pc < len(insns); pc++ {
		c.pcLoc[pc] = int32(len(c.code))
		ins := insns[pc]
		dst := regMap[ins.Dst]
		src := regMap[ins.Src]

		switch ins.Opcode {
		case OpcodeADDIMM:
			c.aluImm(true, 0, dst, ins.Immediate)
		case OpcodeADDSRC:
			c.aluRegReg(true, 0x01, src, dst)
		case OpcodeSUBIMM:
			c.aluImm(true, 5, dst, ins.Immediate)
		case OpcodeSUBSRC:
			c.aluRegReg(true, 0x29, src, dst)
		case OpcodeMULIMM:
			c.mulImm(true, dst, ins.Immediate)
		case OpcodeMULSRC:
			c.mulReg(true, dst, src)
		case OpcodeDIVIMM, OpcodeDIVSRC, OpcodeMODIMM, OpcodeMODSRC:
			c.divmod(true, ins)
		case OpcodeORIMM:
			c.aluImm(true, 1, dst, ins.Immediate)
		case OpcodeORSRC:
			c.aluRegReg(true, 0x09, src, dst)
		case OpcodeANDIMM:
			c.aluImm(true, 4, dst, ins.Immediate)
		case OpcodeANDSRC:
			c.aluRegReg(true, 0x21, src, dst)
		case OpcodeLSHIMM:
			c.shiftImm(true, 4, dst, ins.Immediate)
		case OpcodeLSHSRC:
			c.shiftReg(true, 4, dst, src)
		case OpcodeRSHIMM:
			c.shiftImm(true, 5, dst, ins.Immediate)
		case OpcodeRSHSRC:
			c.shiftReg(true, 5, dst, src)
		case OpcodeNEG:
			c.neg(true, dst)
		case OpcodeXORIMM:
			c.aluImm(true, 6, dst, ins.Immediate)
		case OpcodeXORSRC:
			c.aluRegReg(true, 0x31, src, dst)
		case OpcodeMOVIMM:
			c.movImmSx(dst, ins.Immediate)
		case OpcodeMOVSRC:
			c.aluRegReg(true, 0x89, src, dst)
		case OpcodeARSHIMM:
			c.shiftImm(true, 7, dst, ins.Immediate)
		case OpcodeARSHSRC:
			c.shiftReg(true, 7, dst, src)

		case OpcodeADD32IMM:
			c.aluImm(false, 0, dst, ins.Immediate)
		case OpcodeADD32SRC:
			c.aluRegReg(false, 0x01, src, dst)
		case OpcodeSUB32IMM:
			c.aluImm(false, 5, dst, ins.Immediate)
		case OpcodeSUB32SRC:
			c.aluRegReg(false, 0x29, src, dst)
		case OpcodeMUL32IMM:
			c.mulImm(false, dst, ins.Immediate)
		case OpcodeMUL32SRC:
			c.mulReg(false, dst, src)
		case OpcodeDIV32IMM, OpcodeDIV32SRC, OpcodeMOD32IMM, OpcodeMOD32SRC:
			c.divmod(false, ins)
		case OpcodeOR32IMM:
			c.aluImm(false, 1, dst, ins.Immediate)
		case OpcodeOR32SRC:
			c.aluRegReg(false, 0x09, src, dst)
		case OpcodeAND32IMM:
			c.aluImm(false, 4, dst, ins.Immediate)
		case OpcodeAND32SRC:
			c.aluRegReg(false, 0x21, src, dst)
		case OpcodeLSH32IMM:
			c.shiftImm(false, 4, dst, ins.Immediate)
		case OpcodeLSH32SRC:
			c.shiftReg(false, 4, dst, src)
		case OpcodeRSH32IMM:
			c.shiftImm(false, 5, dst, ins.Immediate)
		case OpcodeRSH32SRC:
			c.shiftReg(false, 5, dst, src)
		case OpcodeNEG32:
			c.neg(false, dst)
		case OpcodeXOR32IMM:
			c.aluImm(false, 6, dst, ins.Immediate)
		case OpcodeXOR32SRC:
			c.aluRegReg(false, 0x31, src, dst)
		case OpcodeMOV32IMM:
			c.movImm32(dst, uint32(ins.Immediate))
		case OpcodeMOV32SRC:
			c.aluRegReg(false, 0x89, src, dst)
		case OpcodeARSH32IMM:
			c.shiftImm(false, 7, dst, ins.Immediate)
		case OpcodeARSH32SRC:
			c.shiftReg(false, 7, dst, src)

		case OpcodeLE:
			switch ins.Immediate {
			case 16:
				c.movzx16(dst, dst)
			case 32:
				// mov edst, edst zero-extends.
				c.aluRegReg(false, 0x89, dst, dst)
			case 64:
				// No-op on a little-endian target.
			}
		case OpcodeBE:
			switch ins.Immediate {
			case 16:
				// ror dst16, 8 then clear the upper bits.
				c.emit(0x66)
				c.emitRex(false, 0, dst)
				c.emit(0xc1, modRegReg(1, dst), 0x08)
				c.movzx16(dst, dst)
			case 32:
				c.bswap(false, dst)
			case 64:
				c.bswap(true, dst)
			}

		case OpcodeLDDW:
			v := uint64(uint32(ins.Immediate)) |
				uint64(uint32(insns[pc+1].Immediate))<<32
			c.movImm64(dst, v)
			pc++
			c.pcLoc[pc] = int32(len(c.code))

		case OpcodeLDXB:
			c.load(0xb6, dst, src, ins.Offset)
		case OpcodeLDXH:
			c.load(0xb7, dst, src, ins.Offset)
		case OpcodeLDXW:
			c.emitRex(false, dst, src)
			c.emit(0x8b)
			c.emitMem(dst, src, int32(ins.Offset))
		case OpcodeLDXDW:
			c.emitRex(true, dst, src)
			c.emit(0x8b)
			c.emitMem(dst, src, int32(ins.Offset))

		case OpcodeSTB:
			c.emitRex(false, 0, dst)
			c.emit(0xc6)
			c.emitMem(0, dst, int32(ins.Offset))
			c.emit(byte(ins.Immediate))
		case OpcodeSTH:
			c.emit(0x66)
			c.emitRex(false, 0, dst)
			c.emit(0xc7)
			c.emitMem(0, dst, int32(ins.Offset))
			c.emit16(uint16(ins.Immediate))
		case OpcodeSTW:
			c.emitRex(false, 0, dst)
			c.emit(0xc7)
			c.emitMem(0, dst, int32(ins.Offset))
			c.emit32(uint32(ins.Immediate))
		case OpcodeSTDW:
			// Sign-extends the immediate, per the ISA.
			c.emitRex(true, 0, dst)
			c.emit(0xc7)
			c.emitMem(0, dst, int32(ins.Offset))
			c.emit32(uint32(ins.Immediate))

		case OpcodeSTXB:
			// The byte form needs a REX prefix even for low registers so
			// sil/dil are addressable.
			c.emit(rexByte(false, src, dst), 0x88)
			c.emitMem(src, dst, int32(ins.Offset))
		case OpcodeSTXH:
			c.emit(0x66)
			c.emitRex(false, src, dst)
			c.emit(0x89)
			c.emitMem(src, dst, int32(ins.Offset))
		case OpcodeSTXW:
			c.emitRex(false, src, dst)
			c.emit(0x89)
			c.emitMem(src, dst, int32(ins.Offset))
		case OpcodeSTXDW:
			c.emitRex(true, src, dst)
			c.emit(0x89)
			c.emitMem(src, dst, int32(ins.Offset))

		case OpcodeJA:
			c.emit(0xe9)
			c.jumps = append(c.jumps, jumpFixup{loc: len(c.code), target: pc + 1 + int(ins.Offset)})
			c.emit32(0)
		case OpcodeJEQIMM, OpcodeJGTIMM, OpcodeJGEIMM, OpcodeJNEIMM,
			OpcodeJSGTIMM, OpcodeJSGEIMM, OpcodeJLTIMM, OpcodeJLEIMM,
			OpcodeJSLTIMM, OpcodeJSLEIMM:
			c.aluImm(true, 7, dst, ins.Immediate)
			c.branch(conditionCode(ins.Opcode), pc, ins.Offset)
		case OpcodeJEQSRC, OpcodeJGTSRC, OpcodeJGESRC, OpcodeJNESRC,
			OpcodeJSGTSRC, OpcodeJSGESRC, OpcodeJLTSRC, OpcodeJLESRC,
			OpcodeJSLTSRC, OpcodeJSLESRC:
			c.aluRegReg(true, 0x39, src, dst)
			c.branch(conditionCode(ins.Opcode), pc, ins.Offset)
		case OpcodeJSETIMM:
			c.emitRex(true, 0, dst)
			c.emit(0xf7, modRegReg(0, dst))
			c.emit32(uint32(ins.Immediate))
			c.branch(0x85, pc, ins.Offset)
		case OpcodeJSETSRC:
			c.aluRegReg(true, 0x85, src, dst)
			c.branch(0x85, pc, ins.Offset)

		case OpcodeCALL:
			key := uint32(ins.Immediate)
			if _, ok := helpers[key]; !ok {
				return &UnknownHelperFault{Key: key, PC: pc}
			}
			c.helperCall(ins.Immediate)

		case OpcodeEXIT:
			c.movCtxImm(offStatus, jitStatusReturned)
			c.jmpEpilogue()

		default:
			// The verifier admits nothing else.
			return &UnsupportedOpcodeError{Opcode: ins.Opcode, PC: pc}
		}
	}

	c.emitEpilogue()
	c.resolveFixups()
	return nil
}

// prologue saves the host callee-saved registers, loads the entry
// arguments and zeroes the remaining guest registers.
func (c *jitCompiler) prologue() {
	for _, r := range hostCalleeSaved {
		c.push(r)
	}
	c.movFromCtx(rdi, offArg1)
	c.movFromCtx(rsi, offArg2)
	c.movFromCtx(rbp, offStackTop)
	for _, r := range [...]int{rax, rdx, r8, r9, rbx, r12, r13, r15} {
		c.aluRegReg(false, 0x31, r, r)
	}
}

// emitEpilogue is the single exit path: it publishes R0, restores the host
// registers and returns to the trampoline.
func (c *jitCompiler) emitEpilogue() {
	here := len(c.code)
	for _, loc := range c.epilogue {
		c.patchRel32(loc, here)
	}
	c.epilogue = nil

	c.movCtx(offR0, rax)
	for i := len(hostCalleeSaved) - 1; i >= 0; i-- {
		c.pop(hostCalleeSaved[i])
	}
	c.emit(0xc3)
}

// helperCall emits the exit-and-resume sequence for CALL imm.
func (c *jitCompiler) helperCall(imm int32) {
	c.movCtx(offArgs+0, rdi)
	c.movCtx(offArgs+8, rsi)
	c.movCtx(offArgs+16, rdx)
	c.movCtx(offArgs+24, r9)
	c.movCtx(offArgs+32, r8)
	c.movCtx(offSaved+0, rbx)
	c.movCtx(offSaved+8, r13)
	c.movCtx(offSaved+16, r12)
	c.movCtx(offSaved+24, r15)
	c.movCtx(offSaved+32, rbp)
	c.movCtxImm(offHelperKey, imm)
	resumeImm := c.movCtxImm(offResume, 0)
	c.movCtxImm(offStatus, jitStatusCallHelper)
	c.jmpEpilogue()

	// Re-entry point: a fresh prologue, then the guest state comes back
	// out of the context block. R1..R5 are clobbered by the call per the
	// ABI; whatever the host registers hold is fine.
	resume := len(c.code)
	binary.LittleEndian.PutUint32(c.code[resumeImm:], uint32(resume))
	for _, r := range hostCalleeSaved {
		c.push(r)
	}
	c.movFromCtx(rax, offR0)
	c.movFromCtx(rbx, offSaved+0)
	c.movFromCtx(r13, offSaved+8)
	c.movFromCtx(r12, offSaved+16)
	c.movFromCtx(r15, offSaved+24)
	c.movFromCtx(rbp, offSaved+32)
}

// divmod emits DIV and MOD for both widths. The dividend moves through
// rax/rdx, the divisor through rcx. A runtime zero divisor makes the
// program return 0xffffffffffffffff and exit cleanly; this asymmetry with
// the interpreter is part of the contract.
func (c *jitCompiler) divmod(w bool, ins Instruction) {
	dst := regMap[ins.Dst]
	isMod := ins.Opcode&0xf0 == 0x90

	if ins.Opcode&0x08 != 0 {
		c.aluRegReg(w, 0x89, regMap[ins.Src], rcx)
		c.aluRegReg(w, 0x85, rcx, rcx)
		skip := c.jcc(0x85)
		c.movImmSx(rax, -1)
		c.movCtxImm(offStatus, jitStatusReturned)
		c.jmpEpilogue()
		c.patchRel32(skip, len(c.code))
	} else if w {
		// The verifier rejects zero immediates, no runtime check needed.
		c.movImmSx(rcx, ins.Immediate)
	} else {
		c.movImm32(rcx, uint32(ins.Immediate))
	}

	saveRax := dst != rax
	saveRdx := dst != rdx
	if saveRax {
		c.push(rax)
	}
	if saveRdx {
		c.push(rdx)
	}
	if dst != rax {
		c.aluRegReg(w, 0x89, dst, rax)
	}
	c.aluRegReg(false, 0x31, rdx, rdx)
	c.emitRex(w, 0, rcx)
	c.emit(0xf7, modRegReg(6, rcx))
	res := rax
	if isMod {
		res = rdx
	}
	if dst != res {
		c.aluRegReg(w, 0x89, res, dst)
	}
	if saveRdx {
		c.pop(rdx)
	}
	if saveRax {
		c.pop(rax)
	}
}

// branch emits a jcc rel32 toward an eBPF target, patched later.
func (c *jitCompiler) branch(cc byte, pc int, off int16) {
	c.emit(0x0f, cc)
	c.jumps = append(c.jumps, jumpFixup{loc: len(c.code), target: pc + 1 + int(off)})
	c.emit32(0)
}

// conditionCode maps a conditional-jump opcode to the x86 jcc opcode. The
// operand order of cmp matches the dst-vs-src order of the guest compare,
// so the condition carries over directly.
func conditionCode(opcode uint8) byte {
	switch opcode & 0xf0 {
	case 0x10: // jeq
		return 0x84
	case 0x20: // jgt, unsigned
		return 0x87
	case 0x30: // jge, unsigned
		return 0x83
	case 0x50: // jne
		return 0x85
	case 0x60: // jsgt
		return 0x8f
	case 0x70: // jsge
		return 0x8d
	case 0xa0: // jlt, unsigned
		return 0x82
	case 0xb0: // jle, unsigned
		return 0x86
	case 0xc0: // jslt
		return 0x8c
	default: // 0xd0: jsle
		return 0x8e
	}
}

func (c *jitCompiler) resolveFixups() {
	for _, f := range c.jumps {
		c.patchRel32(f.loc, int(c.pcLoc[f.target]))
	}
}

// ---- raw emission helpers ----

func (c *jitCompiler) emit(bs ...byte) {
	c.code = append(c.code, bs...)
}

func (c *jitCompiler) emit16(v uint16) {
	c.code = binary.LittleEndian.AppendUint16(c.code, v)
}

func (c *jitCompiler) emit32(v uint32) {
	c.code = binary.LittleEndian.AppendUint32(c.code, v)
}

func (c *jitCompiler) emit64(v uint64) {
	c.code = binary.LittleEndian.AppendUint64(c.code, v)
}

// rexByte builds a REX prefix. w selects 64-bit operands, reg extends the
// ModRM.reg field, rm the ModRM.rm field.
func rexByte(w bool, reg, rm int) byte {
	b := byte(0x40)
	if w {
		b |= 0x08
	}
	if reg >= 8 {
		b |= 0x04
	}
	if rm >= 8 {
		b |= 0x01
	}
	return b
}

// emitRex emits a REX prefix when one is required.
func (c *jitCompiler) emitRex(w bool, reg, rm int) {
	if b := rexByte(w, reg, rm); b != 0x40 {
		c.emit(b)
	}
}

func modRegReg(reg, rm int) byte {
	return byte(0xc0 | (reg&7)<<3 | rm&7)
}

// emitMem emits the ModRM byte, SIB if the base demands one, and the
// displacement for a [base+disp] operand.
func (c *jitCompiler) emitMem(reg, base int, disp int32) {
	b := base & 7
	regBits := byte((reg & 7) << 3)
	switch {
	case disp == 0 && b != 5: // rbp/r13 encodings require a displacement
		if b == 4 {
			c.emit(regBits|4, 0x24)
		} else {
			c.emit(regBits | byte(b))
		}
	case disp >= -128 && disp <= 127:
		if b == 4 {
			c.emit(0x40|regBits|4, 0x24, byte(disp))
		} else {
			c.emit(0x40|regBits|byte(b), byte(disp))
		}
	default:
		if b == 4 {
			c.emit(0x80|regBits|4, 0x24)
		} else {
			c.emit(0x80 | regBits | byte(b))
		}
		c.emit32(uint32(disp))
	}
}

func (c *jitCompiler) push(r int) {
	if r >= 8 {
		c.emit(0x41)
	}
	c.emit(0x50 + byte(r&7))
}

func (c *jitCompiler) pop(r int) {
	if r >= 8 {
		c.emit(0x41)
	}
	c.emit(0x58 + byte(r&7))
}

// aluRegReg emits a two-operand /r instruction (op src, dst order for the
// 0x01/0x09/... store-form opcodes).
func (c *jitCompiler) aluRegReg(w bool, op byte, src, dst int) {
	c.emitRex(w, src, dst)
	c.emit(op, modRegReg(src, dst))
}

// aluImm emits an 0x81-group instruction with a sign-extended imm32.
func (c *jitCompiler) aluImm(w bool, ext, dst int, imm int32) {
	c.emitRex(w, 0, dst)
	c.emit(0x81, modRegReg(ext, dst))
	c.emit32(uint32(imm))
}

func (c *jitCompiler) mulImm(w bool, dst int, imm int32) {
	c.emitRex(w, dst, dst)
	c.emit(0x69, modRegReg(dst, dst))
	c.emit32(uint32(imm))
}

func (c *jitCompiler) mulReg(w bool, dst, src int) {
	c.emitRex(w, dst, src)
	c.emit(0x0f, 0xaf, modRegReg(dst, src))
}

func (c *jitCompiler) neg(w bool, dst int) {
	c.emitRex(w, 0, dst)
	c.emit(0xf7, modRegReg(3, dst))
}

func (c *jitCompiler) shiftImm(w bool, ext, dst int, imm int32) {
	c.emitRex(w, 0, dst)
	c.emit(0xc1, modRegReg(ext, dst), byte(imm))
}

// shiftReg shifts dst by the source register. The count goes through cl,
// which the hardware masks to the operand width; the interpreter masks the
// same way.
func (c *jitCompiler) shiftReg(w bool, ext, dst, src int) {
	c.aluRegReg(true, 0x89, src, rcx)
	c.emitRex(w, 0, dst)
	c.emit(0xd3, modRegReg(ext, dst))
}

// movImm32 emits a 32-bit mov, zero-extending into the full register.
func (c *jitCompiler) movImm32(dst int, imm uint32) {
	if dst >= 8 {
		c.emit(0x41)
	}
	c.emit(0xb8 + byte(dst&7))
	c.emit32(imm)
}

// movImmSx emits mov dst, imm32 sign-extended to 64 bits.
func (c *jitCompiler) movImmSx(dst int, imm int32) {
	c.emit(rexByte(true, 0, dst), 0xc7, modRegReg(0, dst))
	c.emit32(uint32(imm))
}

func (c *jitCompiler) movImm64(dst int, imm uint64) {
	c.emit(rexByte(true, 0, dst), 0xb8+byte(dst&7))
	c.emit64(imm)
}

// movzx16 zero-extends the low 16 bits of src into dst.
func (c *jitCompiler) movzx16(dst, src int) {
	c.emitRex(false, dst, src)
	c.emit(0x0f, 0xb7, modRegReg(dst, src))
}

func (c *jitCompiler) bswap(w bool, dst int) {
	c.emitRex(w, 0, dst)
	c.emit(0x0f, 0xc8+byte(dst&7))
}

// load emits a zero-extending movzx load (0xb6 byte, 0xb7 half).
func (c *jitCompiler) load(op byte, dst, base int, off int16) {
	c.emitRex(false, dst, base)
	c.emit(0x0f, op)
	c.emitMem(dst, base, int32(off))
}

// movCtx stores a host register into the context block.
func (c *jitCompiler) movCtx(off int32, src int) {
	c.emit(rexByte(true, src, ctxReg), 0x89)
	c.emitMem(src, ctxReg, off)
}

// movFromCtx loads a host register from the context block.
func (c *jitCompiler) movFromCtx(dst int, off int32) {
	c.emit(rexByte(true, dst, ctxReg), 0x8b)
	c.emitMem(dst, ctxReg, off)
}

// movCtxImm stores a sign-extended imm32 into the context block and
// returns the offset of the immediate within the code for patching.
func (c *jitCompiler) movCtxImm(off int32, imm int32) int {
	c.emit(rexByte(true, 0, ctxReg), 0xc7)
	c.emitMem(0, ctxReg, off)
	loc := len(c.code)
	c.emit32(uint32(imm))
	return loc
}

// jcc emits a conditional jump with an unresolved rel32 and returns the
// location of the rel32 for patching.
func (c *jitCompiler) jcc(cc byte) int {
	c.emit(0x0f, cc)
	loc := len(c.code)
	c.emit32(0)
	return loc
}

func (c *jitCompiler) jmpEpilogue() {
	c.emit(0xe9)
	c.epilogue = append(c.epilogue, len(c.code))
	c.emit32(0)
}

func (c *jitCompiler) patchRel32(loc, target int) {
	binary.LittleEndian.PutUint32(c.code[loc:], uint32(int32(target-(loc+4))))
}
