//go:build amd64

package embedcc

import "fmt"

// reg is an x86-64 general-purpose register number (0-15), the same
// numbering the ModRM/REX encoding uses.
type reg int

const (
	rax reg = 0
	rcx reg = 1
	rdx reg = 2
	rbx reg = 3
	rsp reg = 4
	rbp reg = 5
	rsi reg = 6
	rdi reg = 7
	r8  reg = 8
	r9  reg = 9
	r10 reg = 10
	r11 reg = 11
	r12 reg = 12
	r13 reg = 13
	r14 reg = 14
	r15 reg = 15
)

func (r reg) low3() byte  { return byte(r) & 0x7 }
func (r reg) isExt() bool { return r >= 8 }

// patch records a 4-byte rel32 operand that needs to be resolved to a
// label once every instruction has been emitted.
type patch struct {
	at    int
	label string
}

// asm is a tiny, append-only x86-64 encoder. It only knows the
// handful of instruction forms this backend's codegen needs — it is
// not a general assembler.
type asm struct {
	code    []byte
	labels  map[string]int
	patches []patch
	nextTmp int
}

func newAsm() *asm {
	return &asm{labels: make(map[string]int)}
}

func (a *asm) newLabel(prefix string) string {
	a.nextTmp++
	return fmt.Sprintf("%s_%d", prefix, a.nextTmp)
}

func (a *asm) bind(label string) {
	a.labels[label] = len(a.code)
}

func (a *asm) emit(bs ...byte) {
	a.code = append(a.code, bs...)
}

func (a *asm) emitU32(v uint32) {
	a.emit(byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (a *asm) emitU64(v uint64) {
	for i := 0; i < 8; i++ {
		a.emit(byte(v >> (8 * i)))
	}
}

// rex builds a REX prefix. w selects 64-bit operand size.
func rex(w bool, r, x, b reg) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r.isExt() {
		v |= 0x04
	}
	if x.isExt() {
		v |= 0x02
	}
	if b.isExt() {
		v |= 0x01
	}
	return v
}

func modrmReg(mod byte, regField, rm reg) byte {
	return (mod << 6) | (regField.low3() << 3) | rm.low3()
}

// --- data movement ---

// movImm64 loads a 64-bit immediate into dst (MOVABS).
func (a *asm) movImm64(dst reg, imm uint64) {
	a.emit(rex(true, 0, 0, dst), 0xB8+dst.low3())
	a.emitU64(imm)
}

// movRR: dst = src (MOV r/m64, r64).
func (a *asm) movRR(dst, src reg) {
	a.emit(rex(true, src, 0, dst), 0x89, modrmReg(3, src, dst))
}

// movRRLow32 zero-extends src's low 32 bits into dst (MOV r32, r32).
func (a *asm) movRRLow32(dst, src reg) {
	var rx byte
	if src.isExt() || dst.isExt() {
		rx = rex(false, src, 0, dst)
		a.emit(rx)
	}
	a.emit(0x89, modrmReg(3, src, dst))
}

// loadMem: dst = [rbp + disp] (MOV r64, r/m64), disp a signed 32-bit
// displacement off rbp.
func (a *asm) loadMem(dst reg, disp int32) {
	a.loadMemBase(dst, rbp, disp)
}

// loadMemBase: dst = [base + disp], disp a signed 32-bit displacement.
// rsp and r12 share the low3 encoding 100, which in ModRM means "SIB
// byte follows" — for those bases an index-less SIB byte is emitted so
// the displacement still applies to the base register itself.
func (a *asm) loadMemBase(dst, base reg, disp int32) {
	a.emit(rex(true, dst, 0, base), 0x8B, modrmReg(2, dst, base))
	if base.low3() == rsp.low3() {
		a.emit(sibByte(0, rsp, base))
	}
	a.emitU32(uint32(disp))
}

// storeMem: [rbp + disp] = src (MOV r/m64, r64).
func (a *asm) storeMem(disp int32, src reg) {
	a.emit(rex(true, src, 0, rbp), 0x89, modrmReg(2, src, rbp))
	a.emitU32(uint32(disp))
}

// loadIndexed: dst = [base + idx*scale], sized by width (1,2,4,8) and
// sign: signed widths <8 use MOVSX, unsigned use MOVZX, width 8 is a
// plain 64-bit load. idx is always r15 in this backend.
func (a *asm) loadIndexed(dst, base, idx reg, width int, signed bool) {
	switch width {
	case 8:
		a.emit(rex(true, dst, idx, base), 0x8B, modrmSIB(dst, base), sibByte(3, idx, base))
		a.sibDisp(base)
	case 1:
		if signed {
			a.emit(rex(true, dst, idx, base), 0x0F, 0xBE, modrmSIB(dst, base), sibByte(0, idx, base))
		} else {
			a.emit(rex(true, dst, idx, base), 0x0F, 0xB6, modrmSIB(dst, base), sibByte(0, idx, base))
		}
		a.sibDisp(base)
	case 2:
		if signed {
			a.emit(rex(true, dst, idx, base), 0x0F, 0xBF, modrmSIB(dst, base), sibByte(1, idx, base))
		} else {
			a.emit(rex(true, dst, idx, base), 0x0F, 0xB7, modrmSIB(dst, base), sibByte(1, idx, base))
		}
		a.sibDisp(base)
	case 4:
		if signed {
			a.emit(rex(true, dst, idx, base), 0x63, modrmSIB(dst, base), sibByte(2, idx, base))
		} else {
			a.emit(rex(false, dst, idx, base), 0x8B, modrmSIB(dst, base), sibByte(2, idx, base))
		}
		a.sibDisp(base)
	}
}

// storeIndexed: [base + idx*scale] = src, truncated to width bytes.
func (a *asm) storeIndexed(base, idx reg, width int, src reg) {
	switch width {
	case 1:
		a.emit(rexOpt(false, src, idx, base), 0x88, modrmSIB(src, base), sibByte(0, idx, base))
	case 2:
		a.emit(0x66, rexOpt(false, src, idx, base), 0x89, modrmSIB(src, base), sibByte(1, idx, base))
	case 4:
		a.emit(rexOpt(false, src, idx, base), 0x89, modrmSIB(src, base), sibByte(2, idx, base))
	case 8:
		a.emit(rex(true, src, idx, base), 0x89, modrmSIB(src, base), sibByte(3, idx, base))
	}
	a.sibDisp(base)
}

func rexOpt(w bool, r, x, b reg) byte { return rex(w, r, x, b) }

// modrmSIB builds the ModRM byte selecting SIB addressing (rm=100).
// rbp and r13 share the low3 encoding 101, which in the mod=00 SIB
// form is architecturally reserved for "no base, disp32 follows"
// rather than "use this register as base" — so whenever base is rbp
// or r13, mod=01 (base register + disp8) must be used instead, with
// sibDisp emitting the trailing zero displacement.
func modrmSIB(regField, base reg) byte {
	mod := byte(0)
	if base.low3() == rbp.low3() {
		mod = 1
	}
	return (mod << 6) | (regField.low3() << 3) | 0x04
}

func sibByte(scaleLog2 byte, idx, base reg) byte {
	return (scaleLog2 << 6) | (idx.low3() << 3) | base.low3()
}

// sibDisp emits the disp8 byte the mod=01 SIB form requires when base
// is rbp or r13 (see modrmSIB); a no-op for every other base register.
func (a *asm) sibDisp(base reg) {
	if base.low3() == rbp.low3() {
		a.emit(0x00)
	}
}

// --- arithmetic / logic: dst op= src, all full 64-bit ---

func (a *asm) arith(opcode byte, dst, src reg) {
	a.emit(rex(true, src, 0, dst), opcode, modrmReg(3, src, dst))
}

func (a *asm) addRR(dst, src reg) { a.arith(0x01, dst, src) }
func (a *asm) subRR(dst, src reg) { a.arith(0x29, dst, src) }
func (a *asm) andRR(dst, src reg) { a.arith(0x21, dst, src) }
func (a *asm) orRR(dst, src reg)  { a.arith(0x09, dst, src) }
func (a *asm) xorRR(dst, src reg) { a.arith(0x31, dst, src) }
func (a *asm) cmpRR(dst, src reg) { a.arith(0x39, dst, src) }

// imulRR: dst *= src (IMUL r64, r/m64) — reversed reg/rm convention.
func (a *asm) imulRR(dst, src reg) {
	a.emit(rex(true, dst, 0, src), 0x0F, 0xAF, modrmReg(3, dst, src))
}

// cqo sign-extends rax into rdx:rax, required before idiv.
func (a *asm) cqo() {
	a.emit(rex(true, 0, 0, 0), 0x99)
}

// idivR: rdx:rax /= divisor; quotient in rax, remainder in rdx.
func (a *asm) idivR(divisor reg) {
	a.emit(rex(true, 0, 0, divisor), 0xF7, modrmReg(3, 7, divisor))
}

func (a *asm) negR(r reg) {
	a.emit(rex(true, 0, 0, r), 0xF7, modrmReg(3, 3, r))
}

func (a *asm) notR(r reg) {
	a.emit(rex(true, 0, 0, r), 0xF7, modrmReg(3, 2, r))
}

// shift: r/m64 <<= CL or >>= CL, selected by ext: 4=SHL, 5=SHR(logical), 7=SAR(arithmetic).
func (a *asm) shiftCL(dst reg, ext byte) {
	a.emit(rex(true, 0, 0, dst), 0xD3, modrmReg(3, reg(ext), dst))
}
func (a *asm) shlRCL(dst reg) { a.shiftCL(dst, 4) }
func (a *asm) shrRCL(dst reg) { a.shiftCL(dst, 5) }

// cmpImm0: cmp dst, 0 (truthiness test).
func (a *asm) cmpImm0(dst reg) {
	a.emit(rex(true, 0, 0, dst), 0x83, modrmReg(3, 7, dst), 0x00)
}

// setccAl sets al to 0/1 per condition code cc (the low nibble of a
// Jcc/SETcc opcode, e.g. 0x4=E, 0x5=NE, 0xC=L, 0xD=GE, 0xE=LE, 0xF=G).
func (a *asm) setccAl(dst reg, cc byte) {
	if dst.isExt() {
		a.emit(rex(false, 0, 0, dst))
	}
	a.emit(0x0F, 0x90|cc, modrmReg(3, 0, dst))
}

// movzxAl: dst = zero_extend_8_to_64(dst's low byte).
func (a *asm) movzxAl(dst reg) {
	a.emit(rex(true, dst, 0, dst), 0x0F, 0xB6, modrmReg(3, dst, dst))
}

// movzxAx: dst = zero_extend_16_to_64(dst's low 16 bits).
func (a *asm) movzxAx(dst reg) {
	a.emit(rex(true, dst, 0, dst), 0x0F, 0xB7, modrmReg(3, dst, dst))
}

// movsxAl: dst = sign_extend_8_to_64(dst's low byte).
func (a *asm) movsxAl(dst reg) {
	a.emit(rex(true, dst, 0, dst), 0x0F, 0xBE, modrmReg(3, dst, dst))
}

// movsxAx: dst = sign_extend_16_to_64(dst's low 16 bits).
func (a *asm) movsxAx(dst reg) {
	a.emit(rex(true, dst, 0, dst), 0x0F, 0xBF, modrmReg(3, dst, dst))
}

// movsxdEax: dst = sign_extend_32_to_64(dst's low 32 bits) (MOVSXD).
func (a *asm) movsxdEax(dst reg) {
	a.emit(rex(true, dst, 0, dst), 0x63, modrmReg(3, dst, dst))
}

func (a *asm) push(r reg) {
	if r.isExt() {
		a.emit(0x41)
	}
	a.emit(0x50 + r.low3())
}

func (a *asm) pop(r reg) {
	if r.isExt() {
		a.emit(0x41)
	}
	a.emit(0x58 + r.low3())
}

// --- control flow ---

func (a *asm) jmp(label string) {
	a.emit(0xE9)
	a.patches = append(a.patches, patch{at: len(a.code), label: label})
	a.emitU32(0)
}

// jcc emits a near conditional jump for condition code cc (same
// nibble convention as setccAl).
func (a *asm) jcc(cc byte, label string) {
	a.emit(0x0F, 0x80|cc)
	a.patches = append(a.patches, patch{at: len(a.code), label: label})
	a.emitU32(0)
}

const (
	ccE  = 0x4
	ccNE = 0x5
	ccL  = 0xC
	ccGE = 0xD
	ccLE = 0xE
	ccG  = 0xF
)

func (a *asm) incR(r reg) {
	a.emit(rex(true, 0, 0, r), 0xFF, modrmReg(3, 0, r))
}

func (a *asm) ret() {
	a.emit(0xC3)
}

func (a *asm) leave() {
	a.emit(0xC9)
}

// subRSPImm8 reserves n bytes of stack (n must fit a signed byte).
func (a *asm) subRSPImm8(n byte) {
	a.emit(rex(true, 0, 0, 0), 0x83, modrmReg(3, 5, rsp), n)
}

// finish patches every recorded jump/jcc to its label's final offset,
// relative to the instruction immediately following the rel32 field.
func (a *asm) finish() ([]byte, error) {
	for _, p := range a.patches {
		target, ok := a.labels[p.label]
		if !ok {
			return nil, fmt.Errorf("embedcc: unresolved label %q", p.label)
		}
		rel := int32(target - (p.at + 4))
		a.code[p.at] = byte(rel)
		a.code[p.at+1] = byte(rel >> 8)
		a.code[p.at+2] = byte(rel >> 16)
		a.code[p.at+3] = byte(rel >> 24)
	}
	return a.code, nil
}
