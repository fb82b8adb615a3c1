package vm

import "strings"

// Opcode represents a VM instruction opcode.
type Opcode uint8

const (
	OpNop Opcode = 0x00 // No operation

	// ===== Data Movement =====
	OpMov  Opcode = 0x01 // dst = resolve(src)
	OpPush Opcode = 0x02 // push resolve(src)
	OpPop  Opcode = 0x03 // dst = pop

	// ===== Arithmetic (in place on dst) =====
	OpAdd Opcode = 0x04 // dst += resolve(src)
	OpSub Opcode = 0x05 // dst -= resolve(src)
	OpMul Opcode = 0x06 // dst *= resolve(src)
	OpDiv Opcode = 0x07 // dst /= resolve(src)
	OpMod Opcode = 0x08 // dst = fmod(dst, resolve(src))

	// ===== Control Flow =====
	OpJmp Opcode = 0x09 // ip = label
	OpJe  Opcode = 0x0A // ip = label if last CMP was equal
	OpJne Opcode = 0x0B // ip = label if last CMP was not equal
	OpJg  Opcode = 0x0C // ip = label if last CMP was greater
	OpJge Opcode = 0x0D // ip = label if last CMP was greater or equal
	OpJl  Opcode = 0x0E // ip = label if last CMP was less
	OpJle Opcode = 0x0F // ip = label if last CMP was less or equal

	OpCmp Opcode = 0x10 // flags = compare(resolve(a), resolve(b))

	OpCall Opcode = 0x11 // push return address on the call stack, ip = label
	OpRet  Opcode = 0x12 // ip = pop call stack

	OpHlt Opcode = 0xFF // Stop execution
)

var opcodeNames = map[Opcode]string{
	OpNop:  "NOP",
	OpMov:  "MOV",
	OpPush: "PUSH",
	OpPop:  "POP",
	OpAdd:  "ADD",
	OpSub:  "SUB",
	OpMul:  "MUL",
	OpDiv:  "DIV",
	OpMod:  "MOD",
	OpJmp:  "JMP",
	OpJe:   "JE",
	OpJne:  "JNE",
	OpJg:   "JG",
	OpJge:  "JGE",
	OpJl:   "JL",
	OpJle:  "JLE",
	OpCmp:  "CMP",
	OpCall: "CALL",
	OpRet:  "RET",
	OpHlt:  "HLT",
}

// String returns the mnemonic of an opcode.
func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return "UNKNOWN"
}

// Known reports whether o is part of the instruction set.
func (o Opcode) Known() bool {
	_, ok := opcodeNames[o]
	return ok
}

// OpcodeFromString converts a mnemonic to an opcode. Matching is
// case-insensitive.
func OpcodeFromString(s string) (Opcode, bool) {
	upper := strings.ToUpper(s)
	for op, name := range opcodeNames {
		if name == upper {
			return op, true
		}
	}
	return 0, false
}

// IsConditionalJump reports whether o is one of the flag-consuming jumps.
func (o Opcode) IsConditionalJump() bool {
	return o >= OpJe && o <= OpJle
}

// IsTerminator reports whether execution never falls through o to the
// next instruction.
func (o Opcode) IsTerminator() bool {
	return o == OpJmp || o == OpRet || o == OpHlt
}

// operandSpec describes the arity and per-position kind constraints of an
// opcode. Unused positions must hold None.
type operandSpec struct {
	arity int
	kinds [2]kindMask
}

var operandSpecs = map[Opcode]operandSpec{
	OpNop:  {0, [2]kindMask{maskNone, maskNone}},
	OpMov:  {2, [2]kindMask{maskReg, maskSource}},
	OpPush: {1, [2]kindMask{maskSource, maskNone}},
	OpPop:  {1, [2]kindMask{maskReg, maskNone}},
	OpAdd:  {2, [2]kindMask{maskReg, maskSource}},
	OpSub:  {2, [2]kindMask{maskReg, maskSource}},
	OpMul:  {2, [2]kindMask{maskReg, maskSource}},
	OpDiv:  {2, [2]kindMask{maskReg, maskSource}},
	OpMod:  {2, [2]kindMask{maskReg, maskSource}},
	OpJmp:  {1, [2]kindMask{maskLbl, maskNone}},
	OpJe:   {1, [2]kindMask{maskLbl, maskNone}},
	OpJne:  {1, [2]kindMask{maskLbl, maskNone}},
	OpJg:   {1, [2]kindMask{maskLbl, maskNone}},
	OpJge:  {1, [2]kindMask{maskLbl, maskNone}},
	OpJl:   {1, [2]kindMask{maskLbl, maskNone}},
	OpJle:  {1, [2]kindMask{maskLbl, maskNone}},
	OpCmp:  {2, [2]kindMask{maskSource, maskSource}},
	OpCall: {1, [2]kindMask{maskLbl, maskNone}},
	OpRet:  {0, [2]kindMask{maskNone, maskNone}},
	OpHlt:  {0, [2]kindMask{maskNone, maskNone}},
}

// Arity returns the number of operands o takes, or -1 for an unknown opcode.
func (o Opcode) Arity() int {
	spec, ok := operandSpecs[o]
	if !ok {
		return -1
	}
	return spec.arity
}
