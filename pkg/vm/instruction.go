package vm

import (
	"fmt"
	"strings"
)

// Instruction is an opcode together with two operand slots.
//
// Instructions are immutable once constructed. Unused operand slots hold
// None. Operand kinds are not validated here; the engine checks them at
// dispatch time and raises ErrTypeMismatch.
type Instruction struct {
	op  Opcode
	op1 Value
	op2 Value
}

// NewInstruction creates an instruction from its components.
func NewInstruction(op Opcode, op1, op2 Value) Instruction {
	return Instruction{op: op, op1: op1, op2: op2}
}

// ===== Constructors =====

// Nop through Hlt build one instruction each, named after its opcode.
// Destination operands take a Register and jump or call targets take a
// label name; only source operands can carry a kind the opcode rejects,
// and that is checked when the instruction executes.
func Nop() Instruction { return NewInstruction(OpNop, None(), None()) }
func Mov(dst Register, src Value) Instruction { return NewInstruction(OpMov, Reg(dst), src) }
func Push(src Value) Instruction { return NewInstruction(OpPush, src, None()) }
func Pop(dst Register) Instruction { return NewInstruction(OpPop, Reg(dst), None()) }
func Add(dst Register, src Value) Instruction { return NewInstruction(OpAdd, Reg(dst), src) }
func Sub(dst Register, src Value) Instruction { return NewInstruction(OpSub, Reg(dst), src) }
func Mul(dst Register, src Value) Instruction { return NewInstruction(OpMul, Reg(dst), src) }
func Div(dst Register, src Value) Instruction { return NewInstruction(OpDiv, Reg(dst), src) }
func Mod(dst Register, src Value) Instruction { return NewInstruction(OpMod, Reg(dst), src) }
func Jmp(label string) Instruction { return NewInstruction(OpJmp, LabelRef(label), None()) }
func Je(label string) Instruction { return NewInstruction(OpJe, LabelRef(label), None()) }
func Jne(label string) Instruction { return NewInstruction(OpJne, LabelRef(label), None()) }
func Jg(label string) Instruction { return NewInstruction(OpJg, LabelRef(label), None()) }
func Jge(label string) Instruction { return NewInstruction(OpJge, LabelRef(label), None()) }
func Jl(label string) Instruction { return NewInstruction(OpJl, LabelRef(label), None()) }
func Jle(label string) Instruction { return NewInstruction(OpJle, LabelRef(label), None()) }
func Cmp(a, b Value) Instruction { return NewInstruction(OpCmp, a, b) }
func Call(label string) Instruction { return NewInstruction(OpCall, LabelRef(label), None()) }
func Ret() Instruction { return NewInstruction(OpRet, None(), None()) }
func Hlt() Instruction { return NewInstruction(OpHlt, None(), None()) }

// Opcode returns the instruction's opcode.
func (i Instruction) Opcode() Opcode {
	return i.op
}

// Operand1 returns the first operand slot.
func (i Instruction) Operand1() Value {
	return i.op1
}

// Operand2 returns the second operand slot.
func (i Instruction) Operand2() Value {
	return i.op2
}

// Operands returns both operand slots.
func (i Instruction) Operands() (Value, Value) {
	return i.op1, i.op2
}

// checkOperands verifies every operand slot holds a kind the opcode accepts.
// Unknown opcodes pass; the dispatcher reports those separately.
func (i Instruction) checkOperands() error {
	spec, ok := operandSpecs[i.op]
	if !ok {
		return nil
	}
	for pos, v := range [2]Value{i.op1, i.op2} {
		if !spec.kinds[pos].accepts(v.Kind()) {
			return fmt.Errorf("operand %d of %s is %s, want %s",
				pos+1, i.op, v.Kind(), spec.kinds[pos].describe())
		}
		if r, ok := v.Register(); ok && !r.Valid() {
			return fmt.Errorf("operand %d of %s names register %d, want 0-%d",
				pos+1, i.op, r, NumRegisters-1)
		}
	}
	return nil
}

// String returns the instruction in assembler syntax, e.g. "MOV rax, 5".
func (i Instruction) String() string {
	var operands []string
	for _, v := range [2]Value{i.op1, i.op2} {
		if v.IsNone() {
			continue
		}
		operands = append(operands, v.String())
	}
	if len(operands) == 0 {
		return i.op.String()
	}
	return fmt.Sprintf("%-4s %s", i.op, strings.Join(operands, ", "))
}
