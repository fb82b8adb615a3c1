package optimizer

import (
	"math"

	"github.com/akhildatla/cyclone/pkg/vm"
)

// WithConstantFolding enables constant folding optimization.
func WithConstantFolding() Option {
	return func(o *Optimizer) {
		o.enableConstantFolding = true
	}
}

// constantFolding merges a register load with the arithmetic that
// immediately follows it. For example:
//
//	MOV rax, 5
//	ADD rax, 10
//	MUL rax, 2
//
// Becomes:
//
//	MOV rax, 30
//
// An instruction that a label points at can be entered from elsewhere
// with a different register value, so it is never folded into its
// predecessor.
func (o *Optimizer) constantFolding(program *vm.Program) *vm.Program {
	labeled := targets(program)
	code := make([]vm.Instruction, len(program.Code))
	copy(code, program.Code)
	keep := make([]bool, len(code))
	folded := false

	// last is the index of the MOV currently accumulating, or -1.
	last := -1
	for i, inst := range code {
		keep[i] = true

		if last >= 0 && !labeled[i] {
			if value, ok := fold(code[last], inst); ok {
				dst, _ := code[last].Operand1().Register()
				code[last] = vm.Mov(dst, vm.Imm(value))
				keep[i] = false
				folded = true
				continue
			}
		}

		last = -1
		if _, ok := constLoad(inst); ok {
			last = i
		}
	}

	if !folded {
		return program
	}
	return compact(&vm.Program{Code: code, Labels: program.Labels}, keep)
}

// constLoad reports whether inst is MOV reg, imm.
func constLoad(inst vm.Instruction) (float64, bool) {
	if inst.Opcode() != vm.OpMov {
		return 0, false
	}
	if r, ok := inst.Operand1().Register(); !ok || !r.Valid() {
		return 0, false
	}
	return inst.Operand2().Immediate()
}

// fold computes load followed by arith when arith applies an immediate to
// the register load just wrote.
func fold(load, arith vm.Instruction) (float64, bool) {
	x, ok := constLoad(load)
	if !ok {
		return 0, false
	}
	dst, _ := load.Operand1().Register()
	if r, ok := arith.Operand1().Register(); !ok || r != dst {
		return 0, false
	}
	y, ok := arith.Operand2().Immediate()
	if !ok {
		return 0, false
	}

	switch arith.Opcode() {
	case vm.OpAdd:
		return x + y, true
	case vm.OpSub:
		return x - y, true
	case vm.OpMul:
		return x * y, true
	case vm.OpDiv:
		return x / y, true
	case vm.OpMod:
		return math.Mod(x, y), true
	default:
		return 0, false
	}
}
