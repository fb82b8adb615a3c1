// Package optimizer rewrites a finished program into a shorter one that
// leaves the same registers and stack behind.
//
// Instruction indices shift, so fault IPs and step counts of an optimized
// program differ from the input's. Every pass keeps label bindings valid:
// a label whose instruction is removed moves to the next surviving
// instruction. A program that reads a label as a number (MOV rax, L) is
// returned unchanged, because that number is an instruction index.
package optimizer

import (
	"github.com/akhildatla/cyclone/pkg/vm"
)

// Optimizer applies optimizations to a program.
type Optimizer struct {
	enableConstantFolding bool
	enableNopElimination  bool
	enableDeadCode        bool
}

// Option is a functional option for the Optimizer.
type Option func(*Optimizer)

// WithAllOptimizations enables all optimizations.
func WithAllOptimizations() Option {
	return func(o *Optimizer) {
		o.enableConstantFolding = true
		o.enableNopElimination = true
		o.enableDeadCode = true
	}
}

// New creates a new Optimizer with the given options.
func New(opts ...Option) *Optimizer {
	opt := &Optimizer{}
	for _, o := range opts {
		o(opt)
	}
	return opt
}

// Optimize applies enabled optimizations until none of them changes the
// program. The input is never modified.
func (o *Optimizer) Optimize(program *vm.Program) *vm.Program {
	if program == nil {
		return nil
	}
	result := program.Clone()
	if readsLabelValue(result) {
		return result
	}

	for {
		before := len(result.Code)

		if o.enableConstantFolding {
			result = o.constantFolding(result)
		}
		if o.enableNopElimination {
			result = o.nopElimination(result)
		}
		if o.enableDeadCode {
			result = o.deadCodeElimination(result)
		}

		if len(result.Code) == before {
			return result
		}
	}
}

// readsLabelValue reports whether any instruction uses a label as a value
// rather than as a jump or call target.
func readsLabelValue(program *vm.Program) bool {
	for _, inst := range program.Code {
		op := inst.Opcode()
		if op == vm.OpJmp || op == vm.OpCall || op.IsConditionalJump() {
			continue
		}
		a, b := inst.Operands()
		if a.Kind() == vm.KindLabel || b.Kind() == vm.KindLabel {
			return true
		}
	}
	return false
}

// targets marks every instruction index some label points at.
func targets(program *vm.Program) map[int]bool {
	out := make(map[int]bool, len(program.Labels))
	for _, l := range program.Labels {
		out[l.Target] = true
	}
	return out
}

// compact drops every instruction with keep[i] == false and moves labels
// forward to the next kept instruction.
func compact(program *vm.Program, keep []bool) *vm.Program {
	newIndex := make([]int, len(program.Code)+1)
	code := make([]vm.Instruction, 0, len(program.Code))
	for i, inst := range program.Code {
		newIndex[i] = len(code)
		if keep[i] {
			code = append(code, inst)
		}
	}
	newIndex[len(program.Code)] = len(code)

	labels := make([]vm.Label, len(program.Labels))
	for i, l := range program.Labels {
		l.Target = newIndex[clampTarget(l.Target, len(program.Code))]
		labels[i] = l
	}
	return &vm.Program{Code: code, Labels: labels}
}

func clampTarget(t, n int) int {
	if t < 0 {
		return 0
	}
	if t > n {
		return n
	}
	return t
}
