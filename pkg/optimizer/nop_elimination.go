package optimizer

import (
	"github.com/akhildatla/cyclone/pkg/vm"
)

// WithNopElimination enables NOP removal.
func WithNopElimination() Option {
	return func(o *Optimizer) {
		o.enableNopElimination = true
	}
}

// nopElimination removes every NOP. Labels on a NOP move to the
// instruction after it.
func (o *Optimizer) nopElimination(program *vm.Program) *vm.Program {
	keep := make([]bool, len(program.Code))
	removed := false
	for i, inst := range program.Code {
		keep[i] = inst.Opcode() != vm.OpNop
		removed = removed || !keep[i]
	}
	if !removed {
		return program
	}
	return compact(program, keep)
}
