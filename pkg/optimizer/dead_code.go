package optimizer

import (
	"github.com/akhildatla/cyclone/pkg/vm"
)

// WithDeadCodeElimination enables unreachable code removal.
func WithDeadCodeElimination() Option {
	return func(o *Optimizer) {
		o.enableDeadCode = true
	}
}

// deadCodeElimination removes instructions that can never execute: those
// after an unconditional JMP, RET or HLT up to the next label target.
//
// A RET resumes at the instruction after a CALL, which is never the
// instruction after a terminator, so label targets are the only way back
// into such a run.
func (o *Optimizer) deadCodeElimination(program *vm.Program) *vm.Program {
	if len(program.Code) == 0 {
		return program
	}

	labeled := targets(program)
	keep := make([]bool, len(program.Code))
	reachable := true
	removed := false

	for i, inst := range program.Code {
		if labeled[i] {
			reachable = true
		}
		keep[i] = reachable
		removed = removed || !reachable

		if reachable && inst.Opcode().IsTerminator() {
			reachable = false
		}
	}

	if !removed {
		return program
	}
	return compact(program, keep)
}
