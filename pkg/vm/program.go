package vm

import "fmt"

// Program is a finished instruction stream plus its label bindings.
//
// Labels are kept in insertion order; duplicates are allowed and resolve
// to the first binding.
type Program struct {
	Code   []Instruction
	Labels []Label
}

// Table builds a LabelTable from the program's bindings.
func (p *Program) Table() *LabelTable {
	t := NewLabelTable()
	for _, l := range p.Labels {
		t.Bind(l.Name, l.Target)
	}
	return t
}

// CheckTargets reports the first label bound outside [0, len(Code)].
// Binding one past the last instruction is allowed; jumping there ends
// the program.
func (p *Program) CheckTargets() error {
	for _, l := range p.Labels {
		if l.Target < 0 || l.Target > len(p.Code) {
			return fmt.Errorf("%w: %q -> %d (%d instructions)", ErrLabelTarget, l.Name, l.Target, len(p.Code))
		}
	}
	return nil
}

// Clone returns a deep copy of p.
func (p *Program) Clone() *Program {
	out := &Program{
		Code:   make([]Instruction, len(p.Code)),
		Labels: make([]Label, len(p.Labels)),
	}
	copy(out.Code, p.Code)
	copy(out.Labels, p.Labels)
	return out
}

// Builder assembles a Program one instruction at a time.
//
//	p := vm.NewBuilder().
//		Label("loop").
//		Emit(vm.Add(vm.RAX, vm.Imm(1))).
//		Emit(vm.Jmp("loop")).
//		Program()
type Builder struct {
	code   []Instruction
	labels *LabelTable
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{labels: NewLabelTable()}
}

// Emit appends instructions.
func (b *Builder) Emit(insts ...Instruction) *Builder {
	b.code = append(b.code, insts...)
	return b
}

// Label binds name to the index of the next emitted instruction.
func (b *Builder) Label(name string) *Builder {
	b.labels.Bind(name, len(b.code))
	return b
}

// Len returns the number of instructions emitted so far.
func (b *Builder) Len() int {
	return len(b.code)
}

// Program returns a snapshot of what has been built.
func (b *Builder) Program() *Program {
	p := &Program{Code: b.code, Labels: b.labels.All()}
	return p.Clone()
}
