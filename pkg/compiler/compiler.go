// Package compiler assembles Cyclone assembly text into vm programs.
//
// Syntax, one instruction per line:
//
//	; comment
//	start:
//	    MOV  rax, 5
//	    ADD  rax, rbx
//	    JMP  start
//	    HLT
//
// Mnemonics are case-insensitive. Operands are registers (rax..r15 or
// R0..R15), numbers (decimal, float or 0x hex) or label names.
package compiler

import (
	"github.com/akhildatla/cyclone/pkg/vm"
)

// Compile assembles source into a program. On failure the error is a
// Diagnostics value listing every problem found, and the program is nil.
func Compile(source string) (*vm.Program, error) {
	parser := NewParser(source)
	asmProgram, err := parser.Parse()
	diags, _ := err.(Diagnostics)

	compiler := &Compiler{builder: vm.NewBuilder(), diags: diags}
	program := compiler.compile(asmProgram)
	compiler.diags.sort()
	if err := compiler.diags.Err(); err != nil {
		return nil, err
	}
	return program, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and
// programs built from constant source.
func MustCompile(source string) *vm.Program {
	p, err := Compile(source)
	if err != nil {
		panic("compiler: " + err.Error())
	}
	return p
}

// Compiler lowers parsed assembly to VM instructions.
type Compiler struct {
	builder *vm.Builder
	diags   Diagnostics
}

func (c *Compiler) compile(program *AsmProgram) *vm.Program {
	labels := make(map[int][]AsmLabel)
	seen := make(map[string]int)
	for _, l := range program.Labels {
		if first, dup := seen[l.Name]; dup {
			c.diags.add(l.Line, 0, "duplicate label %q (first defined on line %d)", l.Name, first)
			continue
		}
		seen[l.Name] = l.Line
		labels[l.Index] = append(labels[l.Index], l)
	}

	for i, inst := range program.Instructions {
		c.bindLabels(labels[i])
		if bytecode, ok := c.compileInstruction(inst); ok {
			c.builder.Emit(bytecode)
		}
	}
	c.bindLabels(labels[len(program.Instructions)])

	return c.builder.Program()
}

func (c *Compiler) bindLabels(labels []AsmLabel) {
	for _, l := range labels {
		c.builder.Label(l.Name)
	}
}

func (c *Compiler) compileInstruction(inst AsmInstruction) (vm.Instruction, bool) {
	opcode, ok := vm.OpcodeFromString(inst.Mnemonic)
	if !ok {
		c.diags.add(inst.Line, inst.Column, "unknown mnemonic %q", inst.Mnemonic)
		return vm.Instruction{}, false
	}

	if want := opcode.Arity(); len(inst.Operands) != want {
		c.diags.add(inst.Line, inst.Column, "%s takes %d %s, got %d",
			opcode, want, plural(want, "operand"), len(inst.Operands))
		return vm.Instruction{}, false
	}

	a, b := vm.None(), vm.None()
	if len(inst.Operands) > 0 {
		a = inst.Operands[0].Value()
	}
	if len(inst.Operands) > 1 {
		b = inst.Operands[1].Value()
	}
	return vm.NewInstruction(opcode, a, b), true
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
