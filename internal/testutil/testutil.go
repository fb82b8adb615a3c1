// Package testutil provides testing utilities for Cyclone tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/akhildatla/cyclone/pkg/vm"
)

// TempFile creates a temporary file with the given content and extension.
// The file is removed when the test finishes.
func TempFile(t *testing.T, content, ext string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test"+ext)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// TempPath returns a path with the given extension inside a fresh temp dir.
func TempPath(t *testing.T, ext string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "out"+ext)
}

// SumLoopSource returns assembly that sums 1..10 into rbx and halts.
// It executes 43 instructions; ip 2 through 5 run ten times each.
func SumLoopSource() string {
	return `; sum 1..10 into rbx
    MOV rax, 0
    MOV rbx, 0
loop:
    ADD rax, 1
    ADD rbx, rax
    CMP rax, 10
    JL  loop
    HLT
`
}

// SumLoopProgram is SumLoopSource built directly.
func SumLoopProgram() *vm.Program {
	return vm.NewBuilder().
		Emit(vm.Mov(vm.RAX, vm.Imm(0)), vm.Mov(vm.RBX, vm.Imm(0))).
		Label("loop").
		Emit(
			vm.Add(vm.RAX, vm.Imm(1)),
			vm.Add(vm.RBX, vm.Reg(vm.RAX)),
			vm.Cmp(vm.Reg(vm.RAX), vm.Imm(10)),
			vm.Jl("loop"),
			vm.Hlt(),
		).
		Program()
}

// Run loads p into a VM built with opts and runs it to completion.
func Run(t *testing.T, p *vm.Program, opts ...vm.Option) (*vm.VM, vm.State, error) {
	t.Helper()
	machine := vm.NewVM(opts...)
	if err := machine.Load(p); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	state, err := machine.Run()
	return machine, state, err
}

// AssertImm checks that v is the immediate want.
func AssertImm(t *testing.T, want float64, v vm.Value) {
	t.Helper()
	if v != vm.Imm(want) {
		t.Errorf("expected %v, got %s", want, v)
	}
}

// AssertInt64Equal checks if two int64 values are equal.
func AssertInt64Equal(t *testing.T, expected, actual int64) {
	t.Helper()
	if expected != actual {
		t.Errorf("expected %d, got %d", expected, actual)
	}
}
