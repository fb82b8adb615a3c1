// Package codegen lowers a Cyclone program to NASM x86-64 assembly.
//
// Only the subset with a direct x86 counterpart is supported: NOP, MOV,
// JMP and HLT. Output stops at the first HLT.
package codegen

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/akhildatla/cyclone/pkg/vm"
)

var (
	ErrUnsupportedOpcode  = errors.New("unsupported opcode")
	ErrUnsupportedOperand = errors.New("unsupported operand")
	ErrUnknownTarget      = errors.New("unknown target")
)

// Target selects the platform conventions of the output.
type Target string

const (
	TargetWinX86_64   Target = "win-x86_64"
	TargetLinuxX86_64 Target = "linux-x86_64"
)

// ParseTarget validates a target name.
func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToLower(s)); t {
	case TargetWinX86_64, TargetLinuxX86_64:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTarget, s)
	}
}

// entry is the symbol the linker expects for the target.
func (t Target) entry() string {
	if t == TargetLinuxX86_64 {
		return "_start"
	}
	return "main"
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithTarget sets the output target. The default is win-x86_64.
func WithTarget(t Target) Option {
	return func(e *Emitter) {
		e.target = t
	}
}

// WithPrologue adds the bits/section/global header and an entry label.
func WithPrologue(on bool) Option {
	return func(e *Emitter) {
		e.prologue = on
	}
}

// Emitter writes NASM source for a program.
type Emitter struct {
	target   Target
	prologue bool
}

// New creates an emitter.
func New(opts ...Option) *Emitter {
	e := &Emitter{target: TargetWinX86_64}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compile is New(opts...).Emit into a string.
func Compile(p *vm.Program, opts ...Option) (string, error) {
	var b strings.Builder
	if err := New(opts...).Emit(&b, p); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Emit lowers p and writes it to w. Nothing is written when p contains an
// unsupported instruction before its first HLT.
func (e *Emitter) Emit(w io.Writer, p *vm.Program) error {
	if p == nil {
		return vm.ErrNilProgram
	}
	if _, err := ParseTarget(string(e.target)); err != nil {
		return err
	}

	var b strings.Builder
	if e.prologue {
		fmt.Fprintf(&b, "bits 64\ndefault rel\n\nsection .text\nglobal %s\n\n%s:\n", e.target.entry(), e.target.entry())
	}

	names := labelsByTarget(p)
	halted := false
	for ip, inst := range p.Code {
		for _, name := range names[ip] {
			fmt.Fprintf(&b, "%s:\n", name)
		}

		line, err := e.lower(inst)
		if err != nil {
			return fmt.Errorf("ip=%d (%s): %w", ip, inst, err)
		}
		b.WriteString(line)

		if inst.Opcode() == vm.OpHlt {
			halted = true
			break
		}
	}
	if !halted {
		for _, name := range names[len(p.Code)] {
			fmt.Fprintf(&b, "%s:\n", name)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (e *Emitter) lower(inst vm.Instruction) (string, error) {
	a, c := inst.Operands()

	switch inst.Opcode() {
	case vm.OpNop:
		return "    nop\n", nil

	case vm.OpMov:
		if a.Kind() != vm.KindRegister {
			return "", fmt.Errorf("%w: mov destination %s", ErrUnsupportedOperand, a)
		}
		dst, err := operand(a)
		if err != nil {
			return "", err
		}
		src, err := operand(c)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("    mov %s, %s\n", dst, src), nil

	case vm.OpJmp:
		if a.Kind() != vm.KindLabel {
			return "", fmt.Errorf("%w: jmp target %s", ErrUnsupportedOperand, a)
		}
		name, _ := a.LabelName()
		return fmt.Sprintf("    jmp %s\n", name), nil

	case vm.OpHlt:
		if e.target == TargetLinuxX86_64 {
			// hlt faults in user mode on Linux; exit(0) instead.
			return "    mov rax, 0x3c\n    xor rdi, rdi\n    syscall\n", nil
		}
		return "    hlt\n", nil

	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedOpcode, inst.Opcode())
	}
}

// operand renders a register, an integral immediate in hex or a label.
func operand(v vm.Value) (string, error) {
	if r, ok := v.Register(); ok {
		if !r.Valid() {
			return "", fmt.Errorf("%w: register %d", ErrUnsupportedOperand, r)
		}
		return r.String(), nil
	}
	if x, ok := v.Immediate(); ok {
		return immediate(x)
	}
	if name, ok := v.LabelName(); ok {
		return name, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedOperand, v)
}

func immediate(x float64) (string, error) {
	if x != math.Trunc(x) || math.IsInf(x, 0) || x >= math.MaxInt64 || x < math.MinInt64 {
		return "", fmt.Errorf("%w: immediate %v is not a 64-bit integer", ErrUnsupportedOperand, x)
	}
	n := int64(x)
	if n < 0 {
		return fmt.Sprintf("-0x%x", uint64(-n)), nil
	}
	return fmt.Sprintf("0x%x", n), nil
}

// labelsByTarget lists, per instruction index, the first binding of every
// label name pointing there.
func labelsByTarget(p *vm.Program) map[int][]string {
	seen := make(map[string]bool)
	out := make(map[int][]string)
	for _, l := range p.Labels {
		if seen[l.Name] {
			continue
		}
		seen[l.Name] = true
		out[l.Target] = append(out[l.Target], l.Name)
	}
	return out
}
