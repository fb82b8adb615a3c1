package vm

import (
	"errors"
	"fmt"
)

// Fault kinds. All but ErrUnimplementedOpcode are recoverable: the VM moves
// to StateErrored and Run returns a *Fault wrapping one of these.
var (
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrUnresolvedValue     = errors.New("unresolved value")
	ErrStackUnderflow      = errors.New("stack underflow")
	ErrUndefinedLabel      = errors.New("undefined label")
	ErrUnimplementedOpcode = errors.New("unimplemented opcode")
	ErrNoComparison        = errors.New("conditional jump without prior comparison")
	ErrCallStackUnderflow  = errors.New("return with empty call stack")
	ErrStepLimitExceeded   = errors.New("step limit exceeded")
)

// Build-phase errors.
var (
	ErrProgramSealed = errors.New("program is sealed once execution has started")
	ErrNilProgram    = errors.New("nil program")
	ErrLabelTarget   = errors.New("label target out of range")
)

// Fault describes why execution stopped in StateErrored.
type Fault struct {
	Kind   error  // One of the Err* sentinels, or a context error
	IP     int    // Index of the faulting instruction
	Op     Opcode // Opcode of the faulting instruction
	Detail string
}

func (f *Fault) Error() string {
	if f.Detail == "" {
		return fmt.Sprintf("%v at ip=%d (%s)", f.Kind, f.IP, f.Op)
	}
	return fmt.Sprintf("%v at ip=%d (%s): %s", f.Kind, f.IP, f.Op, f.Detail)
}

// Unwrap lets errors.Is match the fault kind.
func (f *Fault) Unwrap() error {
	return f.Kind
}

// Fatal reports whether the fault terminates the process.
func (f *Fault) Fatal() bool {
	return errors.Is(f.Kind, ErrUnimplementedOpcode)
}
