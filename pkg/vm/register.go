package vm

import (
	"strings"
)

// NumRegisters is the size of the register file.
const NumRegisters = 16

// Register identifies one slot of the register file.
type Register uint8

// Register identifiers, named after their x86-64 counterparts so the
// emitter can map them one to one.
const (
	RAX Register = iota
	RBX
	RCX
	RDX
	RSI
	RDI
	RBP
	RSP
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var registerNames = [NumRegisters]string{
	"rax", "rbx", "rcx", "rdx",
	"rsi", "rdi", "rbp", "rsp",
	"r8", "r9", "r10", "r11",
	"r12", "r13", "r14", "r15",
}

// Valid reports whether r addresses a slot of the register file.
func (r Register) Valid() bool {
	return r < NumRegisters
}

// String returns the register's assembly name.
func (r Register) String() string {
	if !r.Valid() {
		return "r?"
	}
	return registerNames[r]
}

// RegisterFromString parses a register name. Both the x86-64 names
// (rax, r8, ...) and the numeric aliases R0-R15 are accepted, in any case.
func RegisterFromString(s string) (Register, bool) {
	lower := strings.ToLower(s)
	for i, name := range registerNames {
		if lower == name {
			return Register(i), true
		}
	}

	// Numeric alias: R0-R15
	if len(lower) >= 2 && lower[0] == 'r' {
		n := 0
		for _, ch := range lower[1:] {
			if ch < '0' || ch > '9' {
				return 0, false
			}
			n = n*10 + int(ch-'0')
			if n >= NumRegisters {
				return 0, false
			}
		}
		return Register(n), true
	}
	return 0, false
}

// RegisterFile holds the 16 register slots. After resolution a slot holds
// either None or an Immediate.
type RegisterFile [NumRegisters]Value

// NewRegisterFile creates a register file with every slot set to None.
func NewRegisterFile() *RegisterFile {
	return &RegisterFile{}
}

// Get returns the contents of slot r.
func (rf *RegisterFile) Get(r Register) Value {
	return rf[r]
}

// Set stores v in slot r.
func (rf *RegisterFile) Set(r Register, v Value) {
	rf[r] = v
}

// Reset clears every slot back to None.
func (rf *RegisterFile) Reset() {
	for i := range rf {
		rf[i] = None()
	}
}
