package vm

import (
	"fmt"
	"strconv"
)

// ValueKind identifies which variant a Value holds.
type ValueKind uint8

const (
	KindNone      ValueKind = iota // No value
	KindRegister                   // Register reference, resolved at use time
	KindImmediate                  // 64-bit float literal
	KindLabel                      // Symbolic label name, resolved at use time
)

// String returns the lowercase kind name.
func (k ValueKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindRegister:
		return "register"
	case KindImmediate:
		return "immediate"
	case KindLabel:
		return "label"
	default:
		return "unknown"
	}
}

// Value is the operand currency of the machine.
//
// A Value is one of four variants: None, Register, Immediate or Label.
// Only the payload that matches Kind is meaningful. Values are compared
// with ==; the zero Value is None.
type Value struct {
	kind  ValueKind
	reg   Register
	imm   float64
	label string
}

// None returns the empty value.
func None() Value {
	return Value{}
}

// Reg returns a register reference.
func Reg(r Register) Value {
	return Value{kind: KindRegister, reg: r}
}

// Imm returns an immediate.
func Imm(x float64) Value {
	return Value{kind: KindImmediate, imm: x}
}

// LabelRef returns a symbolic label reference.
func LabelRef(name string) Value {
	return Value{kind: KindLabel, label: name}
}

// Kind returns the variant held by v.
func (v Value) Kind() ValueKind {
	return v.kind
}

// IsNone reports whether v is the None variant.
func (v Value) IsNone() bool {
	return v.kind == KindNone
}

// Register returns the register payload. ok is false for other variants.
func (v Value) Register() (r Register, ok bool) {
	return v.reg, v.kind == KindRegister
}

// Immediate returns the numeric payload. ok is false for other variants.
func (v Value) Immediate() (x float64, ok bool) {
	return v.imm, v.kind == KindImmediate
}

// LabelName returns the label payload. ok is false for other variants.
func (v Value) LabelName() (name string, ok bool) {
	return v.label, v.kind == KindLabel
}

// String renders v the way the disassembler prints operands.
func (v Value) String() string {
	switch v.kind {
	case KindNone:
		return "none"
	case KindRegister:
		return v.reg.String()
	case KindImmediate:
		return strconv.FormatFloat(v.imm, 'g', -1, 64)
	case KindLabel:
		return v.label
	default:
		return fmt.Sprintf("<kind %d>", v.kind)
	}
}

// kindMask is a set of ValueKinds accepted at an operand position.
type kindMask uint8

const (
	maskNone kindMask = 1 << KindNone
	maskReg  kindMask = 1 << KindRegister
	maskImm  kindMask = 1 << KindImmediate
	maskLbl  kindMask = 1 << KindLabel

	// maskSource covers operands that go through Resolve.
	maskSource = maskReg | maskImm | maskLbl
)

func (m kindMask) accepts(k ValueKind) bool {
	return m&(1<<k) != 0
}

// describe lists the accepted kinds for error messages.
func (m kindMask) describe() string {
	s := ""
	for _, k := range []ValueKind{KindNone, KindRegister, KindImmediate, KindLabel} {
		if !m.accepts(k) {
			continue
		}
		if s != "" {
			s += " or "
		}
		s += k.String()
	}
	return s
}
