package vm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Bytecode file format:
// - Magic: "CYBC" (4 bytes)
// - Version: uint16
// - PayloadLength: uint32
// - Payload: canonical CBOR encoding of the instructions and labels

const (
	BytecodeMagic   = "CYBC"
	BytecodeVersion = 1
)

var (
	ErrInvalidMagic   = errors.New("invalid bytecode magic")
	ErrInvalidVersion = errors.New("unsupported bytecode version")
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type wireValue struct {
	Kind  uint8   `cbor:"1,keyasint"`
	Reg   uint8   `cbor:"2,keyasint,omitempty"`
	Imm   float64 `cbor:"3,keyasint,omitempty"`
	Label string  `cbor:"4,keyasint,omitempty"`
}

type wireInstruction struct {
	Op  uint8     `cbor:"1,keyasint"`
	Op1 wireValue `cbor:"2,keyasint"`
	Op2 wireValue `cbor:"3,keyasint"`
}

type wireLabel struct {
	Name   string `cbor:"1,keyasint"`
	ID     int    `cbor:"2,keyasint"`
	Target int    `cbor:"3,keyasint"`
}

type wireProgram struct {
	Code   []wireInstruction `cbor:"1,keyasint"`
	Labels []wireLabel       `cbor:"2,keyasint,omitempty"`
}

func toWire(v Value) wireValue {
	return wireValue{Kind: uint8(v.kind), Reg: uint8(v.reg), Imm: v.imm, Label: v.label}
}

func fromWire(w wireValue) (Value, error) {
	switch ValueKind(w.Kind) {
	case KindNone:
		return None(), nil
	case KindRegister:
		return Reg(Register(w.Reg)), nil
	case KindImmediate:
		return Imm(w.Imm), nil
	case KindLabel:
		return LabelRef(w.Label), nil
	default:
		return None(), fmt.Errorf("unknown operand kind %d", w.Kind)
	}
}

// SerializeProgram serializes a Program to bytecode format.
func SerializeProgram(p *Program) ([]byte, error) {
	wp := wireProgram{
		Code:   make([]wireInstruction, len(p.Code)),
		Labels: make([]wireLabel, len(p.Labels)),
	}
	for i, inst := range p.Code {
		wp.Code[i] = wireInstruction{Op: uint8(inst.op), Op1: toWire(inst.op1), Op2: toWire(inst.op2)}
	}
	for i, l := range p.Labels {
		wp.Labels[i] = wireLabel{Name: l.Name, ID: l.ID, Target: l.Target}
	}

	payload, err := cborEncMode.Marshal(wp)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	buf := new(bytes.Buffer)
	buf.WriteString(BytecodeMagic)
	if err := binary.Write(buf, binary.LittleEndian, uint16(BytecodeVersion)); err != nil {
		return nil, fmt.Errorf("writing version: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(payload))); err != nil {
		return nil, fmt.Errorf("writing payload length: %w", err)
	}
	buf.Write(payload)

	return buf.Bytes(), nil
}

// DeserializeProgram deserializes bytecode to a Program.
//
// Opcode bytes are not validated; an unknown opcode surfaces as
// ErrUnimplementedOpcode when executed.
func DeserializeProgram(data []byte) (*Program, error) {
	buf := bytes.NewReader(data)

	magic := make([]byte, 4)
	if _, err := io.ReadFull(buf, magic); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if string(magic) != BytecodeMagic {
		return nil, ErrInvalidMagic
	}

	var version uint16
	if err := binary.Read(buf, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}
	if version != BytecodeVersion {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVersion, version)
	}

	var n uint32
	if err := binary.Read(buf, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("reading payload length: %w", err)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(buf, payload); err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}

	var wp wireProgram
	if err := cbor.Unmarshal(payload, &wp); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}

	p := &Program{
		Code:   make([]Instruction, len(wp.Code)),
		Labels: make([]Label, len(wp.Labels)),
	}
	for i, wi := range wp.Code {
		a, err := fromWire(wi.Op1)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		b, err := fromWire(wi.Op2)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		p.Code[i] = NewInstruction(Opcode(wi.Op), a, b)
	}
	for i, wl := range wp.Labels {
		p.Labels[i] = Label{Name: wl.Name, ID: wl.ID, Target: wl.Target}
	}
	if err := p.CheckTargets(); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return p, nil
}

// Disassemble converts a Program back to assembly source code.
//
// Only the first binding of each label name is listed; later duplicates
// are unreachable by name.
func Disassemble(p *Program) string {
	var buf strings.Builder

	buf.WriteString("; Disassembled from Cyclone bytecode\n")
	buf.WriteString(fmt.Sprintf("; %d instructions, %d labels\n", len(p.Code), len(p.Labels)))

	seen := make(map[string]bool, len(p.Labels))
	at := make(map[int][]string)
	for _, l := range p.Labels {
		if seen[l.Name] {
			continue
		}
		seen[l.Name] = true
		at[l.Target] = append(at[l.Target], l.Name)
	}

	for i := 0; i <= len(p.Code); i++ {
		for _, name := range at[i] {
			buf.WriteString(name + ":\n")
		}
		if i < len(p.Code) {
			buf.WriteString(fmt.Sprintf("    %-24s ; %04d\n", disassembleInstruction(p.Code[i]), i))
		}
	}

	return buf.String()
}

func disassembleInstruction(inst Instruction) string {
	if !inst.Opcode().Known() {
		return fmt.Sprintf("; unknown opcode 0x%02X", uint8(inst.Opcode()))
	}
	return inst.String()
}
