package vm

import (
	"testing"
)

func TestInstruction_Constructors(t *testing.T) {
	tests := []struct {
		name string
		inst Instruction
		op   Opcode
		a, b Value
	}{
		{"nop", Nop(), OpNop, None(), None()},
		{"mov", Mov(RAX, Imm(5)), OpMov, Reg(RAX), Imm(5)},
		{"push", Push(Reg(RBX)), OpPush, Reg(RBX), None()},
		{"pop", Pop(RCX), OpPop, Reg(RCX), None()},
		{"mod", Mod(R9, Imm(2)), OpMod, Reg(R9), Imm(2)},
		{"jmp", Jmp("L"), OpJmp, LabelRef("L"), None()},
		{"jle", Jle("L"), OpJle, LabelRef("L"), None()},
		{"cmp", Cmp(Reg(RAX), Imm(1)), OpCmp, Reg(RAX), Imm(1)},
		{"call", Call("f"), OpCall, LabelRef("f"), None()},
		{"ret", Ret(), OpRet, None(), None()},
		{"hlt", Hlt(), OpHlt, None(), None()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.inst.Opcode() != tt.op {
				t.Errorf("expected opcode %v, got %v", tt.op, tt.inst.Opcode())
			}
			a, b := tt.inst.Operands()
			if a != tt.a || b != tt.b {
				t.Errorf("expected operands (%s, %s), got (%s, %s)", tt.a, tt.b, a, b)
			}
			if err := tt.inst.checkOperands(); err != nil {
				t.Errorf("constructor built an ill-typed instruction: %v", err)
			}
		})
	}
}

func TestInstruction_CheckOperands(t *testing.T) {
	tests := []struct {
		name string
		inst Instruction
		ok   bool
	}{
		{"mov label source", Mov(RAX, LabelRef("x")), true},
		{"mov immediate dst", NewInstruction(OpMov, Imm(1), Imm(1)), false},
		{"mov missing src", NewInstruction(OpMov, Reg(RAX), None()), false},
		{"pop immediate", NewInstruction(OpPop, Imm(1), None()), false},
		{"push with second operand", NewInstruction(OpPush, Imm(1), Imm(2)), false},
		{"jmp immediate", NewInstruction(OpJmp, Imm(3), None()), false},
		{"hlt with operand", NewInstruction(OpHlt, Reg(RAX), None()), false},
		{"unknown opcode", NewInstruction(Opcode(0x42), Imm(1), Imm(2)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.inst.checkOperands()
			if tt.ok && err != nil {
				t.Errorf("expected ok, got %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestInstruction_String(t *testing.T) {
	tests := []struct {
		inst Instruction
		want string
	}{
		{Hlt(), "HLT"},
		{Mov(RAX, Imm(5)), "MOV  rax, 5"},
		{Add(R8, Imm(-1.5)), "ADD  r8, -1.5"},
		{Jmp("loop"), "JMP  loop"},
		{Push(Reg(RSP)), "PUSH rsp"},
	}

	for _, tt := range tests {
		if got := tt.inst.String(); got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, got)
		}
	}
}

func TestOpcode_FromString(t *testing.T) {
	for op, name := range opcodeNames {
		got, ok := OpcodeFromString(name)
		if !ok || got != op {
			t.Errorf("OpcodeFromString(%q) = %v, %v", name, got, ok)
		}
	}

	if op, ok := OpcodeFromString("mov"); !ok || op != OpMov {
		t.Errorf("expected lowercase mnemonic to parse, got %v %v", op, ok)
	}
	if _, ok := OpcodeFromString("LOAD"); ok {
		t.Error("expected unknown mnemonic to fail")
	}
}

func TestOpcode_Encoding(t *testing.T) {
	order := []Opcode{
		OpNop, OpMov, OpPush, OpPop, OpAdd, OpSub, OpMul, OpDiv, OpMod,
		OpJmp, OpJe, OpJne, OpJg, OpJge, OpJl, OpJle, OpCmp, OpCall, OpRet,
	}
	for i, op := range order {
		if uint8(op) != uint8(i) {
			t.Errorf("%s: expected byte 0x%02X, got 0x%02X", op, i, uint8(op))
		}
	}
	if OpHlt != 0xFF {
		t.Errorf("expected HLT = 0xFF, got 0x%02X", uint8(OpHlt))
	}
	if Opcode(0x13).Known() || Opcode(0x13).String() != "UNKNOWN" {
		t.Error("0x13 should not be a known opcode")
	}
}

func TestOpcode_Classification(t *testing.T) {
	if !OpJge.IsConditionalJump() || OpJmp.IsConditionalJump() || OpCmp.IsConditionalJump() {
		t.Error("conditional jump classification is wrong")
	}
	for _, op := range []Opcode{OpJmp, OpRet, OpHlt} {
		if !op.IsTerminator() {
			t.Errorf("%s should be a terminator", op)
		}
	}
	if OpCall.IsTerminator() {
		t.Error("CALL falls through on return")
	}
	if OpMov.Arity() != 2 || OpPop.Arity() != 1 || OpHlt.Arity() != 0 || Opcode(0x77).Arity() != -1 {
		t.Error("unexpected arity")
	}
}
