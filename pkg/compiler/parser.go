package compiler

import (
	"strconv"
	"strings"

	"github.com/akhildatla/cyclone/pkg/vm"
)

// OperandType represents the type of an operand.
type OperandType uint8

const (
	OperandRegister OperandType = iota
	OperandNumber
	OperandLabel
)

// Operand represents an instruction operand.
type Operand struct {
	Type   OperandType
	Reg    vm.Register // For registers
	Num    float64     // For numeric literals
	Name   string      // For label references
	Line   int
	Column int
}

// Value converts the operand to a VM value.
func (o Operand) Value() vm.Value {
	switch o.Type {
	case OperandRegister:
		return vm.Reg(o.Reg)
	case OperandNumber:
		return vm.Imm(o.Num)
	default:
		return vm.LabelRef(o.Name)
	}
}

// AsmInstruction represents a parsed assembly instruction.
type AsmInstruction struct {
	Mnemonic string
	Operands []Operand
	Line     int
	Column   int
}

// AsmLabel is a label definition and the index of the instruction after it.
type AsmLabel struct {
	Name  string
	Index int
	Line  int
}

// AsmProgram represents a parsed assembly program.
type AsmProgram struct {
	Instructions []AsmInstruction
	Labels       []AsmLabel // In definition order
}

// Parser parses Cyclone assembly source code.
//
// Like the lexer it keeps going after an error: the rest of a bad line is
// skipped and parsing resumes on the next one.
type Parser struct {
	tokens  []Token
	pos     int
	program *AsmProgram
	diags   Diagnostics
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	lexer := NewLexer(input)
	tokens := lexer.Tokenize()
	return &Parser{
		tokens:  tokens,
		program: &AsmProgram{},
		diags:   lexer.Diagnostics(),
	}
}

// Parse parses the entire input. The program is always returned; the
// error is a Diagnostics value when anything was malformed.
func (p *Parser) Parse() (*AsmProgram, error) {
	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]

		switch tok.Type {
		case TokenEOF:
			p.diags.sort()
			return p.program, p.diags.Err()

		case TokenNewline:
			p.pos++

		case TokenIdent:
			if p.peek(1).Type == TokenColon {
				p.parseLabel()
				continue
			}
			p.parseInstruction()

		case TokenRegister:
			if p.peek(1).Type == TokenColon {
				p.diags.add(tok.Line, tok.Column, "register name %q cannot be used as a label", tok.Value)
				p.pos += 2
				continue
			}
			p.diags.add(tok.Line, tok.Column, "expected instruction, got register %q", tok.Value)
			p.skipLine()

		case TokenUnknown:
			// Already reported by the lexer.
			p.skipLine()

		default:
			p.diags.add(tok.Line, tok.Column, "unexpected %s %q", tok.Type, tok.Value)
			p.skipLine()
		}
	}

	p.diags.sort()
	return p.program, p.diags.Err()
}

func (p *Parser) peek(offset int) Token {
	if p.pos+offset >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos+offset]
}

func (p *Parser) skipLine() {
	for p.pos < len(p.tokens) {
		switch p.tokens[p.pos].Type {
		case TokenNewline, TokenEOF:
			return
		}
		p.pos++
	}
}

func (p *Parser) parseLabel() {
	tok := p.tokens[p.pos]
	p.program.Labels = append(p.program.Labels, AsmLabel{
		Name:  tok.Value,
		Index: len(p.program.Instructions),
		Line:  tok.Line,
	})
	p.pos += 2 // Consume name and colon
}

func (p *Parser) parseInstruction() {
	tok := p.tokens[p.pos]
	inst := AsmInstruction{
		Mnemonic: tok.Value,
		Line:     tok.Line,
		Column:   tok.Column,
	}
	p.pos++ // Consume mnemonic

	ok := true
	expectOperand := true
	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		if tok.Type == TokenNewline || tok.Type == TokenEOF {
			break
		}

		if tok.Type == TokenComma {
			if expectOperand {
				p.diags.add(tok.Line, tok.Column, "unexpected comma")
				ok = false
			}
			expectOperand = true
			p.pos++
			continue
		}

		if !expectOperand {
			p.diags.add(tok.Line, tok.Column, "expected comma before %q", tok.Value)
			ok = false
		}
		operand, good := p.parseOperand()
		ok = ok && good
		inst.Operands = append(inst.Operands, operand)
		expectOperand = false
	}

	if len(inst.Operands) > 0 && expectOperand {
		p.diags.add(inst.Line, 0, "trailing comma after operands of %s", inst.Mnemonic)
		ok = false
	}

	if ok {
		p.program.Instructions = append(p.program.Instructions, inst)
	}
}

func (p *Parser) parseOperand() (Operand, bool) {
	tok := p.tokens[p.pos]
	p.pos++
	op := Operand{Line: tok.Line, Column: tok.Column}

	switch tok.Type {
	case TokenRegister:
		reg, _ := vm.RegisterFromString(tok.Value)
		op.Type = OperandRegister
		op.Reg = reg
		return op, true

	case TokenNumber:
		num, err := parseNumber(tok.Value)
		if err != nil {
			p.diags.add(tok.Line, tok.Column, "malformed number %q", tok.Value)
			return op, false
		}
		op.Type = OperandNumber
		op.Num = num
		return op, true

	case TokenIdent:
		op.Type = OperandLabel
		op.Name = tok.Value
		return op, true

	case TokenUnknown:
		return op, false

	default:
		p.diags.add(tok.Line, tok.Column, "unexpected %s %q", tok.Type, tok.Value)
		return op, false
	}
}

// parseNumber accepts decimal integers, floats (with optional exponent)
// and 0x-prefixed hex integers, each optionally signed.
func parseNumber(s string) (float64, error) {
	if isHex(s) {
		neg := strings.HasPrefix(s, "-")
		digits := strings.TrimLeft(s, "+-")[2:]
		n, err := strconv.ParseUint(digits, 16, 64)
		if err != nil {
			return 0, err
		}
		if neg {
			return -float64(n), nil
		}
		return float64(n), nil
	}
	// ParseFloat also accepts "inf", "nan" and underscores; those are not
	// assembly literals.
	for _, ch := range strings.TrimLeft(s, "+-") {
		if !(isDigit(byte(ch)) || ch == '.' || ch == 'e' || ch == 'E' || ch == '+' || ch == '-') {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.ParseFloat(s, 64)
}
