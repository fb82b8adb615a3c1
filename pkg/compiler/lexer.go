package compiler

import (
	"github.com/akhildatla/cyclone/pkg/vm"
)

// TokenType represents the type of a token.
type TokenType uint8

const (
	TokenEOF TokenType = iota
	TokenNewline
	TokenIdent    // Mnemonics and label names
	TokenNumber   // Decimal, float or hex literal, optionally signed
	TokenRegister // rax..r15, R0..R15
	TokenComma    // ,
	TokenColon    // : (for labels)
	TokenUnknown
)

// String returns the string representation of a token type.
func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "EOF"
	case TokenNewline:
		return "NEWLINE"
	case TokenIdent:
		return "IDENT"
	case TokenNumber:
		return "NUMBER"
	case TokenRegister:
		return "REGISTER"
	case TokenComma:
		return "COMMA"
	case TokenColon:
		return "COLON"
	default:
		return "UNKNOWN"
	}
}

// Token represents a lexical token.
type Token struct {
	Type   TokenType
	Value  string
	Line   int
	Column int
}

// Lexer tokenizes Cyclone assembly source code.
type Lexer struct {
	input  string
	pos    int
	line   int
	col    int
	tokens []Token
	diags  Diagnostics
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{
		input: input,
		line:  1,
		col:   1,
	}
}

// Tokenize tokenizes the entire input and returns the tokens.
// Unexpected characters become TokenUnknown and are reported by Diagnostics.
func (l *Lexer) Tokenize() []Token {
	for l.pos < len(l.input) {
		l.skipWhitespace()
		if l.pos >= len(l.input) {
			break
		}

		ch := l.input[l.pos]

		switch {
		case ch == '\n':
			l.emit(TokenNewline, "\n", l.col)
			l.pos++
			l.line++
			l.col = 1

		case ch == ';':
			// Comment - skip to end of line
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.pos++
			}

		case ch == ',':
			l.emit(TokenComma, ",", l.col)
			l.advance(1)

		case ch == ':':
			l.emit(TokenColon, ":", l.col)
			l.advance(1)

		case ch == '-' || ch == '+' || ch == '.' || isDigit(ch):
			l.scanNumber()

		case isLetter(ch) || ch == '_':
			l.scanIdentOrRegister()

		default:
			l.diags.add(l.line, l.col, "unexpected character %q", ch)
			l.emit(TokenUnknown, string(ch), l.col)
			l.advance(1)
		}
	}

	l.emit(TokenEOF, "", l.col)
	return l.tokens
}

// Diagnostics returns the errors found while tokenizing.
func (l *Lexer) Diagnostics() Diagnostics {
	return l.diags
}

func (l *Lexer) emit(typ TokenType, value string, col int) {
	l.tokens = append(l.tokens, Token{Type: typ, Value: value, Line: l.line, Column: col})
}

func (l *Lexer) advance(n int) {
	l.pos += n
	l.col += n
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == ' ' || ch == '\t' || ch == '\r' {
			l.advance(1)
		} else {
			break
		}
	}
}

// scanNumber takes a sign and then every character that can appear in a
// numeric literal. Validation happens in the parser so a malformed number
// is reported once, with its full text.
func (l *Lexer) scanNumber() {
	start, col := l.pos, l.col
	if l.input[l.pos] == '-' || l.input[l.pos] == '+' {
		l.advance(1)
	}
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		var prev byte
		if l.pos > start {
			prev = l.input[l.pos-1]
		}
		switch {
		case isDigit(ch) || isLetter(ch) || ch == '.' || ch == '_':
			l.advance(1)
		case (ch == '-' || ch == '+') && (prev == 'e' || prev == 'E') && !isHex(l.input[start:l.pos]):
			l.advance(1)
		default:
			l.emit(TokenNumber, l.input[start:l.pos], col)
			return
		}
	}
	l.emit(TokenNumber, l.input[start:l.pos], col)
}

func (l *Lexer) scanIdentOrRegister() {
	start, col := l.pos, l.col
	l.advance(1)

	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if isLetter(ch) || isDigit(ch) || ch == '_' || ch == '.' {
			l.advance(1)
		} else {
			break
		}
	}

	value := l.input[start:l.pos]
	if _, ok := vm.RegisterFromString(value); ok {
		l.emit(TokenRegister, value, col)
		return
	}
	l.emit(TokenIdent, value, col)
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isLetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isHex(s string) bool {
	if len(s) > 0 && (s[0] == '-' || s[0] == '+') {
		s = s[1:]
	}
	return len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
