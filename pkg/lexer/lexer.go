package lexer

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Diagnostic is a scanning error at a source position.
type Diagnostic struct {
	Pos     Position
	Message string
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s: %s", d.Pos, d.Message)
}

// Diagnostics is every error found in one scan.
type Diagnostics []Diagnostic

func (ds Diagnostics) Error() string {
	msgs := make([]string, len(ds))
	for i, d := range ds {
		msgs[i] = d.Error()
	}
	return strings.Join(msgs, "\n")
}

// Err returns ds as an error, or nil when it is empty.
func (ds Diagnostics) Err() error {
	if len(ds) == 0 {
		return nil
	}
	return ds
}

// Lexer tokenizes Cyclone source code.
type Lexer struct {
	file   string
	input  string
	pos    int
	line   int
	column int
	errors Diagnostics
}

// NewLexer creates a new lexer for the given input. file is only used to
// label positions and may be empty.
func NewLexer(file, input string) *Lexer {
	return &Lexer{
		file:   file,
		input:  input,
		line:   1,
		column: 1,
	}
}

// Tokenize scans the entire input. The returned slice always ends with an
// EOF token.
func (l *Lexer) Tokenize() []Token {
	var tokens []Token
	for {
		tok := l.Next()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens
		}
	}
}

// Errors returns every diagnostic recorded so far.
func (l *Lexer) Errors() Diagnostics {
	return l.errors
}

// Next scans and returns the next token.
func (l *Lexer) Next() Token {
	l.skipTrivia()

	start := l.position()
	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: start}
	}

	ch := l.input[l.pos]
	switch {
	case ch == '"':
		return l.scanString(start)
	case ch == '\'':
		return l.scanChar(start)
	case isDigit(ch):
		return l.scanNumber(start)
	case isLetter(ch) || ch == '_':
		return l.scanIdent(start)
	}

	for _, op := range operators {
		if strings.HasPrefix(l.input[l.pos:], op.text) {
			l.advanceN(len(op.text))
			return Token{Type: op.typ, Value: op.text, Pos: start}
		}
	}

	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	l.advance()
	l.errorf(start, "unexpected character %q", r)
	return Token{Type: TokenUnknown, Value: string(r), Pos: start}
}

// skipTrivia consumes whitespace and // comments in a single loop.
func (l *Lexer) skipTrivia() {
	for l.pos < len(l.input) {
		switch ch := l.input[l.pos]; {
		case ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n':
			l.advance()
		case ch == '/' && l.peekAt(1) == '/':
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.advance()
			}
		default:
			return
		}
	}
}

func (l *Lexer) scanIdent(start Position) Token {
	begin := l.pos
	for l.pos < len(l.input) && (isLetter(l.input[l.pos]) || isDigit(l.input[l.pos]) || l.input[l.pos] == '_') {
		l.advance()
	}
	value := l.input[begin:l.pos]
	if kw, ok := keywords[value]; ok {
		return Token{Type: kw, Value: value, Pos: start}
	}
	return Token{Type: TokenIdent, Value: value, Pos: start}
}

func (l *Lexer) scanNumber(start Position) Token {
	begin := l.pos
	for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
		l.advance()
	}

	// A fraction needs at least one digit after the dot, so "1..2" stays a range.
	if l.peekAt(0) == '.' && isDigit(l.peekAt(1)) {
		l.advance()
		for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
			l.advance()
		}
		return Token{Type: TokenFloat, Value: l.input[begin:l.pos], Pos: start}
	}
	return Token{Type: TokenInt, Value: l.input[begin:l.pos], Pos: start}
}

func (l *Lexer) scanString(start Position) Token {
	l.advance() // Skip opening quote
	begin := l.pos

	for {
		if l.pos >= len(l.input) || l.input[l.pos] == '\n' {
			l.errorf(start, "unterminated string literal")
			return Token{Type: TokenUnknown, Value: l.input[begin:l.pos], Pos: start}
		}
		switch l.input[l.pos] {
		case '"':
			value := l.input[begin:l.pos]
			l.advance()
			return Token{Type: TokenString, Value: value, Pos: start}
		case '\\':
			l.scanEscape()
		default:
			l.advance()
		}
	}
}

func (l *Lexer) scanChar(start Position) Token {
	l.advance() // Skip opening quote
	begin := l.pos
	units := 0

	for {
		if l.pos >= len(l.input) || l.input[l.pos] == '\n' {
			l.errorf(start, "unterminated character literal")
			return Token{Type: TokenUnknown, Value: l.input[begin:l.pos], Pos: start}
		}
		if l.input[l.pos] == '\'' {
			break
		}
		if l.input[l.pos] == '\\' {
			l.scanEscape()
		} else {
			l.advance()
		}
		units++
	}

	value := l.input[begin:l.pos]
	l.advance() // Skip closing quote
	if units != 1 {
		l.errorf(start, "character literal must contain exactly one character")
		return Token{Type: TokenUnknown, Value: value, Pos: start}
	}
	return Token{Type: TokenChar, Value: value, Pos: start}
}

// scanEscape consumes a backslash and the escape code after it.
func (l *Lexer) scanEscape() {
	at := l.position()
	l.advance()
	if l.pos >= len(l.input) || l.input[l.pos] == '\n' {
		return
	}
	code := l.input[l.pos]
	switch code {
	case 'n', 't', 'r', '\\', '\'', '"', '0':
	default:
		l.errorf(at, "unknown escape sequence '\\%c'", code)
	}
	l.advance()
}

// advance consumes one rune and keeps line and column current.
func (l *Lexer) advance() {
	if l.pos >= len(l.input) {
		return
	}
	if l.input[l.pos] == '\n' {
		l.line++
		l.column = 1
		l.pos++
		return
	}
	_, size := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += size
	l.column++
}

func (l *Lexer) advanceN(n int) {
	for i := 0; i < n; i++ {
		l.advance()
	}
}

func (l *Lexer) peekAt(offset int) byte {
	if l.pos+offset >= len(l.input) {
		return 0
	}
	return l.input[l.pos+offset]
}

func (l *Lexer) position() Position {
	return Position{File: l.file, Line: l.line, Column: l.column}
}

func (l *Lexer) errorf(pos Position, format string, args ...any) {
	l.errors = append(l.errors, Diagnostic{Pos: pos, Message: fmt.Sprintf(format, args...)})
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isLetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

// Tokenize scans input and returns its tokens together with any diagnostics.
func Tokenize(file, input string) ([]Token, error) {
	l := NewLexer(file, input)
	tokens := l.Tokenize()
	return tokens, l.Errors().Err()
}
