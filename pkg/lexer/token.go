// Package lexer scans Cyclone source text into tokens.
//
// The scanner is fail-soft: malformed input produces an Unknown token and a
// diagnostic, and scanning resumes at the next character. Callers collect
// every diagnostic at the end with Errors.
package lexer

import "fmt"

// TokenType represents the type of a token.
type TokenType uint8

const (
	TokenEOF TokenType = iota
	TokenUnknown

	// ===== Literals =====
	TokenIdent
	TokenInt
	TokenFloat
	TokenString
	TokenChar

	// ===== Operators =====
	TokenPlus        // +
	TokenPlusPlus    // ++
	TokenPlusEq      // +=
	TokenMinus       // -
	TokenMinusMinus  // --
	TokenMinusEq     // -=
	TokenStar        // *
	TokenStarEq      // *=
	TokenSlash       // /
	TokenSlashEq     // /=
	TokenPercent     // %
	TokenPercentEq   // %=
	TokenEq          // =
	TokenEqEq        // ==
	TokenBang        // !
	TokenBangEq      // !=
	TokenLt          // <
	TokenLtEq        // <=
	TokenLShift      // <<
	TokenLShiftEq    // <<=
	TokenGt          // >
	TokenGtEq        // >=
	TokenRShift      // >>
	TokenRShiftEq    // >>=
	TokenAmp         // &
	TokenAmpAmp      // &&
	TokenAmpEq       // &=
	TokenPipe        // |
	TokenPipePipe    // ||
	TokenPipeEq      // |=
	TokenCaret       // ^
	TokenCaretEq     // ^=
	TokenTilde       // ~
	TokenLParen      // (
	TokenRParen      // )
	TokenLBrace      // {
	TokenRBrace      // }
	TokenLBracket    // [
	TokenRBracket    // ]
	TokenColon       // :
	TokenColonEq     // :=
	TokenSemicolon   // ;
	TokenComma       // ,
	TokenDot         // .
	TokenDotDot      // ..

	// ===== Keywords =====
	TokenFn
	TokenStruct
	TokenReturn
	TokenThis
	TokenIf
	TokenElse
	TokenLet
	TokenFor
	TokenIn
	TokenTrue
	TokenFalse
	TokenTry
	TokenThrow
	TokenAs
)

var tokenNames = map[TokenType]string{
	TokenEOF:     "EOF",
	TokenUnknown: "UNKNOWN",
	TokenIdent:   "IDENT",
	TokenInt:     "INT",
	TokenFloat:   "FLOAT",
	TokenString:  "STRING",
	TokenChar:    "CHAR",
}

var keywords = map[string]TokenType{
	"fn":     TokenFn,
	"struct": TokenStruct,
	"return": TokenReturn,
	"this":   TokenThis,
	"if":     TokenIf,
	"else":   TokenElse,
	"let":    TokenLet,
	"for":    TokenFor,
	"in":     TokenIn,
	"true":   TokenTrue,
	"false":  TokenFalse,
	"try":    TokenTry,
	"throw":  TokenThrow,
	"as":     TokenAs,
}

// operators is ordered longest first within each leading byte so the
// scanner can take the first prefix that matches.
var operators = []struct {
	text string
	typ  TokenType
}{
	{"++", TokenPlusPlus}, {"+=", TokenPlusEq}, {"+", TokenPlus},
	{"--", TokenMinusMinus}, {"-=", TokenMinusEq}, {"-", TokenMinus},
	{"*=", TokenStarEq}, {"*", TokenStar},
	{"/=", TokenSlashEq}, {"/", TokenSlash},
	{"%=", TokenPercentEq}, {"%", TokenPercent},
	{"==", TokenEqEq}, {"=", TokenEq},
	{"!=", TokenBangEq}, {"!", TokenBang},
	{"<<=", TokenLShiftEq}, {"<<", TokenLShift}, {"<=", TokenLtEq}, {"<", TokenLt},
	{">>=", TokenRShiftEq}, {">>", TokenRShift}, {">=", TokenGtEq}, {">", TokenGt},
	{"&&", TokenAmpAmp}, {"&=", TokenAmpEq}, {"&", TokenAmp},
	{"||", TokenPipePipe}, {"|=", TokenPipeEq}, {"|", TokenPipe},
	{"^=", TokenCaretEq}, {"^", TokenCaret},
	{"~", TokenTilde},
	{"(", TokenLParen}, {")", TokenRParen},
	{"{", TokenLBrace}, {"}", TokenRBrace},
	{"[", TokenLBracket}, {"]", TokenRBracket},
	{":=", TokenColonEq}, {":", TokenColon},
	{";", TokenSemicolon},
	{",", TokenComma},
	{"..", TokenDotDot}, {".", TokenDot},
}

func init() {
	for _, op := range operators {
		tokenNames[op.typ] = op.text
	}
	for kw, typ := range keywords {
		tokenNames[typ] = kw
	}
}

// String returns the string representation of a token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", uint8(t))
}

// IsKeyword reports whether t is a reserved word.
func (t TokenType) IsKeyword() bool {
	return t >= TokenFn && t <= TokenAs
}

// Position is a 1-based location in a source file.
type Position struct {
	File   string
	Line   int
	Column int
}

func (p Position) String() string {
	if p.File == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Column)
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
}

// Token represents a lexical token.
type Token struct {
	Type  TokenType
	Value string // Literal contents without quotes, or the matched text
	Pos   Position
}

func (t Token) String() string {
	return fmt.Sprintf("%s %s %q", t.Pos, t.Type, t.Value)
}
