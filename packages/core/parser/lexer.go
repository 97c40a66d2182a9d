package parser

import (
	"strconv"
	"strings"
)

// TokenType classifies a token inside a {{ }} template expression.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenIdentifier
	TokenString
	TokenNumber
	TokenBoolean
	TokenNull
	TokenOperator
	TokenLeftParen
	TokenRightParen
	TokenComma
	TokenIllegal
)

func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "EOF"
	case TokenIdentifier:
		return "identifier"
	case TokenString:
		return "string"
	case TokenNumber:
		return "number"
	case TokenBoolean:
		return "boolean"
	case TokenNull:
		return "null"
	case TokenOperator:
		return "operator"
	case TokenLeftParen:
		return "("
	case TokenRightParen:
		return ")"
	case TokenComma:
		return ","
	default:
		return "illegal"
	}
}

type Token struct {
	Type    TokenType
	Value   string
	Column  int
	Literal any
}

// Lexer splits the inside of a template expression into tokens. Expressions
// are single-line, so only columns are tracked.
type Lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte
	column  int
}

func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
	l.column++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	tok := Token{Column: l.column}
	switch l.ch {
	case 0:
		tok.Type = TokenEOF
	case '(':
		tok.Type = TokenLeftParen
		tok.Value = "("
		l.readChar()
	case ')':
		tok.Type = TokenRightParen
		tok.Value = ")"
		l.readChar()
	case ',':
		tok.Type = TokenComma
		tok.Value = ","
		l.readChar()
	case '"', '\'':
		tok = l.readString(l.ch)
	case '=', '!':
		if l.peekChar() == '=' {
			tok.Type = TokenOperator
			tok.Value = string(l.ch) + "="
			l.readChar()
			l.readChar()
		} else {
			tok.Type = TokenIllegal
			tok.Value = string(l.ch)
			l.readChar()
		}
	case '>', '<':
		tok.Type = TokenOperator
		tok.Value = string(l.ch)
		l.readChar()
		if l.ch == '=' {
			tok.Value += "="
			l.readChar()
		}
	default:
		if isDigit(l.ch) || (l.ch == '-' && isDigit(l.peekChar())) {
			return l.readNumber()
		}
		if isIdentStart(l.ch) {
			return l.readIdentifierOrKeyword()
		}
		tok.Type = TokenIllegal
		tok.Value = string(l.ch)
		l.readChar()
	}
	return tok
}

// Tokenize returns every token up to, but not including, EOF.
func (l *Lexer) Tokenize() []Token {
	var tokens []Token
	for {
		tok := l.NextToken()
		if tok.Type == TokenEOF {
			return tokens
		}
		tokens = append(tokens, tok)
	}
}

func (l *Lexer) readString(quote byte) Token {
	col := l.column
	l.readChar()
	var builder strings.Builder
	closed := false
	for l.ch != 0 {
		if l.ch == quote {
			closed = true
			l.readChar()
			break
		}
		if l.ch == '\\' && (l.peekChar() == quote || l.peekChar() == '\\') {
			l.readChar()
		}
		builder.WriteByte(l.ch)
		l.readChar()
	}
	if !closed {
		return Token{Type: TokenIllegal, Value: string(quote) + builder.String(), Column: col}
	}
	return Token{
		Type:    TokenString,
		Value:   builder.String(),
		Literal: builder.String(),
		Column:  col,
	}
}

func (l *Lexer) readNumber() Token {
	col := l.column
	start := l.pos
	if l.ch == '-' {
		l.readChar()
	}
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if l.ch == 'e' || l.ch == 'E' {
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	raw := l.input[start:l.pos]
	// Something like 3abc is a path segment, not a number.
	if isIdentStart(l.ch) {
		for isIdentPart(l.ch) {
			l.readChar()
		}
		return Token{Type: TokenIdentifier, Value: l.input[start:l.pos], Column: col}
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Token{Type: TokenIllegal, Value: raw, Column: col}
	}
	return Token{Type: TokenNumber, Value: raw, Literal: n, Column: col}
}

func (l *Lexer) readIdentifierOrKeyword() Token {
	col := l.column
	ident := l.readIdentifier()
	switch ident {
	case "true", "false":
		return Token{Type: TokenBoolean, Value: ident, Literal: ident == "true", Column: col}
	case "null":
		return Token{Type: TokenNull, Value: ident, Column: col}
	}
	return Token{Type: TokenIdentifier, Value: ident, Column: col}
}

// readIdentifier consumes a path such as a.b[0].c or headers["x-id"]. Bracket
// segments are read verbatim up to the closing bracket.
func (l *Lexer) readIdentifier() string {
	start := l.pos
	for isIdentPart(l.ch) {
		if l.ch == '[' {
			for l.ch != 0 && l.ch != ']' {
				l.readChar()
			}
			if l.ch == ']' {
				l.readChar()
			}
			continue
		}
		l.readChar()
	}
	return l.input[start:l.pos]
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isLetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isIdentStart(ch byte) bool {
	return isLetter(ch) || ch == '$' || ch >= 0x80
}

func isIdentPart(ch byte) bool {
	return isLetter(ch) || isDigit(ch) || ch == '.' || ch == '[' || ch == '-' || ch == '$' || ch >= 0x80
}
