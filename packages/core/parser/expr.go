package parser

import (
	"fmt"
	"strings"
)

type ExprKind int

const (
	// ExprPath is a bare variable path. A path that names a registered
	// zero-argument helper and does not resolve is evaluated as a call.
	ExprPath ExprKind = iota
	// ExprEnv is $NAME, an environment lookup.
	ExprEnv
	// ExprCall is a helper call, either name(arg, arg) or name arg arg.
	ExprCall
	// ExprLiteral is a lone quoted string, number, boolean or null.
	ExprLiteral
)

// Expression is the parsed inside of a {{ }} placeholder.
type Expression struct {
	Kind    ExprKind
	Name    string
	Args    []Operand
	Literal any
	Raw     string
}

// Operand is one helper argument: a literal, or a path resolved at evaluation time.
type Operand struct {
	Path      string
	Literal   any
	IsLiteral bool
}

func (o Operand) String() string {
	if !o.IsLiteral {
		return o.Path
	}
	if s, ok := o.Literal.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprint(o.Literal)
}

// ExpressionError reports an expression that cannot be tokenized or parsed.
type ExpressionError struct {
	Expr    string
	Column  int
	Message string
}

func (e *ExpressionError) Error() string {
	if e.Column > 0 {
		return fmt.Sprintf("invalid expression %q at column %d: %s", e.Expr, e.Column, e.Message)
	}
	return fmt.Sprintf("invalid expression %q: %s", e.Expr, e.Message)
}

// ParseExpression parses the text between {{ and }}.
func ParseExpression(raw string) (*Expression, error) {
	expr := strings.TrimSpace(raw)
	tokens := NewLexer(expr).Tokenize()
	if len(tokens) == 0 {
		return nil, &ExpressionError{Expr: raw, Message: "empty expression"}
	}
	for _, tok := range tokens {
		if tok.Type == TokenIllegal {
			return nil, &ExpressionError{Expr: raw, Column: tok.Column, Message: fmt.Sprintf("unexpected %q", tok.Value)}
		}
	}

	head := tokens[0]
	if head.Type == TokenNull && len(tokens) > 1 {
		// "null x" is the null check, not the literal
		head.Type = TokenIdentifier
		tokens[0] = head
	}
	if head.Type != TokenIdentifier {
		if len(tokens) == 1 {
			if lit, ok := literalOf(head); ok {
				return &Expression{Kind: ExprLiteral, Literal: lit, Raw: expr}, nil
			}
		}
		return nil, &ExpressionError{Expr: raw, Column: head.Column, Message: "expression must start with a path or helper name"}
	}

	if len(tokens) > 1 && tokens[1].Type == TokenLeftParen {
		return parseParenCall(raw, expr, tokens)
	}

	if len(tokens) == 1 {
		if strings.HasPrefix(head.Value, "$") && len(head.Value) > 1 {
			return &Expression{Kind: ExprEnv, Name: head.Value[1:], Raw: expr}, nil
		}
		return &Expression{Kind: ExprPath, Name: head.Value, Raw: expr}, nil
	}

	call := &Expression{Kind: ExprCall, Name: head.Value, Raw: expr}
	for _, tok := range tokens[1:] {
		op, err := operandOf(raw, tok)
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, op)
	}
	return call, nil
}

func parseParenCall(raw, expr string, tokens []Token) (*Expression, error) {
	call := &Expression{Kind: ExprCall, Name: strings.TrimPrefix(tokens[0].Value, "$"), Raw: expr}
	rest := tokens[2:]
	if len(rest) == 0 || rest[len(rest)-1].Type != TokenRightParen {
		return nil, &ExpressionError{Expr: raw, Message: "missing closing parenthesis"}
	}
	rest = rest[:len(rest)-1]
	expectArg := true
	for _, tok := range rest {
		if tok.Type == TokenComma {
			if expectArg {
				return nil, &ExpressionError{Expr: raw, Column: tok.Column, Message: "unexpected comma"}
			}
			expectArg = true
			continue
		}
		if !expectArg {
			return nil, &ExpressionError{Expr: raw, Column: tok.Column, Message: "arguments must be separated by commas"}
		}
		op, err := operandOf(raw, tok)
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, op)
		expectArg = false
	}
	if expectArg && len(call.Args) > 0 {
		return nil, &ExpressionError{Expr: raw, Message: "trailing comma"}
	}
	return call, nil
}

func operandOf(raw string, tok Token) (Operand, error) {
	if tok.Type == TokenIdentifier {
		return Operand{Path: tok.Value}, nil
	}
	if tok.Type == TokenOperator {
		// comparison symbols are passed to helpers such as length as strings
		return Operand{Literal: tok.Value, IsLiteral: true}, nil
	}
	if lit, ok := literalOf(tok); ok {
		return Operand{Literal: lit, IsLiteral: true}, nil
	}
	return Operand{}, &ExpressionError{Expr: raw, Column: tok.Column, Message: fmt.Sprintf("unexpected %s", tok.Type)}
}

func literalOf(tok Token) (any, bool) {
	switch tok.Type {
	case TokenString, TokenNumber, TokenBoolean:
		return tok.Literal, true
	case TokenNull:
		return nil, true
	default:
		return nil, false
	}
}
