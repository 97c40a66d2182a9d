// Package parser loads hitscript scripts and parses template expressions.
//
// A script is a YAML (or JSON) document with an init block and an ordered
// list of steps. Each step is exactly one of:
//   - a request (get: /path, or method + uri)
//   - a loop over an array literal or a variable
//   - an include of another script, by path or inline
//
// Documents are checked against an embedded JSON schema before they are
// decoded; anything that cannot run as written is reported as a
// StructuralError with the file and line.
//
// The expression side (Lexer, ParseExpression) handles the text between
// {{ and }}: paths, $ENV lookups and helper calls.
package parser
