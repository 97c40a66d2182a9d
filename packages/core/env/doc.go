// Package env holds the scope a script runs against and the template
// evaluator that reads it.
//
// A Scope carries variables, session tokens and the read-only environment.
// Placeholders look like {{user.id}}, {{$HOME}}, {{uuid()}} or
// {{eq body.name 'x'}}; the Resolver evaluates them against a Context, which
// is a Scope plus per-evaluation extras such as the response body.
package env
