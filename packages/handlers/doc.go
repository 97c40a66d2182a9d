// Package handlers runs user-registered response transformers between
// capture and validation.
//
// A handler declares a parameter schema. Step-supplied args are rendered
// (unless the param is opaque), defaulted, required-checked and coerced to
// the declared type before the handler runs.
package handlers
