// Package assertions evaluates validation checks.
//
// A check is an operator followed by operands, for example
//
//	eq body.name 'x'
//	gt body.count 9
//	length body.items >= 1
//	notUndefined headers.etag
//
// Operators come from a fixed table and are registered as helpers into the
// run's builtin.Registry, so a check is rendered like any other template and
// passes when it renders to "true". The status check compares the response
// code with an exact status or a class such as 2xx.
package assertions
