// Package capture extracts values from HTTP responses into script variables
// and sessions.
//
// A capture reads from exactly one source:
//   - the response body, by JSONPath (`$.` optional) or as a whole
//   - a response header, matched case-insensitively
//   - a cookie in the Set-Cookie headers
//   - an existing variable path (assign)
//
// An optional parse count JSON-decodes string values that were encoded more
// than once.
package capture
