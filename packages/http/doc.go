// Package http sends the rendered requests of a script run.
//
// It wraps the standard library client with:
//   - Configurable timeouts and per-request deadlines
//   - Redirect handling
//   - Outbound rate limiting
//   - Basic, bearer, API key, digest and AWS SigV4 authentication
//   - Multipart form data support
//   - Response decoding with raw Set-Cookie values kept for capture
package http
