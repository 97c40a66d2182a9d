// Package builtin provides the helper registry used by templates.
//
// Default helpers:
//   - uuid(): random UUID v4
//   - now(), timestamp(), timestampMs(), date(format)
//   - random(min, max), randomString(length), randomEmail()
//   - base64(v), base64Decode(v), md5(v), sha256(v)
//   - urlEncode(v), urlDecode(v), json(v)
//
// Helpers are called as {{uuid()}} or, space separated, {{json user}}.
// Validation operators are registered into the same registry by the
// assertions package.
package builtin
