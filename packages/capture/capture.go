package capture

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/abdul-hamid-achik/hitscript/packages/core/env"
	"github.com/abdul-hamid-achik/hitscript/packages/core/parser"
	"github.com/abdul-hamid-achik/hitscript/packages/http"
	"github.com/tidwall/gjson"
)

// ExtractionError reports a capture that could not produce a value.
type ExtractionError struct {
	Name    string
	Source  string
	Message string
	Err     error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("capture %q (%s): %s", e.Name, e.Source, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

type Extractor struct {
	resolver *env.Resolver
}

func NewExtractor(resolver *env.Resolver) *Extractor {
	return &Extractor{resolver: resolver}
}

// Extract reads one capture from resp. A body path that matches nothing
// yields env.Undefined; a missing header, cookie or assign target is an
// ExtractionError.
func (e *Extractor) Extract(c *parser.Capture, resp *http.Response, ctx *env.Context) (any, error) {
	var (
		value any
		err   error
	)

	switch c.Source {
	case parser.CaptureWholeBody:
		value = resp.DecodedBody()
	case parser.CaptureBody:
		value = extractFromBody(resp, c.Path)
	case parser.CaptureHeader:
		v, ok := resp.LookupHeader(c.Path)
		if !ok {
			return nil, &ExtractionError{Name: c.Name, Source: c.Source.String(), Message: fmt.Sprintf("no header %q in response", c.Path)}
		}
		value = v
	case parser.CaptureCookie:
		v, ok := Cookie(resp.SetCookies, c.Path)
		if !ok {
			return nil, &ExtractionError{Name: c.Name, Source: c.Source.String(), Message: fmt.Sprintf("no cookie %q in Set-Cookie", c.Path)}
		}
		value = v
	case parser.CaptureAssign:
		if c.Path == "" {
			return nil, &ExtractionError{Name: c.Name, Source: c.Source.String(), Message: "no assign target"}
		}
		v, ok := e.resolver.Lookup(c.Path, ctx)
		if !ok {
			return nil, &ExtractionError{Name: c.Name, Source: c.Source.String(), Message: fmt.Sprintf("assign target %q not found", c.Path)}
		}
		value = v
	default:
		return nil, &ExtractionError{Name: c.Name, Source: c.Source.String(), Message: "invalid capture spec"}
	}

	if c.Parse > 0 {
		value, err = reparse(value, c.Parse)
		if err != nil {
			return nil, &ExtractionError{Name: c.Name, Source: c.Source.String(), Message: "parse", Err: err}
		}
	}
	return value, nil
}

// ExtractInto runs captures in order and stores each in the context's
// scope, so an assign can read a value captured earlier in the same block.
func (e *Extractor) ExtractInto(captures []*parser.Capture, resp *http.Response, ctx *env.Context) error {
	for _, c := range captures {
		v, err := e.Extract(c, resp, ctx)
		if err != nil {
			return err
		}
		ctx.Scope.Set(c.Name, v)
	}
	return nil
}

// Session reads the token a response establishes. Without an explicit
// source the server's session transport is used, cookie first.
func (e *Extractor) Session(sc *parser.SessionCapture, transport *parser.SessionTransport, resp *http.Response) (string, error) {
	cookie, header := sc.Cookie, sc.Header
	if !sc.FromBody && cookie == "" && header == "" && transport != nil {
		cookie, header = transport.Cookie, transport.Header
	}

	fail := func(source, format string, args ...any) error {
		return &ExtractionError{Name: "session " + sc.Name, Source: source, Message: fmt.Sprintf(format, args...)}
	}

	switch {
	case sc.FromBody:
		var v any
		if sc.Body == "" {
			v = resp.DecodedBody()
		} else {
			v = extractFromBody(resp, sc.Body)
		}
		if v == nil || env.IsUndefined(v) {
			return "", fail("body", "no token at %q", sc.Body)
		}
		return env.Stringify(v), nil
	case cookie != "":
		if v, ok := Cookie(resp.SetCookies, cookie); ok {
			return v, nil
		}
		if header == "" {
			return "", fail("cookie", "no cookie %q in Set-Cookie", cookie)
		}
		fallthrough
	case header != "":
		if v, ok := resp.LookupHeader(header); ok {
			return v, nil
		}
		return "", fail("header", "no header %q in response", header)
	default:
		return "", fail("session", "no token source: set cookie, header or body")
	}
}

// Cookie finds name in raw Set-Cookie values. The first match wins.
func Cookie(setCookies []string, name string) (string, bool) {
	re := regexp.MustCompile(`(?:^|[;,]\s*)` + regexp.QuoteMeta(name) + `=([^;,]*)`)
	for _, sc := range setCookies {
		if m := re.FindStringSubmatch(sc); m != nil {
			return strings.Trim(strings.TrimSpace(m[1]), `"`), true
		}
	}
	return "", false
}

func extractFromBody(resp *http.Response, path string) any {
	p := ToGJSONPath(path)
	if p == "" {
		return resp.DecodedBody()
	}
	if !gjson.ValidBytes(resp.Body) {
		return env.Undefined
	}
	result := gjson.GetBytes(resp.Body, p)
	if !result.Exists() {
		return env.Undefined
	}
	return result.Value()
}

// ToGJSONPath turns a JSONPath-style expression into gjson syntax. The `$`
// root is optional, `[n]` becomes `.n` and quoted bracket keys are escaped.
// Anything else passes through, so gjson queries like `items.#.id` work.
func ToGJSONPath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")

	var b strings.Builder
	for i := 0; i < len(path); i++ {
		ch := path[i]
		if ch != '[' {
			b.WriteByte(ch)
			continue
		}
		end := strings.IndexByte(path[i:], ']')
		if end < 0 {
			b.WriteString(path[i:])
			break
		}
		key := path[i+1 : i+end]
		i += end
		if len(key) >= 2 && (key[0] == '\'' || key[0] == '"') && key[len(key)-1] == key[0] {
			key = escapeGJSON(key[1 : len(key)-1])
		} else if _, err := strconv.Atoi(key); err != nil && key != "*" {
			key = escapeGJSON(key)
		} else if key == "*" {
			key = "#"
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(key)
	}
	return b.String()
}

func escapeGJSON(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func reparse(v any, times int) (any, error) {
	for i := 0; i < times; i++ {
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, fmt.Errorf("pass %d: %w", i+1, err)
		}
		v = out
	}
	return v, nil
}
