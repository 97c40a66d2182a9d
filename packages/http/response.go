package http

import (
	"encoding/json"
	"strings"
	"time"
)

type Response struct {
	StatusCode int
	Status     string
	// Headers keeps the first value of each header under its canonical name.
	Headers map[string]string
	// SetCookies holds every raw Set-Cookie header value in arrival order.
	SetCookies []string
	Body       []byte
	Duration   time.Duration
}

func (r *Response) BodyString() string {
	return string(r.Body)
}

func (r *Response) BodyJSON() (any, error) {
	var result any
	if err := json.Unmarshal(r.Body, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// DecodedBody returns the body as JSON when it parses, else as a string. An
// empty body is nil.
func (r *Response) DecodedBody() any {
	if len(r.Body) == 0 {
		return nil
	}
	if v, err := r.BodyJSON(); err == nil {
		return v
	}
	return r.BodyString()
}

// Header returns the first header matching key, ignoring case.
func (r *Response) Header(key string) string {
	v, _ := r.LookupHeader(key)
	return v
}

func (r *Response) LookupHeader(key string) (string, bool) {
	if v, ok := r.Headers[key]; ok {
		return v, true
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func (r *Response) ContentType() string {
	return r.Header("Content-Type")
}

func (r *Response) IsJSON() bool {
	return strings.Contains(r.ContentType(), "json")
}

func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) DurationMs() int64 {
	return r.Duration.Milliseconds()
}
