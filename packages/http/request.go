package http

import (
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitscript/packages/core/parser"
)

// Request is a fully rendered outbound request. Nothing in it is a template.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
	Auth    *parser.AuthConfig
	Query   map[string]string
	// Files maps multipart field names to file paths; Form holds the
	// plain fields sent alongside them.
	Files      map[string]string
	Form       map[string]string
	BaseDir    string
	DigestAuth *DigestAuthCredentials
	AWSAuth    *AWSAuthCredentials
}

// DigestAuthCredentials holds credentials for digest auth
type DigestAuthCredentials struct {
	Username string
	Password string
}

// AWSAuthCredentials holds credentials for AWS Signature v4 authentication
type AWSAuthCredentials struct {
	AccessKey    string
	SecretKey    string
	Region       string
	Service      string
	SessionToken string
}

func NewRequest(method, requestURL string) *Request {
	return &Request{
		Method:  method,
		URL:     requestURL,
		Headers: make(map[string]string),
		Query:   make(map[string]string),
	}
}

func (r *Request) SetHeader(key, value string) *Request {
	r.Headers[key] = value
	return r
}

// HasHeader reports whether a header is set, ignoring case.
func (r *Request) HasHeader(key string) bool {
	for k := range r.Headers {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

func (r *Request) SetBody(body []byte) *Request {
	r.Body = body
	return r
}

func (r *Request) SetQueryParam(key, value string) *Request {
	r.Query[key] = value
	return r
}

// BuildURL appends Query to URL, keeping any query already present.
func (r *Request) BuildURL() string {
	if len(r.Query) == 0 {
		return r.URL
	}

	u, err := url.Parse(r.URL)
	if err != nil {
		return r.URL
	}

	q := u.Query()
	keys := make([]string, 0, len(r.Query))
	for k := range r.Query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, r.Query[k])
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ApplyAuth turns Auth into headers, or into credentials the client uses
// for challenge and signing flows.
func (r *Request) ApplyAuth() {
	if r.Auth == nil {
		return
	}

	switch r.Auth.Type {
	case parser.AuthBasic:
		if len(r.Auth.Params) >= 2 {
			creds := r.Auth.Params[0] + ":" + r.Auth.Params[1]
			r.Headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
		}
	case parser.AuthBearer:
		if len(r.Auth.Params) >= 1 {
			r.Headers["Authorization"] = "Bearer " + r.Auth.Params[0]
		}
	case parser.AuthAPIKey:
		if len(r.Auth.Params) >= 2 {
			r.Headers[r.Auth.Params[0]] = r.Auth.Params[1]
		}
	case parser.AuthDigest:
		if len(r.Auth.Params) >= 2 {
			r.DigestAuth = &DigestAuthCredentials{
				Username: r.Auth.Params[0],
				Password: r.Auth.Params[1],
			}
		}
	case parser.AuthAWS:
		if len(r.Auth.Params) >= 4 {
			r.AWSAuth = &AWSAuthCredentials{
				AccessKey: r.Auth.Params[0],
				SecretKey: r.Auth.Params[1],
				Region:    r.Auth.Params[2],
				Service:   r.Auth.Params[3],
			}
			if len(r.Auth.Params) >= 5 {
				r.AWSAuth.SessionToken = r.Auth.Params[4]
			}
		}
	}
}
