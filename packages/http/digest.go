package http

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// DigestAuth contains the parameters needed for digest authentication
type DigestAuth struct {
	Username string
	Password string
	Realm    string
	Nonce    string
	URI      string
	Qop      string
	Nc       string
	Cnonce   string
	Opaque   string
	Method   string
}

// NewDigestAuth answers a parsed challenge for req. When the server offers
// several qop values, auth is preferred.
func NewDigestAuth(req *Request, challenge map[string]string) (*DigestAuth, error) {
	if req.DigestAuth == nil {
		return nil, fmt.Errorf("digest auth credentials not provided")
	}

	uri := "/"
	if u, err := url.Parse(req.BuildURL()); err == nil {
		uri = u.RequestURI()
	}

	d := &DigestAuth{
		Username: req.DigestAuth.Username,
		Password: req.DigestAuth.Password,
		Realm:    challenge["realm"],
		Nonce:    challenge["nonce"],
		Opaque:   challenge["opaque"],
		URI:      uri,
		Method:   req.Method,
	}

	if qop := challenge["qop"]; qop != "" {
		options := strings.Split(qop, ",")
		d.Qop = strings.TrimSpace(options[0])
		for _, q := range options {
			if strings.TrimSpace(q) == "auth" {
				d.Qop = "auth"
				break
			}
		}
		cnonce, err := GenerateCnonce()
		if err != nil {
			return nil, err
		}
		d.Cnonce = cnonce
		d.Nc = "00000001"
	}
	return d, nil
}

// ParseWWWAuthenticate parses a Digest challenge into its parameters. Quoted
// values may contain commas.
func ParseWWWAuthenticate(header string) map[string]string {
	result := make(map[string]string)

	header = strings.TrimSpace(header)
	if len(header) >= 7 && strings.EqualFold(header[:7], "digest ") {
		header = header[7:]
	}

	for len(header) > 0 {
		header = strings.TrimLeft(header, " ,")
		eq := strings.IndexByte(header, '=')
		if eq < 0 {
			break
		}
		key := strings.ToLower(strings.TrimSpace(header[:eq]))
		header = strings.TrimLeft(header[eq+1:], " ")

		var value string
		if strings.HasPrefix(header, `"`) {
			end := strings.IndexByte(header[1:], '"')
			if end < 0 {
				value, header = header[1:], ""
			} else {
				value, header = header[1:end+1], header[end+2:]
			}
		} else {
			end := strings.IndexByte(header, ',')
			if end < 0 {
				value, header = strings.TrimSpace(header), ""
			} else {
				value, header = strings.TrimSpace(header[:end]), header[end+1:]
			}
		}
		result[key] = value
	}

	return result
}

// ComputeDigestResponse calculates the digest response hash
func (d *DigestAuth) ComputeDigestResponse() string {
	ha1 := md5Hash(fmt.Sprintf("%s:%s:%s", d.Username, d.Realm, d.Password))
	ha2 := md5Hash(fmt.Sprintf("%s:%s", d.Method, d.URI))

	if d.Qop == "auth" || d.Qop == "auth-int" {
		return md5Hash(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, d.Nonce, d.Nc, d.Cnonce, d.Qop, ha2))
	}
	return md5Hash(fmt.Sprintf("%s:%s:%s", ha1, d.Nonce, ha2))
}

// BuildAuthorizationHeader creates the Authorization header value
func (d *DigestAuth) BuildAuthorizationHeader() string {
	parts := []string{
		fmt.Sprintf(`username="%s"`, d.Username),
		fmt.Sprintf(`realm="%s"`, d.Realm),
		fmt.Sprintf(`nonce="%s"`, d.Nonce),
		fmt.Sprintf(`uri="%s"`, d.URI),
		fmt.Sprintf(`response="%s"`, d.ComputeDigestResponse()),
	}

	if d.Qop != "" {
		parts = append(parts,
			fmt.Sprintf(`qop=%s`, d.Qop),
			fmt.Sprintf(`nc=%s`, d.Nc),
			fmt.Sprintf(`cnonce="%s"`, d.Cnonce),
		)
	}

	if d.Opaque != "" {
		parts = append(parts, fmt.Sprintf(`opaque="%s"`, d.Opaque))
	}

	return "Digest " + strings.Join(parts, ", ")
}

// GenerateCnonce generates a random client nonce
func GenerateCnonce() (string, error) {
	b := make([]byte, 8)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func md5Hash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
