package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// SignAWSRequest signs req with AWS Signature Version 4 at time t and returns
// the Authorization header value. It sets Host, X-Amz-Date,
// X-Amz-Content-Sha256 and, with a session token, X-Amz-Security-Token on
// req.Headers.
func SignAWSRequest(req *Request, t time.Time) (string, error) {
	if req.AWSAuth == nil {
		return "", fmt.Errorf("AWS auth credentials not provided")
	}

	parsedURL, err := url.Parse(req.BuildURL())
	if err != nil {
		return "", err
	}

	t = t.UTC()
	amzDate := t.Format("20060102T150405Z")
	dateStamp := t.Format("20060102")
	host := parsedURL.Host
	payloadHash := sha256Hex(req.Body)

	signed := map[string]string{
		"host":       host,
		"x-amz-date": amzDate,
	}
	if req.AWSAuth.SessionToken != "" {
		signed["x-amz-security-token"] = req.AWSAuth.SessionToken
	}
	names := make([]string, 0, len(signed))
	for k := range signed {
		names = append(names, k)
	}
	sort.Strings(names)

	var canonicalHeaders strings.Builder
	for _, k := range names {
		canonicalHeaders.WriteString(k + ":" + signed[k] + "\n")
	}
	signedHeaders := strings.Join(names, ";")

	canonicalURI := parsedURL.EscapedPath()
	if canonicalURI == "" {
		canonicalURI = "/"
	}

	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI,
		createCanonicalQueryString(parsedURL.Query()),
		canonicalHeaders.String(),
		signedHeaders,
		payloadHash,
	}, "\n")

	credentialScope := fmt.Sprintf("%s/%s/%s/aws4_request",
		dateStamp, req.AWSAuth.Region, req.AWSAuth.Service)

	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		credentialScope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	signingKey := getSignatureKey(req.AWSAuth.SecretKey, dateStamp, req.AWSAuth.Region, req.AWSAuth.Service)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	req.Headers["Host"] = host
	req.Headers["X-Amz-Date"] = amzDate
	req.Headers["X-Amz-Content-Sha256"] = payloadHash
	if req.AWSAuth.SessionToken != "" {
		req.Headers["X-Amz-Security-Token"] = req.AWSAuth.SessionToken
	}

	return fmt.Sprintf("AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		req.AWSAuth.AccessKey, credentialScope, signedHeaders, signature), nil
}

func createCanonicalQueryString(values url.Values) string {
	if len(values) == 0 {
		return ""
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pairs []string
	for _, k := range keys {
		vals := values[k]
		sort.Strings(vals)
		for _, v := range vals {
			pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}

	return strings.Join(pairs, "&")
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func getSignatureKey(secretKey, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), dateStamp)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, "aws4_request")
}
