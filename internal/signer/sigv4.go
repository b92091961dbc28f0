// Package signer implements AWS Signature Version 4 for the fixed header set used by
// model invocation calls (content-type, host, x-amz-date) with an empty query string.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"assesslab/internal/domain"
)

const (
	algorithm     = "AWS4-HMAC-SHA256"
	amzDateLayout = "20060102T150405Z"
	dateLayout    = "20060102"
	signedHeaders = "content-type;host;x-amz-date"
	contentType   = "application/json"
)

// Credentials identify the signing principal and scope.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Service         string
}

// Validate fails with a configuration error if any field is missing.
func (c Credentials) Validate() error {
	var missing []string
	if c.AccessKeyID == "" {
		missing = append(missing, "access key id")
	}
	if c.SecretAccessKey == "" {
		missing = append(missing, "secret access key")
	}
	if c.Region == "" {
		missing = append(missing, "region")
	}
	if c.Service == "" {
		missing = append(missing, "service")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", domain.ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

// Request is the part of an HTTP request covered by the signature.
// Path is the unescaped resource path, e.g. /model/anthropic.claude-v2:1/invoke.
type Request struct {
	Method  string
	Host    string
	Path    string
	Payload []byte
}

// Signer produces SigV4 headers. The clock is injectable so signatures are reproducible.
type Signer struct {
	now func() time.Time
}

// New creates a Signer using the wall clock.
func New() *Signer {
	return &Signer{now: time.Now}
}

// NewWithClock creates a Signer that reads the signing time from now.
func NewWithClock(now func() time.Time) *Signer {
	return &Signer{now: now}
}

// Sign returns the Authorization, X-Amz-Date and Content-Type headers for req.
func (s *Signer) Sign(req Request, creds Credentials) (http.Header, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	return SignAt(req, creds, s.now())
}

// SignAt is the pure signing function: identical inputs always yield identical headers.
func SignAt(req Request, creds Credentials, at time.Time) (http.Header, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	at = at.UTC()
	amzDate := at.Format(amzDateLayout)
	date := at.Format(dateLayout)

	payloadHash := HashHex(req.Payload)
	canonical := CanonicalRequest(req, amzDate, payloadHash)

	scope := strings.Join([]string{date, creds.Region, creds.Service, "aws4_request"}, "/")
	stringToSign := strings.Join([]string{algorithm, amzDate, scope, HashHex([]byte(canonical))}, "\n")

	key := SigningKey(creds.SecretAccessKey, date, creds.Region, creds.Service)
	signature := hex.EncodeToString(hmacSHA256(key, []byte(stringToSign)))

	h := http.Header{}
	h.Set("Authorization", fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		algorithm, creds.AccessKeyID, scope, signedHeaders, signature))
	h.Set("X-Amz-Date", amzDate)
	h.Set("Content-Type", contentType)
	return h, nil
}

// CanonicalRequest builds the SigV4 canonical request string.
func CanonicalRequest(req Request, amzDate, payloadHash string) string {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodPost
	}
	headers := "content-type:" + contentType + "\n" +
		"host:" + strings.ToLower(strings.TrimSpace(req.Host)) + "\n" +
		"x-amz-date:" + amzDate + "\n"

	return strings.Join([]string{
		method,
		CanonicalURI(req.Path),
		"",
		headers,
		signedHeaders,
		payloadHash,
	}, "\n")
}

// EscapePath URI-encodes each path segment the way it is sent on the wire.
func EscapePath(path string) string {
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = uriEncode(seg)
	}
	return strings.Join(segments, "/")
}

// CanonicalURI encodes the already-escaped wire path a second time, as required for every
// service except S3.
func CanonicalURI(path string) string {
	return EscapePath(EscapePath(path))
}

// SigningKey derives the per-day signing key: HMAC chain over date, region, service, "aws4_request".
func SigningKey(secret, date, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(date))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte("aws4_request"))
}

// HashHex returns the lowercase hex SHA-256 of data.
func HashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func uriEncode(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0F])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '.' || c == '~'
}
