// Package signer implements AWS Signature Version 4: producing the
// Authorization header for outbound requests to the S3 backend, and
// validating it on inbound requests when a binding's authentication policy
// is SigV4. Both directions share the same canonicalization rules.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const (
	// Algorithm is the signing algorithm identifier.
	Algorithm = "AWS4-HMAC-SHA256"

	// scopeTerminator is the fixed suffix of the credential scope.
	scopeTerminator = "aws4_request"

	// Service is the only service this proxy signs for.
	Service = "s3"

	// UnsignedPayload is the literal value used for streaming uploads whose
	// body hash is not precomputed.
	UnsignedPayload = "UNSIGNED-PAYLOAD"

	// EmptySHA256 is the SHA-256 hash of an empty string, hex-encoded.
	EmptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	// AmzDateFormat is the format for x-amz-date values.
	AmzDateFormat = "20060102T150405Z"

	// AmzDateShort is the date-only portion used in the credential scope.
	AmzDateShort = "20060102"
)

// CanonicalURI returns the URI-encoded absolute path. Forward slashes are
// not encoded. An empty path becomes "/".
func CanonicalURI(path string) string {
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = URIEncode(seg, false)
	}
	return strings.Join(segments, "/")
}

// CanonicalQueryString returns the sorted, URI-encoded query string.
// Parameters with no value use an empty value ("acl=").
func CanonicalQueryString(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	var pairs []string
	for key, vals := range values {
		encodedKey := URIEncode(key, true)
		if len(vals) == 0 {
			pairs = append(pairs, encodedKey+"=")
		}
		for _, val := range vals {
			pairs = append(pairs, encodedKey+"="+URIEncode(val, true))
		}
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}

// CanonicalHeaders builds the canonical headers string from the signed
// header list, reading values from an http.Header plus an explicit host
// (since Host often lives outside the header map).
func CanonicalHeaders(header http.Header, host string, signedHeaders []string) string {
	var sb strings.Builder
	for _, name := range signedHeaders {
		name = strings.ToLower(name)
		var values []string
		if name == "host" {
			values = []string{host}
		} else {
			values = header.Values(http.CanonicalHeaderKey(name))
		}
		joined := strings.Join(values, ",")
		joined = strings.TrimSpace(joined)
		for strings.Contains(joined, "  ") {
			joined = strings.ReplaceAll(joined, "  ", " ")
		}
		sb.WriteString(name)
		sb.WriteByte(':')
		sb.WriteString(joined)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// URIEncode encodes a string per S3 URI encoding rules. Characters A-Z,
// a-z, 0-9, '-', '_', '.', '~' are not encoded. If encodeSlash is false,
// '/' is also not encoded. All other bytes are percent-encoded with
// uppercase hex.
func URIEncode(s string, encodeSlash bool) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isURIUnreserved(c) || (!encodeSlash && c == '/') {
			sb.WriteByte(c)
		} else {
			sb.WriteByte('%')
			sb.WriteByte(hexDigit(c >> 4))
			sb.WriteByte(hexDigit(c & 0x0f))
		}
	}
	return sb.String()
}

func isURIUnreserved(c byte) bool {
	return (c >= 'A' && c <= 'Z') ||
		(c >= 'a' && c <= 'z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '.' || c == '~'
}

func hexDigit(b byte) byte {
	if b < 10 {
		return '0' + b
	}
	return 'A' + b - 10
}

// BuildCanonicalRequest assembles the canonical request string.
func BuildCanonicalRequest(method, canonicalURI, canonicalQuery, canonicalHeaders, signedHeadersJoined, payloadHash string) string {
	var sb strings.Builder
	sb.WriteString(method)
	sb.WriteByte('\n')
	sb.WriteString(canonicalURI)
	sb.WriteByte('\n')
	sb.WriteString(canonicalQuery)
	sb.WriteByte('\n')
	sb.WriteString(canonicalHeaders)
	sb.WriteByte('\n')
	sb.WriteString(signedHeadersJoined)
	sb.WriteByte('\n')
	sb.WriteString(payloadHash)
	return sb.String()
}

// BuildStringToSign builds the string to sign for SigV4.
func BuildStringToSign(amzDate, scope, canonicalRequest string) string {
	hash := sha256.Sum256([]byte(canonicalRequest))
	return Algorithm + "\n" +
		amzDate + "\n" +
		scope + "\n" +
		hex.EncodeToString(hash[:])
}

// Scope builds the credential scope string date/region/service/aws4_request.
func Scope(dateStr, region, service string) string {
	return dateStr + "/" + region + "/" + service + "/" + scopeTerminator
}

// DeriveSigningKey derives the SigV4 signing key via the four-step HMAC
// chain. Callers may cache the result by (secret, date, region, service).
func DeriveSigningKey(secretKey, dateStr, region, service string) []byte {
	dateKey := hmacSHA256([]byte("AWS4"+secretKey), dateStr)
	regionKey := hmacSHA256(dateKey, region)
	serviceKey := hmacSHA256(regionKey, service)
	return hmacSHA256(serviceKey, scopeTerminator)
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}
