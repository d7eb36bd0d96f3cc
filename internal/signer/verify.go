package signer

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/s3proxy/s3proxy/internal/s3proxyerr"
)

// maxPresignedExpiry is the maximum presigned URL expiration in seconds (7 days).
const maxPresignedExpiry = 604800

// CredentialLookup resolves an access key id to its secret key. Per the
// binding-scoped model, a binding's SigV4 variant is configured with
// exactly one credential, so in practice this is a constant-time
// comparison against that one access key id, but the signature stays a
// lookup to leave room for a future binding that configures more than one.
type CredentialLookup func(accessKeyID string) (secretKey string, ok bool)

// Verifier validates inbound AWS SigV4 signed requests for one binding.
type Verifier struct {
	Region       string
	MaxClockSkew time.Duration
	keys         *KeyCache
}

// NewVerifier returns a Verifier for the given region and clock-skew
// tolerance.
func NewVerifier(region string, maxClockSkew time.Duration) *Verifier {
	if maxClockSkew <= 0 {
		maxClockSkew = 15 * time.Minute
	}
	return &Verifier{Region: region, MaxClockSkew: maxClockSkew, keys: NewKeyCache()}
}

// parsedAuth holds the parsed components of an Authorization header.
type parsedAuth struct {
	AccessKeyID   string
	DateStr       string
	Region        string
	Service       string
	SignedHeaders []string
	Signature     string
}

func parseAuthorizationHeader(header string) (*parsedAuth, error) {
	if !strings.HasPrefix(header, Algorithm+" ") {
		return nil, fmt.Errorf("unsupported algorithm")
	}
	rest := strings.TrimPrefix(header, Algorithm+" ")

	parts := make(map[string]string)
	for _, part := range strings.Split(rest, ",") {
		part = strings.TrimSpace(part)
		idx := strings.IndexByte(part, '=')
		if idx < 0 {
			continue
		}
		parts[strings.TrimSpace(part[:idx])] = strings.TrimSpace(part[idx+1:])
	}

	credential, ok := parts["Credential"]
	if !ok || credential == "" {
		return nil, fmt.Errorf("missing Credential")
	}
	signedHeadersStr, ok := parts["SignedHeaders"]
	if !ok || signedHeadersStr == "" {
		return nil, fmt.Errorf("missing SignedHeaders")
	}
	signature, ok := parts["Signature"]
	if !ok || signature == "" {
		return nil, fmt.Errorf("missing Signature")
	}

	credParts := strings.SplitN(credential, "/", 5)
	if len(credParts) != 5 {
		return nil, fmt.Errorf("invalid credential format")
	}
	if credParts[4] != scopeTerminator {
		return nil, fmt.Errorf("invalid credential scope terminator: %s", credParts[4])
	}

	return &parsedAuth{
		AccessKeyID:   credParts[0],
		DateStr:       credParts[1],
		Region:        credParts[2],
		Service:       credParts[3],
		SignedHeaders: strings.Split(signedHeadersStr, ";"),
		Signature:     signature,
	}, nil
}

// VerifyRequest validates the SigV4 signature on a header-authenticated
// request. On success it returns the matched access key id (the subject).
func (v *Verifier) VerifyRequest(r *http.Request, lookup CredentialLookup) (string, *s3proxyerr.Error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", s3proxyerr.New(s3proxyerr.AuthMissing, "missing Authorization header")
	}

	parsed, err := parseAuthorizationHeader(authHeader)
	if err != nil {
		return "", s3proxyerr.New(s3proxyerr.AuthInvalidFormat, "invalid Authorization header")
	}

	secretKey, ok := lookup(parsed.AccessKeyID)
	if !ok {
		return "", s3proxyerr.New(s3proxyerr.AuthInvalidSignature, "unknown access key id")
	}

	amzDate := r.Header.Get("X-Amz-Date")
	if amzDate == "" {
		amzDate = r.Header.Get("Date")
	}
	if amzDate == "" {
		return "", s3proxyerr.New(s3proxyerr.AuthInvalidFormat, "missing X-Amz-Date or Date header")
	}

	requestTime, parseErr := time.Parse(AmzDateFormat, amzDate)
	if parseErr != nil {
		requestTime, parseErr = time.Parse(time.RFC1123, amzDate)
		if parseErr != nil {
			return "", s3proxyerr.New(s3proxyerr.AuthInvalidFormat, "invalid date format")
		}
	}

	now := time.Now().UTC()
	diff := now.Sub(requestTime)
	if diff < 0 {
		diff = -diff
	}
	if diff > v.MaxClockSkew {
		return "", s3proxyerr.New(s3proxyerr.AuthClockSkew, "request timestamp outside allowed clock skew")
	}

	if parsed.DateStr != amzDate[:8] {
		return "", s3proxyerr.New(s3proxyerr.AuthInvalidSignature, "credential date does not match X-Amz-Date")
	}

	if r.Header.Get("X-Amz-Content-Sha256") == "" {
		if r.Body != nil {
			bodyBytes, readErr := io.ReadAll(r.Body)
			if readErr != nil {
				return "", s3proxyerr.Wrap(s3proxyerr.SourceRead, "failed to read request body", readErr)
			}
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			hash := sha256.Sum256(bodyBytes)
			r.Header.Set("X-Amz-Content-Sha256", hex.EncodeToString(hash[:]))
		} else {
			r.Header.Set("X-Amz-Content-Sha256", EmptySHA256)
		}
	}

	canonicalHeaders := CanonicalHeaders(r.Header, hostOf(r), parsed.SignedHeaders)
	payloadHash := r.Header.Get("X-Amz-Content-Sha256")
	if payloadHash == "" {
		payloadHash = UnsignedPayload
	}
	canonicalRequest := BuildCanonicalRequest(
		r.Method,
		CanonicalURI(r.URL.Path),
		CanonicalQueryString(r.URL.Query()),
		canonicalHeaders,
		strings.Join(parsed.SignedHeaders, ";"),
		payloadHash,
	)

	scope := Scope(parsed.DateStr, parsed.Region, parsed.Service)
	stringToSign := BuildStringToSign(amzDate, scope, canonicalRequest)
	signingKey := v.keys.Get(secretKey, parsed.DateStr, parsed.Region, parsed.Service)
	expected := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(parsed.Signature)) != 1 {
		return "", s3proxyerr.New(s3proxyerr.AuthInvalidSignature, "signature mismatch")
	}

	return parsed.AccessKeyID, nil
}

// VerifyPresigned validates a presigned-URL request by checking the
// X-Amz-* query parameters.
func (v *Verifier) VerifyPresigned(r *http.Request, lookup CredentialLookup) (string, *s3proxyerr.Error) {
	q := r.URL.Query()

	if q.Get("X-Amz-Algorithm") != Algorithm {
		return "", s3proxyerr.New(s3proxyerr.AuthInvalidFormat, "unsupported algorithm")
	}

	credStr := q.Get("X-Amz-Credential")
	if credStr == "" {
		return "", s3proxyerr.New(s3proxyerr.AuthInvalidFormat, "missing X-Amz-Credential")
	}
	credParts := strings.SplitN(credStr, "/", 5)
	if len(credParts) != 5 || credParts[4] != scopeTerminator {
		return "", s3proxyerr.New(s3proxyerr.AuthInvalidFormat, "invalid credential format")
	}
	accessKeyID, dateStr, region, service := credParts[0], credParts[1], credParts[2], credParts[3]

	amzDate := q.Get("X-Amz-Date")
	expiresStr := q.Get("X-Amz-Expires")
	signedHeadersStr := q.Get("X-Amz-SignedHeaders")
	signature := q.Get("X-Amz-Signature")
	if amzDate == "" || expiresStr == "" || signedHeadersStr == "" || signature == "" {
		return "", s3proxyerr.New(s3proxyerr.AuthInvalidFormat, "missing required presigned parameter")
	}

	var expires int
	if _, scanErr := fmt.Sscanf(expiresStr, "%d", &expires); scanErr != nil || expires < 1 || expires > maxPresignedExpiry {
		return "", s3proxyerr.New(s3proxyerr.AuthInvalidFormat, "invalid X-Amz-Expires value")
	}

	requestTime, parseErr := time.Parse(AmzDateFormat, amzDate)
	if parseErr != nil {
		return "", s3proxyerr.New(s3proxyerr.AuthInvalidFormat, "invalid X-Amz-Date format")
	}
	if time.Now().UTC().After(requestTime.Add(time.Duration(expires) * time.Second)) {
		return "", s3proxyerr.New(s3proxyerr.AuthExpired, "presigned request has expired")
	}
	if dateStr != amzDate[:8] {
		return "", s3proxyerr.New(s3proxyerr.AuthInvalidSignature, "credential date does not match X-Amz-Date")
	}

	secretKey, ok := lookup(accessKeyID)
	if !ok {
		return "", s3proxyerr.New(s3proxyerr.AuthInvalidSignature, "unknown access key id")
	}

	signedHeaders := strings.Split(signedHeadersStr, ";")
	q2 := r.URL.Query()
	q2.Del("X-Amz-Signature")
	canonicalHeaders := CanonicalHeaders(r.Header, hostOf(r), signedHeaders)
	canonicalRequest := BuildCanonicalRequest(
		r.Method,
		CanonicalURI(r.URL.Path),
		CanonicalQueryString(q2),
		canonicalHeaders,
		strings.Join(signedHeaders, ";"),
		UnsignedPayload,
	)

	scope := Scope(dateStr, region, service)
	stringToSign := BuildStringToSign(amzDate, scope, canonicalRequest)
	signingKey := v.keys.Get(secretKey, dateStr, region, service)
	expected := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return "", s3proxyerr.New(s3proxyerr.AuthInvalidSignature, "signature mismatch")
	}

	return accessKeyID, nil
}

func hostOf(r *http.Request) string {
	if r.Host != "" {
		return r.Host
	}
	return r.Header.Get("Host")
}

// DetectAuthMethod returns "header", "presigned", "none", or "ambiguous"
// depending on which SigV4 auth surfaces are present on the request.
func DetectAuthMethod(r *http.Request) string {
	hasHeader := strings.HasPrefix(r.Header.Get("Authorization"), Algorithm)
	hasQuery := r.URL.Query().Get("X-Amz-Algorithm") != ""
	switch {
	case hasHeader && hasQuery:
		return "ambiguous"
	case hasHeader:
		return "header"
	case hasQuery:
		return "presigned"
	default:
		return "none"
	}
}
