package signer

import (
	"encoding/hex"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// Credential is the static access key pair a binding signs outbound
// requests with. It mirrors the shape of aws.Credentials; ToAWS converts
// it.
type Credential struct {
	AccessKeyID string
	SecretKey   string
}

// ToAWS adapts a Credential to aws.Credentials.
func (c Credential) ToAWS() aws.Credentials {
	return aws.Credentials{AccessKeyID: c.AccessKeyID, SecretAccessKey: c.SecretKey}
}

// Signer produces AWS SigV4 Authorization headers for outbound requests to
// one binding's upstream S3 endpoint.
type Signer struct {
	Region string
	keys   *KeyCache
}

// NewSigner returns a Signer for the given region, with its own signing-key
// cache.
func NewSigner(region string) *Signer {
	return &Signer{Region: region, keys: NewKeyCache()}
}

// Sign computes and sets the Authorization header (plus x-amz-date and
// x-amz-content-sha256, if not already present) on req. payloadHash is
// either a literal hex SHA-256 digest or UnsignedPayload for streaming
// bodies. now is the request timestamp; callers pass it explicitly so
// signing is deterministic and testable.
//
// Signing is over exactly the headers already present in req.Header at
// call time plus Host. Headers added afterwards (internal/s3client adds
// the trace context after signing) are not covered, and req.ContentLength
// is not signed because it is not part of req.Header.
func (s *Signer) Sign(req *http.Request, cred Credential, payloadHash string, now time.Time) {
	amzDate := now.UTC().Format(AmzDateFormat)
	dateStr := amzDate[:8]

	if req.Header.Get("X-Amz-Date") == "" {
		req.Header.Set("X-Amz-Date", amzDate)
	} else {
		amzDate = req.Header.Get("X-Amz-Date")
		dateStr = amzDate[:8]
	}
	if req.Header.Get("X-Amz-Content-Sha256") == "" {
		req.Header.Set("X-Amz-Content-Sha256", payloadHash)
	}

	signedHeaders := signedHeaderNames(req.Header)
	canonicalHeaders := CanonicalHeaders(req.Header, req.Host, signedHeaders)
	canonicalRequest := BuildCanonicalRequest(
		req.Method,
		CanonicalURI(req.URL.Path),
		CanonicalQueryString(req.URL.Query()),
		canonicalHeaders,
		strings.Join(signedHeaders, ";"),
		payloadHash,
	)

	scope := Scope(dateStr, s.Region, Service)
	stringToSign := BuildStringToSign(amzDate, scope, canonicalRequest)
	signingKey := s.keys.Get(cred.SecretKey, dateStr, s.Region, Service)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	authHeader := Algorithm + " Credential=" + cred.AccessKeyID + "/" + scope +
		", SignedHeaders=" + strings.Join(signedHeaders, ";") +
		", Signature=" + signature
	req.Header.Set("Authorization", authHeader)
}

// signedHeaderNames returns the lowercase, sorted set of header names this
// proxy always signs: host, and every header currently set on the outbound
// request at signing time (x-amz-date, x-amz-content-sha256, content-type,
// content-encoding, x-amz-meta-*, etc).
func signedHeaderNames(header http.Header) []string {
	names := make([]string, 0, len(header)+1)
	names = append(names, "host")
	for name := range header {
		names = append(names, strings.ToLower(name))
	}
	sort.Strings(names)
	return names
}
