package auth

import (
	"net/http"
	"time"

	"github.com/s3proxy/s3proxy/internal/config"
	"github.com/s3proxy/s3proxy/internal/s3proxyerr"
	"github.com/s3proxy/s3proxy/internal/signer"
)

// sigV4Authenticator verifies client requests against the single access
// key/secret key pair configured on the binding. Unlike a full S3-compatible
// server, this proxy does not maintain a credential store -- each binding
// is provisioned for exactly one tenant, so the "lookup" is a constant-time
// comparison against one configured pair.
type sigV4Authenticator struct {
	verifier  *signer.Verifier
	accessKey string
	secretKey string
}

func newSigV4Authenticator(cfg config.SigV4Config) *sigV4Authenticator {
	maxSkew := time.Duration(cfg.MaxClockSkewSeconds) * time.Second
	return &sigV4Authenticator{
		verifier:  signer.NewVerifier(cfg.Region, maxSkew),
		accessKey: cfg.AccessKey,
		secretKey: cfg.SecretKey,
	}
}

func (a *sigV4Authenticator) lookup(accessKeyID string) (string, bool) {
	if accessKeyID == "" || a.accessKey == "" {
		return "", false
	}
	if accessKeyID != a.accessKey {
		return "", false
	}
	return a.secretKey, true
}

func (a *sigV4Authenticator) Authenticate(r *http.Request) (string, *s3proxyerr.Error) {
	switch signer.DetectAuthMethod(r) {
	case "presigned":
		return a.verifier.VerifyPresigned(r, a.lookup)
	case "header":
		return a.verifier.VerifyRequest(r, a.lookup)
	case "ambiguous":
		return "", s3proxyerr.New(s3proxyerr.AuthInvalidFormat, "both Authorization header and presigned query parameters present")
	default:
		return "", s3proxyerr.New(s3proxyerr.AuthMissing, "no SigV4 credentials on request")
	}
}
