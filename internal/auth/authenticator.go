// Package auth authenticates inbound requests against a binding's
// configured policy -- disabled, static SigV4 credentials, or JWT -- and
// resolves a subject identity for the authorization layer to act on.
package auth

import (
	"net/http"

	"github.com/s3proxy/s3proxy/internal/config"
	"github.com/s3proxy/s3proxy/internal/s3proxyerr"
)

// Authenticator verifies one inbound request and returns the identity it
// authenticated as.
type Authenticator interface {
	Authenticate(r *http.Request) (subject string, err *s3proxyerr.Error)
}

// New builds the Authenticator for one binding's AuthConfig. The binding's
// SigV4Config.AccessKey/SecretKey (if configured) back a single-credential
// CredentialLookup, per the single-tenant-per-binding model -- this proxy
// has no multi-credential registry the way an S3-compatible server would.
func New(cfg config.AuthConfig) (Authenticator, error) {
	if !cfg.Enabled {
		return disabledAuthenticator{}, nil
	}
	if cfg.JWT.Algorithm != "" {
		return newJWTAuthenticator(cfg.JWT)
	}
	return newSigV4Authenticator(cfg.SigV4), nil
}
