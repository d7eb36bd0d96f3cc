// Package authz decides whether an authenticated subject may perform an S3
// operation against a bucket/key, via one of two pluggable engines: an
// external policy-decision HTTP endpoint, or a Zanzibar-style relationship
// check() call. Both variants fail closed -- an engine that cannot be
// reached surfaces as AuthzUnavailable (500), never as AuthzDenied (403),
// so a transient outage can never be mistaken for an explicit deny.
package authz

import (
	"context"
	"net/http"

	"github.com/s3proxy/s3proxy/internal/config"
	"github.com/s3proxy/s3proxy/internal/s3proxyerr"
)

// Resource identifies the object an operation targets.
type Resource struct {
	Bucket string
	Key    string
}

// Authorizer decides whether subject may perform action on resource. r is
// the inbound request being authorized, carried through so a policy engine
// can attach request context (method, path, client IP) to its decision
// query. Returns nil on allow, or a non-nil *s3proxyerr.Error (AuthzDenied
// or AuthzUnavailable) on any other outcome.
type Authorizer interface {
	Authorize(ctx context.Context, subject, action string, resource Resource, r *http.Request) *s3proxyerr.Error
}

// New builds the Authorizer for one binding's AuthzConfig.
func New(cfg config.AuthzConfig, bindingName string) (Authorizer, error) {
	if !cfg.Enabled {
		return disabledAuthorizer{}, nil
	}

	var engine Authorizer
	switch {
	case cfg.RelationshipEngine.URL != "":
		engine = newRelationshipEngine(cfg.RelationshipEngine, bindingName)
	case cfg.PolicyEngine.URL != "":
		engine = newPolicyEngine(cfg.PolicyEngine)
	default:
		return nil, errNoEngineConfigured
	}

	ttl := cfg.PolicyEngine.CacheTTLSeconds
	maxEntries := cfg.PolicyEngine.CacheMaxEntries
	if cfg.RelationshipEngine.URL != "" {
		ttl = cfg.RelationshipEngine.CacheTTLSeconds
		maxEntries = cfg.RelationshipEngine.CacheMaxEntries
	}
	return newCachingAuthorizer(engine, ttl, maxEntries), nil
}

var errNoEngineConfigured = authzConfigError("authz enabled but neither policy_engine.url nor relationship_engine.url is set")

type authzConfigError string

func (e authzConfigError) Error() string { return string(e) }
