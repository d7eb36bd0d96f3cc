package auth

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/s3proxy/s3proxy/internal/config"
	"github.com/s3proxy/s3proxy/internal/s3proxyerr"
)

// jwtAuthenticator validates bearer tokens per RFC 7519, extracting the
// subject claim and checking exp/nbf/iss/aud per the binding's policy. Keys
// come from either an inline PEM (RS*/ES* with a single fixed key) or a
// JWKS endpoint resolved per-kid and cached.
type jwtAuthenticator struct {
	algorithm    string
	issuer       string
	audience     string
	tokenSources []tokenSource

	hmacSecret []byte
	staticKey  crypto.PublicKey
	jwks       *jwksCache
}

type tokenSource struct {
	kind string // "header" or "query"
	name string
}

func parseTokenSources(raw []string) []tokenSource {
	if len(raw) == 0 {
		return []tokenSource{{kind: "header", name: "Authorization"}}
	}
	sources := make([]tokenSource, 0, len(raw))
	for _, s := range raw {
		kind, name, ok := strings.Cut(s, ":")
		if !ok {
			kind, name = "header", s
		}
		sources = append(sources, tokenSource{kind: kind, name: name})
	}
	return sources
}

func newJWTAuthenticator(cfg config.JWTConfig) (*jwtAuthenticator, error) {
	a := &jwtAuthenticator{
		algorithm:    cfg.Algorithm,
		issuer:       cfg.Issuer,
		audience:     cfg.Audience,
		tokenSources: parseTokenSources(cfg.TokenSources),
	}

	switch {
	case cfg.Algorithm == "HS256":
		if cfg.Secret == "" {
			return nil, fmt.Errorf("jwt: HS256 requires a secret")
		}
		a.hmacSecret = []byte(cfg.Secret)

	case cfg.JWKSURL != "":
		ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
		a.jwks = newJWKSCache(cfg.JWKSURL, ttl)

	case cfg.PublicKey != "":
		key, err := parsePublicKeyPEM(cfg.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("jwt: parsing configured public key: %w", err)
		}
		a.staticKey = key

	default:
		return nil, fmt.Errorf("jwt: algorithm %q requires either public_key or jwks_url", cfg.Algorithm)
	}

	return a, nil
}

func parsePublicKeyPEM(pemStr string) (crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseCertificate(block.Bytes); err == nil {
		return key.PublicKey, nil
	}
	return nil, fmt.Errorf("unrecognized public key encoding")
}

func (a *jwtAuthenticator) extractToken(r *http.Request) string {
	for _, src := range a.tokenSources {
		switch src.kind {
		case "header":
			v := r.Header.Get(src.name)
			if v == "" {
				continue
			}
			if src.name == "Authorization" {
				if rest, ok := strings.CutPrefix(v, "Bearer "); ok {
					return rest
				}
				continue
			}
			return v
		case "query":
			if v := r.URL.Query().Get(src.name); v != "" {
				return v
			}
		}
	}
	return ""
}

func (a *jwtAuthenticator) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); ok {
			if a.hmacSecret == nil {
				return nil, fmt.Errorf("token uses HMAC but binding is not configured for HS256")
			}
			return a.hmacSecret, nil
		}
		if a.staticKey != nil {
			return a.staticKey, nil
		}
		if a.jwks != nil {
			kid, _ := tok.Header["kid"].(string)
			return a.jwks.key(ctx, kid)
		}
		return nil, fmt.Errorf("no verification key available")
	}
}

func (a *jwtAuthenticator) Authenticate(r *http.Request) (string, *s3proxyerr.Error) {
	raw := a.extractToken(r)
	if raw == "" {
		return "", s3proxyerr.New(s3proxyerr.AuthMissing, "no bearer token on request")
	}

	claims := jwt.MapClaims{}
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods(allowedMethods(a.algorithm))}
	if a.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(a.audience))
	}

	tok, err := jwt.ParseWithClaims(raw, claims, a.keyFunc(r.Context()), parserOpts...)
	if err != nil {
		var unavailable jwksUnavailableError
		if errors.As(err, &unavailable) {
			return "", s3proxyerr.Wrap(s3proxyerr.AuthServiceUnavailable, "fetching JWKS", err)
		}
		return "", s3proxyerr.Wrap(classifyJWTError(err), "validating bearer token", err)
	}
	if !tok.Valid {
		return "", s3proxyerr.New(s3proxyerr.AuthInvalidSignature, "token failed validation")
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", s3proxyerr.New(s3proxyerr.AuthInvalidFormat, "token has no sub claim")
	}
	return subject, nil
}

func allowedMethods(algorithm string) []string {
	return []string{algorithm}
}

func classifyJWTError(err error) s3proxyerr.Kind {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return s3proxyerr.AuthExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet) || errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return s3proxyerr.AuthClockSkew
	default:
		return s3proxyerr.AuthInvalidSignature
	}
}

// jwksUnavailableError distinguishes "we couldn't reach/parse the JWKS
// endpoint" (a 503, not the client's fault) from "the token itself is
// invalid" (a 401).
type jwksUnavailableError struct{ err error }

func (e jwksUnavailableError) Error() string { return "fetching JWKS: " + e.err.Error() }
func (e jwksUnavailableError) Unwrap() error { return e.err }

// jwksCache fetches and caches a JSON Web Key Set by kid, refreshing it at
// most once per TTL and collapsing concurrent refreshes into a single
// upstream fetch via singleflight so a cache-miss stampede under load
// doesn't turn into a fetch storm against the identity provider.
type jwksCache struct {
	url string
	ttl time.Duration

	mu         sync.RWMutex
	keys       map[string]crypto.PublicKey
	fetchedAt  time.Time
	httpClient *http.Client
	group      singleflight.Group
}

func newJWKSCache(url string, ttl time.Duration) *jwksCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &jwksCache{
		url:        url,
		ttl:        ttl,
		keys:       map[string]crypto.PublicKey{},
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *jwksCache) key(ctx context.Context, kid string) (crypto.PublicKey, error) {
	c.mu.RLock()
	stale := time.Since(c.fetchedAt) > c.ttl
	key, found := c.keys[kid]
	c.mu.RUnlock()

	if found && !stale {
		return key, nil
	}

	_, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		return nil, c.refresh(ctx)
	})
	if err != nil {
		c.mu.RLock()
		key, found = c.keys[kid]
		c.mu.RUnlock()
		if found {
			// Serve a stale-but-present key rather than fail outright when
			// the refresh itself failed but we still know about this kid.
			return key, nil
		}
		return nil, jwksUnavailableError{err: err}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	key, found = c.keys[kid]
	if !found {
		return nil, fmt.Errorf("unknown kid %q in JWKS", kid)
	}
	return key, nil
}

func (c *jwksCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return err
	}

	keys := make(map[string]crypto.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		switch k.Key.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey:
			keys[k.KeyID] = k.Key
		}
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}
