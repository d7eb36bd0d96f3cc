// Package config loads the proxy's YAML configuration into an immutable
// tree consumed once at startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the proxy.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Bindings []BindingConfig `yaml:"bindings"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds listener and transfer-engine settings.
type ServerConfig struct {
	// Address is the host:port the proxy listens on for plaintext HTTP.
	Address string `yaml:"address"`
	// MetricsAddress is the host:port the Prometheus exposition endpoint
	// listens on, out of core scope beyond carrying the address.
	MetricsAddress  string    `yaml:"metrics_address"`
	ShutdownTimeout int       `yaml:"shutdown_timeout_seconds"`
	ZeroCopy        ZeroCopy  `yaml:"zero_copy"`
}

// ZeroCopy selects and sizes the Linux transfer-engine path.
type ZeroCopy struct {
	Enabled        bool `yaml:"enabled"`
	PipeBufferSize int  `yaml:"pipe_buffer_size"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BindingConfig is one bucket binding: a URL prefix mapped to an upstream
// bucket plus its authentication, authorization, and upload policies.
type BindingConfig struct {
	Name       string       `yaml:"name"`
	PathPrefix string       `yaml:"path_prefix"`
	S3         S3Config     `yaml:"s3"`
	Auth       AuthConfig   `yaml:"auth"`
	Authz      AuthzConfig  `yaml:"authz"`
	Upload     UploadConfig `yaml:"upload"`
}

// S3Config is the upstream endpoint and credential this binding forwards to.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// AuthConfig selects the binding's authentication policy.
type AuthConfig struct {
	Enabled bool       `yaml:"enabled"`
	JWT     JWTConfig  `yaml:"jwt"`
	SigV4   SigV4Config `yaml:"sigv4"`
}

// JWTConfig configures the JWT authenticator variant.
type JWTConfig struct {
	Algorithm       string   `yaml:"algorithm"`
	Secret          string   `yaml:"secret"`
	PublicKey       string   `yaml:"public_key"`
	JWKSURL         string   `yaml:"jwks_url"`
	CacheTTLSeconds int      `yaml:"cache_ttl_seconds"`
	Issuer          string   `yaml:"issuer"`
	Audience        string   `yaml:"audience"`
	TokenSources    []string `yaml:"token_sources"`
}

// SigV4Config configures the inbound SigV4 authenticator variant.
type SigV4Config struct {
	AccessKey            string `yaml:"access_key"`
	SecretKey            string `yaml:"secret_key"`
	Region               string `yaml:"region"`
	MaxClockSkewSeconds  int    `yaml:"max_clock_skew_seconds"`
}

// AuthzConfig selects the binding's authorization policy.
type AuthzConfig struct {
	Enabled           bool                    `yaml:"enabled"`
	PolicyEngine      PolicyEngineConfig      `yaml:"policy_engine"`
	RelationshipEngine RelationshipEngineConfig `yaml:"relationship_engine"`
}

// PolicyEngineConfig configures the external HTTP policy-decision variant.
type PolicyEngineConfig struct {
	URL             string `yaml:"url"`
	PolicyPath      string `yaml:"policy_path"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	CacheMaxEntries int    `yaml:"cache_max_entries"`
}

// RelationshipEngineConfig configures the Zanzibar-style check() variant.
type RelationshipEngineConfig struct {
	URL             string            `yaml:"url"`
	StoreID         string            `yaml:"store_id"`
	ModelID         string            `yaml:"model_id"`
	Relations       map[string]string `yaml:"relations"`
	TimeoutSeconds  int               `yaml:"timeout_seconds"`
	CacheTTLSeconds int               `yaml:"cache_ttl_seconds"`
	CacheMaxEntries int               `yaml:"cache_max_entries"`
}

// UploadConfig holds per-binding upload sizing parameters.
type UploadConfig struct {
	MultipartThreshold int64 `yaml:"multipart_threshold"`
	PartSize           int64 `yaml:"part_size"`
	ConcurrentParts    int   `yaml:"concurrent_parts"`
}

// Load reads a YAML configuration file from path, applies environment
// variable expansion (${VAR}/${VAR:-default}) and defaults, and returns an
// immutable Config. If path cannot be read, it falls back to a sibling
// s3proxy.example.yaml, matching the crash-only "every startup reconstructs
// its own state" posture.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		fallbacks := []string{
			filepath.Join(filepath.Dir(path), "s3proxy.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "s3proxy.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbacks {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	expanded := expandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// expandEnv replaces ${VAR} and ${VAR:-default} occurrences with the
// corresponding environment variable value (or default when unset/empty).
func expandEnv(s string) string {
	var out strings.Builder
	for i := 0; i < len(s); {
		if s[i] == '$' && i+1 < len(s) && s[i+1] == '{' {
			end := strings.IndexByte(s[i+2:], '}')
			if end >= 0 {
				expr := s[i+2 : i+2+end]
				name, def, hasDef := expr, "", false
				if idx := strings.Index(expr, ":-"); idx >= 0 {
					name, def, hasDef = expr[:idx], expr[idx+2:], true
				}
				val, ok := os.LookupEnv(name)
				if !ok || val == "" {
					if hasDef {
						val = def
					}
				}
				out.WriteString(val)
				i += 2 + end + 1
				continue
			}
		}
		out.WriteByte(s[i])
		i++
	}
	return out.String()
}

// applyDefaults fills zero-valued fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = "0.0.0.0:8080"
	}
	if cfg.Server.MetricsAddress == "" {
		cfg.Server.MetricsAddress = "0.0.0.0:9090"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Server.ZeroCopy.PipeBufferSize == 0 {
		cfg.Server.ZeroCopy.PipeBufferSize = 1 << 20 // 1 MiB
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	for i := range cfg.Bindings {
		b := &cfg.Bindings[i]
		if b.S3.Region == "" {
			b.S3.Region = "us-east-1"
		}
		if b.Upload.MultipartThreshold == 0 {
			b.Upload.MultipartThreshold = 8 << 20 // 8 MiB
		}
		if b.Upload.PartSize == 0 {
			b.Upload.PartSize = 8 << 20
		}
		if b.Upload.ConcurrentParts == 0 {
			b.Upload.ConcurrentParts = 4
		}
		if b.Auth.JWT.CacheTTLSeconds == 0 {
			b.Auth.JWT.CacheTTLSeconds = 300
		}
		if b.Auth.SigV4.MaxClockSkewSeconds == 0 {
			b.Auth.SigV4.MaxClockSkewSeconds = 300
		}
		if b.Authz.PolicyEngine.TimeoutSeconds == 0 {
			b.Authz.PolicyEngine.TimeoutSeconds = 5
		}
		if b.Authz.RelationshipEngine.TimeoutSeconds == 0 {
			b.Authz.RelationshipEngine.TimeoutSeconds = 5
		}
	}
}

// Validate enforces the Bucket Binding invariant: path prefixes are
// distinct, non-empty, and checked pairwise for segment-boundary overlap
// is left to the resolver (overlap itself is legal; only exact duplicates
// are rejected here).
func Validate(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Bindings))
	for _, b := range cfg.Bindings {
		if b.Name == "" {
			return fmt.Errorf("binding with empty name")
		}
		if b.PathPrefix == "" {
			return fmt.Errorf("binding %q: path_prefix must not be empty", b.Name)
		}
		if seen[b.PathPrefix] {
			return fmt.Errorf("binding %q: duplicate path_prefix %q", b.Name, b.PathPrefix)
		}
		seen[b.PathPrefix] = true
	}
	return nil
}
