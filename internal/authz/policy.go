package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/s3proxy/s3proxy/internal/config"
	"github.com/s3proxy/s3proxy/internal/s3proxyerr"
)

// policyRequest is the document posted to the external policy-decision
// endpoint for evaluation.
type policyRequest struct {
	Subject  string         `json:"subject"`
	Action   string         `json:"action"`
	Resource policyResource `json:"resource"`
	Context  policyContext  `json:"context"`
}

type policyResource struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// policyContext carries the small amount of request context the spec
// allows the proxy to disclose to an external policy engine: method, path,
// and client IP. Never the body, headers, or credentials.
type policyContext struct {
	Method   string `json:"method"`
	Path     string `json:"path"`
	ClientIP string `json:"client_ip"`
}

type policyResponse struct {
	Allow bool `json:"allow"`
}

// policyEngine evaluates access by POSTing a decision request to an
// external HTTP endpoint and parsing a boolean verdict back.
type policyEngine struct {
	url        string
	policyPath string
	httpClient *http.Client
}

func newPolicyEngine(cfg config.PolicyEngineConfig) *policyEngine {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &policyEngine{
		url:        cfg.URL,
		policyPath: cfg.PolicyPath,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (e *policyEngine) Authorize(ctx context.Context, subject, action string, resource Resource, r *http.Request) *s3proxyerr.Error {
	payload, err := json.Marshal(policyRequest{
		Subject: subject,
		Action:  action,
		Resource: policyResource{
			Bucket: resource.Bucket,
			Key:    resource.Key,
		},
		Context: policyContext{
			Method:   r.Method,
			Path:     r.URL.Path,
			ClientIP: clientIP(r),
		},
	})
	if err != nil {
		return s3proxyerr.Wrap(s3proxyerr.AuthzUnavailable, "encoding policy request", err)
	}

	target := e.url
	if e.policyPath != "" {
		target += e.policyPath
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return s3proxyerr.Wrap(s3proxyerr.AuthzUnavailable, "building policy request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return s3proxyerr.Wrap(s3proxyerr.AuthzUnavailable, "calling policy engine", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s3proxyerr.New(s3proxyerr.AuthzUnavailable, "policy engine returned a non-200 status")
	}

	var decision policyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return s3proxyerr.Wrap(s3proxyerr.AuthzUnavailable, "decoding policy response", err)
	}
	if !decision.Allow {
		return s3proxyerr.New(s3proxyerr.AuthzDenied, "policy engine denied the request")
	}
	return nil
}

// clientIP returns the remote address's host portion, stripping the port
// RemoteAddr always carries.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
