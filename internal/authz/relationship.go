package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/s3proxy/s3proxy/internal/config"
	"github.com/s3proxy/s3proxy/internal/s3proxyerr"
)

// relationshipCheckRequest mirrors a Zanzibar-style check(user, relation,
// object) tuple query.
type relationshipCheckRequest struct {
	StoreID  string            `json:"store_id,omitempty"`
	ModelID  string            `json:"model_id,omitempty"`
	TupleKey relationshipTuple `json:"tuple_key"`
}

type relationshipTuple struct {
	User     string `json:"user"`
	Relation string `json:"relation"`
	Object   string `json:"object"`
}

type relationshipCheckResponse struct {
	Allowed bool `json:"allowed"`
}

// relationshipEngine evaluates access as a single check() call against a
// Zanzibar/OpenFGA-style relationship store. The binding name scopes the
// object tuple ("bucket:<binding>") so one store can serve multiple
// bindings without their tuples colliding.
type relationshipEngine struct {
	url         string
	storeID     string
	modelID     string
	relations   map[string]string
	bindingName string
	httpClient  *http.Client
}

func newRelationshipEngine(cfg config.RelationshipEngineConfig, bindingName string) *relationshipEngine {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &relationshipEngine{
		url:         cfg.URL,
		storeID:     cfg.StoreID,
		modelID:     cfg.ModelID,
		relations:   cfg.Relations,
		bindingName: bindingName,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// relationFor maps an S3 operation (PutObject, UploadPart, ...) to the
// relation name configured for this binding, defaulting to "writer" since
// every operation this proxy performs is a write.
func (e *relationshipEngine) relationFor(action string) string {
	if rel, ok := e.relations[action]; ok {
		return rel
	}
	if rel, ok := e.relations["default"]; ok {
		return rel
	}
	return "writer"
}

func (e *relationshipEngine) Authorize(ctx context.Context, subject, action string, resource Resource, r *http.Request) *s3proxyerr.Error {
	payload, err := json.Marshal(relationshipCheckRequest{
		StoreID: e.storeID,
		ModelID: e.modelID,
		TupleKey: relationshipTuple{
			User:     "user:" + subject,
			Relation: e.relationFor(action),
			Object:   "bucket:" + e.bindingName,
		},
	})
	if err != nil {
		return s3proxyerr.Wrap(s3proxyerr.AuthzUnavailable, "encoding relationship check request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return s3proxyerr.Wrap(s3proxyerr.AuthzUnavailable, "building relationship check request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return s3proxyerr.Wrap(s3proxyerr.AuthzUnavailable, "calling relationship engine", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s3proxyerr.New(s3proxyerr.AuthzUnavailable, "relationship engine returned a non-200 status")
	}

	var decision relationshipCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return s3proxyerr.Wrap(s3proxyerr.AuthzUnavailable, "decoding relationship check response", err)
	}
	if !decision.Allowed {
		return s3proxyerr.New(s3proxyerr.AuthzDenied, "relationship check denied the request")
	}
	return nil
}
