package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/s3proxy/s3proxy/internal/config"
	"github.com/s3proxy/s3proxy/internal/signer"
)

func TestSigV4AuthenticatorAcceptsValidSignature(t *testing.T) {
	cfg := config.SigV4Config{AccessKey: "AKIDEXAMPLE", SecretKey: "secret", Region: "us-east-1", MaxClockSkewSeconds: 900}
	a := newSigV4Authenticator(cfg)

	req := httptest.NewRequest(http.MethodPut, "http://bucket.s3.amazonaws.com/key", nil)
	req.Host = "bucket.s3.amazonaws.com"
	signer.NewSigner("us-east-1").Sign(req, signer.Credential{AccessKeyID: "AKIDEXAMPLE", SecretKey: "secret"}, signer.EmptySHA256, time.Now().UTC())

	subject, authErr := a.Authenticate(req)
	if authErr != nil {
		t.Fatalf("Authenticate: %v", authErr)
	}
	if subject != "AKIDEXAMPLE" {
		t.Fatalf("expected subject AKIDEXAMPLE, got %q", subject)
	}
}

func TestSigV4AuthenticatorRejectsUnknownAccessKey(t *testing.T) {
	cfg := config.SigV4Config{AccessKey: "AKIDEXAMPLE", SecretKey: "secret", Region: "us-east-1", MaxClockSkewSeconds: 900}
	a := newSigV4Authenticator(cfg)

	req := httptest.NewRequest(http.MethodPut, "http://bucket.s3.amazonaws.com/key", nil)
	req.Host = "bucket.s3.amazonaws.com"
	signer.NewSigner("us-east-1").Sign(req, signer.Credential{AccessKeyID: "OTHERKEY", SecretKey: "othersecret"}, signer.EmptySHA256, time.Now().UTC())

	if _, authErr := a.Authenticate(req); authErr == nil {
		t.Fatal("expected an error for an unrecognized access key")
	}
}

func TestSigV4AuthenticatorRejectsMissingCredentials(t *testing.T) {
	cfg := config.SigV4Config{AccessKey: "AKIDEXAMPLE", SecretKey: "secret", Region: "us-east-1"}
	a := newSigV4Authenticator(cfg)

	req := httptest.NewRequest(http.MethodGet, "http://bucket.s3.amazonaws.com/key", nil)
	req.Host = "bucket.s3.amazonaws.com"

	_, authErr := a.Authenticate(req)
	if authErr == nil || authErr.Kind != "AuthMissing" {
		t.Fatalf("expected AuthMissing, got %v", authErr)
	}
}
