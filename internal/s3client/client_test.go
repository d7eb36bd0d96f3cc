package s3client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/s3proxy/s3proxy/internal/config"
	"github.com/s3proxy/s3proxy/internal/signer"
	"github.com/s3proxy/s3proxy/internal/transfer"
)

func newTestClient(t *testing.T, cfg config.S3Config) *Client {
	t.Helper()
	c, err := New(cfg, transfer.Config{}, RetryPolicy{}, Timeouts{})
	require.NoError(t, err)
	return c
}

func TestObjectURLPathStyle(t *testing.T) {
	c := newTestClient(t, config.S3Config{
		Bucket:       "my-bucket",
		Region:       "us-east-1",
		Endpoint:     "http://127.0.0.1:9000",
		AccessKey:    "AKIA",
		SecretKey:    "secret",
		UsePathStyle: true,
	})

	u := c.objectURL("a/b c.txt", "partNumber=1")
	require.Equal(t, "127.0.0.1:9000", u.Host)
	require.Equal(t, "/my-bucket/a/b%20c.txt", u.Path)
	require.Equal(t, "partNumber=1", u.RawQuery)
}

func TestObjectURLVirtualHosted(t *testing.T) {
	c := newTestClient(t, config.S3Config{
		Bucket:    "my-bucket",
		Region:    "us-east-1",
		Endpoint:  "https://s3.us-east-1.amazonaws.com",
		AccessKey: "AKIA",
		SecretKey: "secret",
	})

	u := c.objectURL("key.txt", "")
	require.Equal(t, "my-bucket.s3.us-east-1.amazonaws.com", u.Host)
	require.Equal(t, "/key.txt", u.Path)
}

func TestNewCredentialSourceStatic(t *testing.T) {
	src, err := newCredentialSource(config.S3Config{AccessKey: "AKIA", SecretKey: "secret"})
	require.NoError(t, err)

	cred, err := src.Credential(context.Background())
	require.NoError(t, err)
	require.Equal(t, "AKIA", cred.AccessKeyID)
	require.Equal(t, "secret", cred.SecretKey)
}

func TestChainCredentialSourceUsesProvider(t *testing.T) {
	provider := staticProviderFor(signer.Credential{AccessKeyID: "AKIAFALLBACK", SecretKey: "fallback-secret"})
	src := chainCredentialSource{provider: provider}

	cred, err := src.Credential(context.Background())
	require.NoError(t, err)
	require.Equal(t, "AKIAFALLBACK", cred.AccessKeyID)
	require.Equal(t, "fallback-secret", cred.SecretKey)
}
