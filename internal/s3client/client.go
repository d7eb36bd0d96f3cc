// Package s3client implements the upstream-facing half of the proxy: it
// assembles, signs, and executes the raw HTTP requests sent to the backing
// S3-compatible endpoint for each operation, using internal/signer for
// SigV4. Request bodies are streamed from the caller's reader; the
// transfer.Config a Client carries is read by the orchestrator, not used
// by this package.
package s3client

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/s3proxy/s3proxy/internal/config"
	"github.com/s3proxy/s3proxy/internal/s3proxyerr"
	"github.com/s3proxy/s3proxy/internal/signer"
	"github.com/s3proxy/s3proxy/internal/transfer"
)

// Client talks to a single upstream bucket on behalf of one binding. One
// Client is constructed per binding at startup and reused for the life of
// the process.
type Client struct {
	bucket       string
	region       string
	endpoint     *url.URL
	usePathStyle bool

	httpClient *http.Client
	signer     *signer.Signer
	creds      CredentialSource
	transfer   transfer.Config
	retry      RetryPolicy
	timeouts   Timeouts
}

// CredentialSource resolves the signer.Credential used for outbound
// requests. Resolution is deferred to call time (rather than once at
// startup) so a default-chain-backed source can pick up IAM role rotation.
type CredentialSource interface {
	Credential(ctx context.Context) (signer.Credential, error)
}

// Timeouts bounds an upstream request. Connect bounds dialing only; a
// request's total deadline is the header budget plus a per-MiB allowance
// for its body, so a large PutObject isn't penalized by the same budget as
// a small control-plane call.
type Timeouts struct {
	Connect time.Duration
	Header  time.Duration
	// BodyPerMiB paces the allowed duration for streaming a part's body;
	// it is scaled by the body size and added to Header when the request's
	// deadline is set, before it is sent. A zero value disables the extra
	// allowance.
	BodyPerMiB time.Duration
}

func (t Timeouts) connect() time.Duration {
	if t.Connect > 0 {
		return t.Connect
	}
	return 10 * time.Second
}

func (t Timeouts) header() time.Duration {
	if t.Header > 0 {
		return t.Header
	}
	return 30 * time.Second
}

// deadlineFor returns the total time budget for a request carrying
// bodySize bytes (−1 if unknown, in which case only the header budget
// applies).
func (t Timeouts) deadlineFor(bodySize int64) time.Duration {
	budget := t.header()
	if bodySize > 0 && t.BodyPerMiB > 0 {
		mib := float64(bodySize) / (1 << 20)
		budget += time.Duration(mib * float64(t.BodyPerMiB))
	}
	return budget
}

// sharedTransport is reused by every Client: http.Transport already keys
// its idle-connection pool by (scheme, host, port), which is exactly the
// granularity the upstream dataplane needs, so a hand-rolled connection
// pool on top of it would only duplicate kernel-socket bookkeeping the
// standard library already does correctly.
var (
	sharedTransportOnce sync.Once
	sharedTransport     *http.Transport
)

func getSharedTransport(connectTimeout time.Duration) *http.Transport {
	sharedTransportOnce.Do(func() {
		dialer := &net.Dialer{Timeout: connectTimeout}
		sharedTransport = &http.Transport{
			DialContext:         dialer.DialContext,
			MaxIdleConns:        256,
			MaxIdleConnsPerHost: 64,
			MaxConnsPerHost:     0,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		}
	})
	return sharedTransport
}

// New constructs a Client for one binding's upstream S3Config.
func New(cfg config.S3Config, transferCfg transfer.Config, retry RetryPolicy, timeouts Timeouts) (*Client, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://s3.%s.amazonaws.com", cfg.Region)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream endpoint %q: %w", endpoint, err)
	}

	creds, err := newCredentialSource(cfg)
	if err != nil {
		return nil, err
	}

	return &Client{
		bucket:       cfg.Bucket,
		region:       cfg.Region,
		endpoint:     u,
		usePathStyle: cfg.UsePathStyle,
		httpClient: &http.Client{
			Transport: getSharedTransport(timeouts.connect()),
		},
		signer:   signer.NewSigner(cfg.Region),
		creds:    creds,
		transfer: transferCfg,
		retry:    retry,
		timeouts: timeouts,
	}, nil
}

// TransferConfig returns the zero-copy dataplane configuration this client
// was constructed with, so the orchestrator can build the same kind of
// Engine it uses for the inbound leg of a request.
func (c *Client) TransferConfig() transfer.Config {
	return c.transfer
}

// Bucket returns the upstream bucket name this client targets.
func (c *Client) Bucket() string {
	return c.bucket
}

// objectURL builds the request URL for a key, honoring virtual-hosted or
// path-style addressing per binding configuration.
func (c *Client) objectURL(key string, rawQuery string) *url.URL {
	u := *c.endpoint
	if c.usePathStyle {
		u.Path = "/" + c.bucket + "/" + encodeKeyPath(key)
	} else {
		u.Host = c.bucket + "." + u.Host
		u.Path = "/" + encodeKeyPath(key)
	}
	u.RawQuery = rawQuery
	return &u
}

func encodeKeyPath(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// classifyUpstreamError wraps a transport-level failure (DNS, connect,
// timeout) distinctly from an error the upstream communicated in its HTTP
// response body.
func classifyUpstreamError(ctx context.Context, err error) *s3proxyerr.Error {
	if ctx.Err() != nil {
		return s3proxyerr.New(s3proxyerr.Cancelled, "request cancelled")
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return s3proxyerr.Wrap(s3proxyerr.UpstreamTimeout, "upstream request timed out", err)
	}
	return s3proxyerr.Wrap(s3proxyerr.UpstreamStatus, "upstream request failed", err)
}
