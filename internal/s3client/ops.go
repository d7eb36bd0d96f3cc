package s3client

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/propagation"

	"github.com/s3proxy/s3proxy/internal/s3proxyerr"
	"github.com/s3proxy/s3proxy/internal/signer"
)

// tracePropagator re-emits whatever trace context ctx carries as outbound
// traceparent/tracestate headers. It is a no-op when ctx carries no valid
// trace context, so a request with no inbound trace header stays unchanged.
var tracePropagator = propagation.TraceContext{}

// PutObjectResult carries back the fields the orchestrator echoes to the
// client verbatim.
type PutObjectResult struct {
	ETag string
}

// PutObject streams body directly to the upstream PUT, never retried: once
// any byte of a streamed body has been sent there is nothing safe to replay.
func (c *Client) PutObject(ctx context.Context, key string, body io.Reader, size int64, headers http.Header) (PutObjectResult, *s3proxyerr.Error) {
	req, serr := c.newRequest(ctx, http.MethodPut, key, "", body, size, headers)
	if serr != nil {
		return PutObjectResult{}, serr
	}

	resp, err := c.doStreaming(ctx, req, false)
	if err != nil {
		return PutObjectResult{}, err
	}
	defer resp.Body.Close()

	if serr := checkStatus(resp, http.StatusOK); serr != nil {
		return PutObjectResult{}, serr
	}
	return PutObjectResult{ETag: resp.Header.Get("ETag")}, nil
}

// CreateMultipartUploadResult carries back the upstream-assigned upload ID.
type CreateMultipartUploadResult struct {
	UploadID string
}

type initiateMultipartUploadResult struct {
	XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	UploadID string   `xml:"UploadId"`
}

// CreateMultipartUpload retried at most once, and only on a pure network
// failure before any response was read -- a 5xx here might mean the
// upstream already allocated an upload ID we'd otherwise orphan.
func (c *Client) CreateMultipartUpload(ctx context.Context, key string, headers http.Header) (CreateMultipartUploadResult, *s3proxyerr.Error) {
	var result CreateMultipartUploadResult
	serr := c.retryNetworkOnly(ctx, func() error {
		req, rerr := c.newRequest(ctx, http.MethodPost, key, "uploads=", nil, 0, headers)
		if rerr != nil {
			return rerr
		}
		resp, err := c.doNonStreaming(ctx, req)
		if err != nil {
			if isNetworkFailure(err) {
				return errors.Join(err, errRetryable)
			}
			return err
		}
		defer resp.Body.Close()
		if serr := checkStatus(resp, http.StatusOK); serr != nil {
			return serr
		}
		var parsed initiateMultipartUploadResult
		if err := xml.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return s3proxyerr.Wrap(s3proxyerr.UpstreamStatus, "decoding CreateMultipartUpload response", err)
		}
		result = CreateMultipartUploadResult{UploadID: parsed.UploadID}
		return nil
	})
	if serr != nil {
		return CreateMultipartUploadResult{}, asProxyErr(serr)
	}
	return result, nil
}

// UploadPartResult carries back the part's ETag.
type UploadPartResult struct {
	ETag string
}

// trackingReader remembers whether any byte has ever been read from it.
// body is a one-shot stream (the orchestrator's io.Pipe reader, fed exactly
// once by a zero-copy transfer goroutine) -- once any byte has left it,
// there is nothing left to replay on a retry, only a truncated remainder.
type trackingReader struct {
	r        io.Reader
	consumed bool
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		t.consumed = true
	}
	return n, err
}

// errNonReplayable marks a failure that happened after the part body had
// already started streaming: never retryable, regardless of whether the
// underlying cause would otherwise qualify as a network failure.
var errNonReplayable = errors.New("upload part body already partially sent, cannot retry")

// UploadPart retries a pure network failure, but only while none of body
// has been read yet -- the moment a byte has been sent, body's remaining
// bytes are all that's left of a one-shot stream, so replaying it would
// silently upload a truncated part. Once streaming has begun, any failure
// is final.
func (c *Client) UploadPart(ctx context.Context, key, uploadID string, partNumber int, body io.Reader, size int64, headers http.Header) (UploadPartResult, *s3proxyerr.Error) {
	query := "partNumber=" + strconv.Itoa(partNumber) + "&uploadId=" + uploadID
	tracked := &trackingReader{r: body}

	var result UploadPartResult
	serr := withRetry(ctx, c.retry, true, func() error {
		if tracked.consumed {
			return errNonReplayable
		}
		req, rerr := c.newRequest(ctx, http.MethodPut, key, query, tracked, size, headers)
		if rerr != nil {
			return rerr
		}
		// retryable=false here: doStreaming must never retry on its own,
		// since only this closure knows whether tracked has been consumed.
		resp, err := c.doStreaming(ctx, req, false)
		if err != nil {
			if !tracked.consumed && isNetworkFailure(unwrapProxyErr(err)) {
				return errors.Join(err, errRetryable)
			}
			return err
		}
		defer resp.Body.Close()
		if serr := checkStatus(resp, http.StatusOK); serr != nil {
			return serr
		}
		result = UploadPartResult{ETag: resp.Header.Get("ETag")}
		return nil
	})
	if serr != nil {
		return UploadPartResult{}, asProxyErr(serr)
	}
	return result, nil
}

// CompletedPart is one entry of a CompleteMultipartUpload manifest.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

type completeMultipartUploadXML struct {
	XMLName xml.Name             `xml:"CompleteMultipartUpload"`
	Parts   []completedPartXML   `xml:"Part"`
}

type completedPartXML struct {
	PartNumber int    `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
}

// CompleteMultipartUploadResult carries back the final object's ETag.
type CompleteMultipartUploadResult struct {
	ETag string
}

type completeMultipartUploadResultXML struct {
	XMLName xml.Name `xml:"CompleteMultipartUploadResult"`
	ETag    string   `xml:"ETag"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

// CompleteMultipartUpload retried at most once on pure network failure,
// same reasoning as CreateMultipartUpload. Cancellation during this call is
// never honored early -- once issued, it is allowed to run to completion,
// since an interrupted Complete leaves upload state ambiguous on the
// backend with no local record to reconcile against.
func (c *Client) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) (CompleteMultipartUploadResult, *s3proxyerr.Error) {
	body := completeMultipartUploadXML{}
	for _, p := range parts {
		body.Parts = append(body.Parts, completedPartXML{PartNumber: p.PartNumber, ETag: p.ETag})
	}
	payload, err := xml.Marshal(body)
	if err != nil {
		return CompleteMultipartUploadResult{}, s3proxyerr.Wrap(s3proxyerr.BadRequest, "encoding CompleteMultipartUpload manifest", err)
	}

	// Deliberately not context-bound to ctx's cancellation once started.
	completeCtx := context.WithoutCancel(ctx)

	var result CompleteMultipartUploadResult
	serr := c.retryNetworkOnly(completeCtx, func() error {
		req, rerr := c.newRequest(completeCtx, http.MethodPost, key, "uploadId="+uploadID, bytes.NewReader(payload), int64(len(payload)), http.Header{"Content-Type": []string{"application/xml"}})
		if rerr != nil {
			return rerr
		}
		resp, err := c.doNonStreaming(completeCtx, req)
		if err != nil {
			if isNetworkFailure(err) {
				return errors.Join(err, errRetryable)
			}
			return err
		}
		defer resp.Body.Close()
		if serr := checkStatus(resp, http.StatusOK); serr != nil {
			return serr
		}
		var parsed completeMultipartUploadResultXML
		if err := xml.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return s3proxyerr.Wrap(s3proxyerr.UpstreamStatus, "decoding CompleteMultipartUpload response", err)
		}
		if parsed.XMLName.Local == "Error" || parsed.Code != "" {
			return s3proxyerr.Upstream(http.StatusInternalServerError, []byte(parsed.Message))
		}
		result = CompleteMultipartUploadResult{ETag: parsed.ETag}
		return nil
	})
	if serr != nil {
		return CompleteMultipartUploadResult{}, asProxyErr(serr)
	}
	return result, nil
}

// AbortMultipartUpload is idempotent and always retryable.
func (c *Client) AbortMultipartUpload(ctx context.Context, key, uploadID string) *s3proxyerr.Error {
	serr := c.retryIdempotent(ctx, func() error {
		req, rerr := c.newRequest(ctx, http.MethodDelete, key, "uploadId="+uploadID, nil, 0, nil)
		if rerr != nil {
			return rerr
		}
		resp, err := c.doNonStreaming(ctx, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return checkStatus(resp, http.StatusNoContent)
	})
	return asProxyErr(serr)
}

// ListParts relays the backend's XML listing verbatim -- the one
// intentionally read-like path this proxy allows, since a client needs it
// to resume or audit an in-flight upload. Idempotent and always retryable.
func (c *Client) ListParts(ctx context.Context, key, uploadID string) ([]byte, *s3proxyerr.Error) {
	var body []byte
	serr := c.retryIdempotent(ctx, func() error {
		req, rerr := c.newRequest(ctx, http.MethodGet, key, "uploadId="+uploadID, nil, 0, nil)
		if rerr != nil {
			return rerr
		}
		resp, err := c.doNonStreaming(ctx, req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if serr := checkStatus(resp, http.StatusOK); serr != nil {
			return serr
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return s3proxyerr.Wrap(s3proxyerr.UpstreamStatus, "reading ListParts response", err)
		}
		body = data
		return nil
	})
	if serr != nil {
		return nil, asProxyErr(serr)
	}
	return body, nil
}

func (c *Client) retryIdempotent(ctx context.Context, fn func() error) error {
	return withRetry(ctx, c.retry, true, func() error {
		err := fn()
		if err != nil && isNetworkFailure(unwrapProxyErr(err)) {
			return errors.Join(err, errRetryable)
		}
		return err
	})
}

func (c *Client) retryNetworkOnly(ctx context.Context, fn func() error) error {
	policy := c.retry
	if policy.attempts() > 2 {
		policy.MaxAttempts = 2
	}
	return withRetry(ctx, policy, true, fn)
}

func unwrapProxyErr(err error) error {
	var perr *s3proxyerr.Error
	if errors.As(err, &perr) && perr.Cause != nil {
		return perr.Cause
	}
	return err
}

func asProxyErr(err error) *s3proxyerr.Error {
	if err == nil {
		return nil
	}
	var perr *s3proxyerr.Error
	if errors.As(err, &perr) {
		return perr
	}
	return s3proxyerr.Wrap(s3proxyerr.UpstreamStatus, "upstream request failed", err)
}

func checkStatus(resp *http.Response, want int) *s3proxyerr.Error {
	if resp.StatusCode == want {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return s3proxyerr.Upstream(resp.StatusCode, body)
}

// newRequest builds a signed outbound request. Signing is performed last,
// after every header the operation needs has been set, per
// internal/signer.Signer's contract.
func (c *Client) newRequest(ctx context.Context, method, key, rawQuery string, body io.Reader, size int64, extra http.Header) (*http.Request, *s3proxyerr.Error) {
	u := c.objectURL(key, rawQuery)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, s3proxyerr.Wrap(s3proxyerr.BadRequest, "building upstream request", err)
	}
	for name, values := range extra {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if size > 0 {
		req.ContentLength = size
	}

	cred, cerr := c.creds.Credential(ctx)
	if cerr != nil {
		return nil, s3proxyerr.Wrap(s3proxyerr.InternalConfigError, "resolving upstream credentials", cerr)
	}

	payloadHash := signer.UnsignedPayload
	c.signer.Sign(req, cred, payloadHash, time.Now().UTC())

	// Injected after signing: trace headers are proxy-internal metadata, not
	// part of the upstream's signature verification surface.
	tracePropagator.Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

// doStreaming executes a request carrying a streamed body under a deadline
// scaled by the body's size. net/http copies the body from the supplied
// reader; in the orchestrator that reader is an io.Pipe fed by a
// transfer.Engine.
func (c *Client) doStreaming(ctx context.Context, req *http.Request, retryable bool) (*http.Response, *s3proxyerr.Error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, c.timeouts.deadlineFor(req.ContentLength))
	defer cancel()
	req = req.WithContext(deadlineCtx)

	var resp *http.Response
	err := c.retryWrap(deadlineCtx, retryable, func() error {
		r, err := c.httpClient.Do(req)
		if err != nil {
			if isNetworkFailure(err) {
				return errors.Join(err, errRetryable)
			}
			return classifyUpstreamError(deadlineCtx, err)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, asProxyErr(err)
	}
	return resp, nil
}

func (c *Client) doNonStreaming(ctx context.Context, req *http.Request) (*http.Response, error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, c.timeouts.header())
	defer cancel()
	req = req.WithContext(deadlineCtx)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyUpstreamError(deadlineCtx, err)
	}
	return resp, nil
}

func (c *Client) retryWrap(ctx context.Context, retryable bool, fn func() error) error {
	return withRetry(ctx, c.retry, retryable, fn)
}
