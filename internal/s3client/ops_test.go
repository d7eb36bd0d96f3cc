package s3client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/s3proxy/s3proxy/internal/config"
)

func TestTrackingReaderMarksConsumedOnFirstRead(t *testing.T) {
	tr := &trackingReader{r: strings.NewReader("hello")}
	require.False(t, tr.consumed)

	buf := make([]byte, 2)
	n, err := tr.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.True(t, tr.consumed)
}

func TestUploadPartSucceeds(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, "hello world", string(body))
		w.Header().Set("ETag", `"part-etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	c := newTestClient(t, config.S3Config{
		Bucket: "test-bucket", Region: "us-east-1", Endpoint: upstream.URL,
		AccessKey: "AKIA", SecretKey: "secret", UsePathStyle: true,
	})

	result, serr := c.UploadPart(context.Background(), "key.txt", "U1", 1, strings.NewReader("hello world"), 11, nil)
	require.Nil(t, serr)
	require.Equal(t, `"part-etag"`, result.ETag)
}

// fakeNetError satisfies net.Error so isNetworkFailure classifies it as a
// retryable transport failure, the same shape a dropped TCP connection
// would produce.
type fakeNetError struct{ msg string }

func (e fakeNetError) Error() string   { return e.msg }
func (e fakeNetError) Timeout() bool   { return true }
func (e fakeNetError) Temporary() bool { return true }

// partialReadTransport simulates a connection that fails after having
// already read readBytes of the request body -- the same shape a
// connection reset mid-upload produces.
type partialReadTransport struct {
	readBytes int
	calls     int
}

func (t *partialReadTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.calls++
	if req.Body != nil && t.readBytes > 0 {
		io.CopyN(io.Discard, req.Body, int64(t.readBytes))
	}
	return nil, fakeNetError{msg: "connection reset by peer"}
}

func TestUploadPartRetriesWhenNoByteHasBeenSent(t *testing.T) {
	transport := &partialReadTransport{readBytes: 0}
	c := newTestClient(t, config.S3Config{
		Bucket: "test-bucket", Region: "us-east-1", Endpoint: "http://127.0.0.1:9000",
		AccessKey: "AKIA", SecretKey: "secret", UsePathStyle: true,
	})
	c.httpClient = &http.Client{Transport: transport}
	c.retry = RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	_, serr := c.UploadPart(context.Background(), "key.txt", "U1", 1, strings.NewReader("hello world"), 11, nil)
	require.NotNil(t, serr)
	require.Equal(t, 3, transport.calls)
}

func TestUploadPartDoesNotRetryAfterBodyPartiallySent(t *testing.T) {
	transport := &partialReadTransport{readBytes: 4}
	c := newTestClient(t, config.S3Config{
		Bucket: "test-bucket", Region: "us-east-1", Endpoint: "http://127.0.0.1:9000",
		AccessKey: "AKIA", SecretKey: "secret", UsePathStyle: true,
	})
	c.httpClient = &http.Client{Transport: transport}
	c.retry = RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	_, serr := c.UploadPart(context.Background(), "key.txt", "U1", 1, strings.NewReader("hello world"), 11, nil)
	require.NotNil(t, serr)
	require.Equal(t, 1, transport.calls)
}
