package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/s3proxy/s3proxy/internal/config"
)

func newTestServer(t *testing.T, upstreamURL string) *Server {
	t.Helper()
	cfg := &config.Config{
		Bindings: []config.BindingConfig{
			{
				Name:       "docs",
				PathPrefix: "/p",
				S3: config.S3Config{
					Bucket:       "test-bucket",
					Region:       "us-east-1",
					Endpoint:     upstreamURL,
					AccessKey:    "AKIA",
					SecretKey:    "secret",
					UsePathStyle: true,
				},
			},
		},
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func TestHealthEndpointBypassesBindingResolution(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:0")

	var handler http.Handler = s.router
	handler = transferEncodingCheck(handler)
	handler = commonHeaders(handler)
	handler = metricsMiddleware(handler)

	r := httptest.NewRequest(http.MethodGet, "http://proxy.test/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", w.Body.String())
}

func TestUnboundPathReturns404(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:0")

	r := httptest.NewRequest(http.MethodPut, "http://proxy.test/unrelated/key.txt", nil)
	w := httptest.NewRecorder()
	s.dispatch(w, r)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPutObjectThroughFullPipeline(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"deadbeef"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream.URL)

	body := strings.NewReader("payload")
	r := httptest.NewRequest(http.MethodPut, "http://proxy.test/p/key.txt", body)
	r.ContentLength = int64(body.Len())
	w := httptest.NewRecorder()
	s.dispatch(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, `"deadbeef"`, w.Header().Get("ETag"))
}

func TestTraceContextPropagatedToUpstream(t *testing.T) {
	var gotTraceparent string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTraceparent = r.Header.Get("traceparent")
		w.Header().Set("ETag", `"deadbeef"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream.URL)

	var handler http.Handler = s.router
	handler = transferEncodingCheck(handler)
	handler = traceContext(handler)
	handler = commonHeaders(handler)

	const inbound = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	body := strings.NewReader("payload")
	r := httptest.NewRequest(http.MethodPut, "http://proxy.test/p/key.txt", body)
	r.ContentLength = int64(body.Len())
	r.Header.Set("traceparent", inbound)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, inbound, gotTraceparent)
}

func TestNoInboundTraceContextMeansNoOutboundTraceHeader(t *testing.T) {
	var sawTraceparent bool
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawTraceparent = r.Header.Get("traceparent") != ""
		w.Header().Set("ETag", `"deadbeef"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream.URL)

	var handler http.Handler = s.router
	handler = transferEncodingCheck(handler)
	handler = traceContext(handler)

	body := strings.NewReader("payload")
	r := httptest.NewRequest(http.MethodPut, "http://proxy.test/p/key.txt", body)
	r.ContentLength = int64(body.Len())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, sawTraceparent)
}

func TestCommonHeadersSetOnEveryResponse(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:0")

	var handler http.Handler = s.router
	handler = commonHeaders(handler)

	r := httptest.NewRequest(http.MethodGet, "http://proxy.test/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.NotEmpty(t, w.Header().Get("x-amz-request-id"))
	require.NotEmpty(t, w.Header().Get("Date"))
	require.Equal(t, "s3proxy", w.Header().Get("Server"))
}
