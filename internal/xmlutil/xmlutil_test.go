package xmlutil

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/s3proxy/s3proxy/internal/s3proxyerr"
)

func TestRenderErrorWritesTextPlainForProxyOwnErrors(t *testing.T) {
	w := httptest.NewRecorder()
	RenderError(w, "REQ123", "/p/key.txt", s3proxyerr.New(s3proxyerr.PathUnbound, "no binding matches this path"))

	require.Equal(t, 404, w.Code)
	require.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	body := w.Body.String()
	require.Contains(t, body, "PathUnbound")
	require.Contains(t, body, "no binding matches this path")
	require.Contains(t, body, "/p/key.txt")
	require.Contains(t, body, "REQ123")
	require.False(t, strings.Contains(body, "<Error>"))
}

func TestRenderErrorRelaysUpstreamXMLBodyVerbatim(t *testing.T) {
	upstreamBody := []byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchUpload</Code></Error>`)
	w := httptest.NewRecorder()
	RenderError(w, "REQ123", "/p/key.txt", s3proxyerr.Upstream(404, upstreamBody))

	require.Equal(t, 404, w.Code)
	require.Equal(t, "application/xml", w.Header().Get("Content-Type"))
	require.Equal(t, upstreamBody, w.Body.Bytes())
}

func TestRenderInitiateMultipartUploadStillWritesXML(t *testing.T) {
	w := httptest.NewRecorder()
	RenderInitiateMultipartUpload(w, &InitiateMultipartUploadResult{Bucket: "b", Key: "k", UploadID: "U1"})

	require.Equal(t, "application/xml", w.Header().Get("Content-Type"))
	require.Contains(t, w.Body.String(), "<UploadId>U1</UploadId>")
}
