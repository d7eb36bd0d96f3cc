package orchestrator

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/s3proxy/s3proxy/internal/config"
	"github.com/s3proxy/s3proxy/internal/reqparse"
	"github.com/s3proxy/s3proxy/internal/s3client"
	"github.com/s3proxy/s3proxy/internal/transfer"
)

func newTestOrchestrator(t *testing.T, backend http.HandlerFunc) *Orchestrator {
	t.Helper()
	upstream := httptest.NewServer(backend)
	t.Cleanup(upstream.Close)

	client, err := s3client.New(config.S3Config{
		Bucket:       "test-bucket",
		Region:       "us-east-1",
		Endpoint:     upstream.URL,
		AccessKey:    "AKIA",
		SecretKey:    "secret",
		UsePathStyle: true,
	}, transfer.Config{}, s3client.RetryPolicy{}, s3client.Timeouts{})
	require.NoError(t, err)

	return New(client, "test-binding")
}

func TestHandlePutObjectEchoesETag(t *testing.T) {
	o := newTestOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		w.Header().Set("ETag", `"abc123"`)
		w.WriteHeader(http.StatusOK)
	})

	body := strings.NewReader("hello world")
	r := httptest.NewRequest(http.MethodPut, "http://proxy.test/p/key.txt", body)
	r.ContentLength = int64(body.Len())
	w := httptest.NewRecorder()

	o.Handle(w, r, reqparse.Operation{Kind: reqparse.PutObject, Key: "key.txt"})

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, `"abc123"`, w.Header().Get("ETag"))
}

func TestHandlePutObjectRejectsMissingContentLength(t *testing.T) {
	o := newTestOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("backend should not be called when Content-Length is missing")
	})

	r := httptest.NewRequest(http.MethodPut, "http://proxy.test/p/key.txt", strings.NewReader("x"))
	r.ContentLength = -1
	w := httptest.NewRecorder()

	o.Handle(w, r, reqparse.Operation{Kind: reqparse.PutObject, Key: "key.txt"})

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleUploadPartEchoesETag(t *testing.T) {
	o := newTestOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "1", r.URL.Query().Get("partNumber"))
		require.Equal(t, "U1", r.URL.Query().Get("uploadId"))
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, "part-body", string(body))
		w.Header().Set("ETag", `"part-etag"`)
		w.WriteHeader(http.StatusOK)
	})

	body := strings.NewReader("part-body")
	r := httptest.NewRequest(http.MethodPut, "http://proxy.test/p/big.bin?partNumber=1&uploadId=U1", body)
	r.ContentLength = int64(body.Len())
	w := httptest.NewRecorder()

	o.Handle(w, r, reqparse.Operation{Kind: reqparse.UploadPart, Key: "big.bin", UploadID: "U1", PartNumber: 1})

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, `"part-etag"`, w.Header().Get("ETag"))
}

func TestHandleCreateMultipartEchoesUploadID(t *testing.T) {
	o := newTestOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<InitiateMultipartUploadResult><Bucket>test-bucket</Bucket><Key>big.bin</Key><UploadId>U1</UploadId></InitiateMultipartUploadResult>`))
	})

	r := httptest.NewRequest(http.MethodPost, "http://proxy.test/p/big.bin?uploads", nil)
	w := httptest.NewRecorder()

	o.Handle(w, r, reqparse.Operation{Kind: reqparse.CreateMultipart, Key: "big.bin"})

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "<UploadId>U1</UploadId>")
}

func TestHandleCompleteMultipartRejectsOutOfOrderParts(t *testing.T) {
	o := newTestOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("backend should not be called for an invalid parts manifest")
	})

	manifest := `<CompleteMultipartUpload><Part><PartNumber>2</PartNumber><ETag>"e2"</ETag></Part><Part><PartNumber>1</PartNumber><ETag>"e1"</ETag></Part></CompleteMultipartUpload>`
	r := httptest.NewRequest(http.MethodPost, "http://proxy.test/p/big.bin?uploadId=U1", strings.NewReader(manifest))
	w := httptest.NewRecorder()

	o.Handle(w, r, reqparse.Operation{Kind: reqparse.CompleteMultipart, Key: "big.bin", UploadID: "U1"})

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleAbortMultipartReturnsNoContent(t *testing.T) {
	o := newTestOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})

	r := httptest.NewRequest(http.MethodDelete, "http://proxy.test/p/big.bin?uploadId=U1", nil)
	w := httptest.NewRecorder()

	o.Handle(w, r, reqparse.Operation{Kind: reqparse.AbortMultipart, Key: "big.bin", UploadID: "U1"})

	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestHandleListPartsRelaysBodyVerbatim(t *testing.T) {
	const raw = `<ListPartsResult><Bucket>test-bucket</Bucket><Part><PartNumber>1</PartNumber></Part></ListPartsResult>`
	o := newTestOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		w.Write([]byte(raw))
	})

	r := httptest.NewRequest(http.MethodGet, "http://proxy.test/p/big.bin?uploadId=U1", nil)
	w := httptest.NewRecorder()

	o.Handle(w, r, reqparse.Operation{Kind: reqparse.ListParts, Key: "big.bin", UploadID: "U1"})

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, raw, w.Body.String())
}
