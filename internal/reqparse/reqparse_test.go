package reqparse

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/s3proxy/s3proxy/internal/s3proxyerr"
)

func TestParsePutObject(t *testing.T) {
	r := httptest.NewRequest(http.MethodPut, "http://example.test/p/key.txt", nil)
	op, err := Parse(r, "/key.txt")
	require.Nil(t, err)
	require.Equal(t, PutObject, op.Kind)
	require.Equal(t, "key.txt", op.Key)
}

func TestParseCreateMultipart(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://example.test/p/key.txt?uploads", nil)
	op, err := Parse(r, "/key.txt")
	require.Nil(t, err)
	require.Equal(t, CreateMultipart, op.Kind)
}

func TestParseUploadPart(t *testing.T) {
	r := httptest.NewRequest(http.MethodPut, "http://example.test/p/key.txt?partNumber=3&uploadId=U1", nil)
	op, err := Parse(r, "/key.txt")
	require.Nil(t, err)
	require.Equal(t, UploadPart, op.Kind)
	require.Equal(t, "U1", op.UploadID)
	require.Equal(t, 3, op.PartNumber)
}

func TestParseUploadPartRejectsOutOfRangePartNumber(t *testing.T) {
	r := httptest.NewRequest(http.MethodPut, "http://example.test/p/key.txt?partNumber=10001&uploadId=U1", nil)
	_, err := Parse(r, "/key.txt")
	require.NotNil(t, err)
	require.Equal(t, s3proxyerr.BadRequest, err.Kind)
}

func TestParseCompleteMultipart(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://example.test/p/key.txt?uploadId=U1", nil)
	op, err := Parse(r, "/key.txt")
	require.Nil(t, err)
	require.Equal(t, CompleteMultipart, op.Kind)
	require.Equal(t, "U1", op.UploadID)
}

func TestParseAbortMultipart(t *testing.T) {
	r := httptest.NewRequest(http.MethodDelete, "http://example.test/p/key.txt?uploadId=U1", nil)
	op, err := Parse(r, "/key.txt")
	require.Nil(t, err)
	require.Equal(t, AbortMultipart, op.Kind)
}

func TestParseListParts(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.test/p/key.txt?uploadId=U1", nil)
	op, err := Parse(r, "/key.txt")
	require.Nil(t, err)
	require.Equal(t, ListParts, op.Kind)
}

func TestParseEmptyKeyIsBadRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodPut, "http://example.test/p/", nil)
	_, err := Parse(r, "/")
	require.NotNil(t, err)
	require.Equal(t, s3proxyerr.BadRequest, err.Kind)
}

func TestParseUnsupportedMethodIsMethodNotAllowed(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.test/p/key.txt", nil)
	_, err := Parse(r, "/key.txt")
	require.NotNil(t, err)
	require.Equal(t, s3proxyerr.MethodNotAllowed, err.Kind)
}
