// Package xmlutil renders the small set of S3-compatible XML documents this
// proxy produces itself: error bodies and the two multipart responses it
// re-serializes after decoding the backend's own answer. Every other S3 XML
// shape (ListParts included) is relayed to the client verbatim, so this
// package never needs to model it.
package xmlutil

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/s3proxy/s3proxy/internal/s3proxyerr"
)

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// InitiateMultipartUploadResult is the XML response for CreateMultipartUpload.
type InitiateMultipartUploadResult struct {
	XMLName  xml.Name `xml:"http://s3.amazonaws.com/doc/2006-03-01/ InitiateMultipartUploadResult"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	UploadID string   `xml:"UploadId"`
}

// CompleteMultipartUploadResult is the XML response for CompleteMultipartUpload.
type CompleteMultipartUploadResult struct {
	XMLName  xml.Name `xml:"http://s3.amazonaws.com/doc/2006-03-01/ CompleteMultipartUploadResult"`
	Location string   `xml:"Location"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	ETag     string   `xml:"ETag"`
}

// RenderError writes a proxy-dataplane error response. Most kinds carry no
// upstream body: those are rendered as a short `text/plain` human string
// naming the error kind, the resource path, and the request ID for
// correlation against logs. UpstreamStatus is the exception -- its Body,
// when present, is the backend's own XML error document and is relayed
// verbatim with Content-Type application/xml, so S3-SDK clients still see a
// familiar error code.
func RenderError(w http.ResponseWriter, requestID, resource string, proxyErr *s3proxyerr.Error) {
	if len(proxyErr.Body) > 0 {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(proxyErr.Status())
		w.Write(proxyErr.Body)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(proxyErr.Status())
	fmt.Fprintf(w, "%s: %s (resource=%s, request-id=%s)\n", proxyErr.Kind, proxyErr.Message, resource, requestID)
}

// WriteErrorResponse renders a proxy-dataplane error using the request path
// as the resource.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, proxyErr *s3proxyerr.Error) {
	RenderError(w, w.Header().Get("x-amz-request-id"), r.URL.Path, proxyErr)
}

// RenderInitiateMultipartUpload writes an InitiateMultipartUploadResult XML response.
func RenderInitiateMultipartUpload(w http.ResponseWriter, result *InitiateMultipartUploadResult) {
	writeXML(w, http.StatusOK, result)
}

// RenderCompleteMultipartUpload writes a CompleteMultipartUploadResult XML response.
func RenderCompleteMultipartUpload(w http.ResponseWriter, result *CompleteMultipartUploadResult) {
	writeXML(w, http.StatusOK, result)
}

// FormatTimeHTTP formats a time.Time as an HTTP date per RFC 7231
// (e.g., "Mon, 02 Jan 2006 15:04:05 GMT").
func FormatTimeHTTP(t time.Time) string {
	return t.UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")
}

func writeXML(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)

	io.WriteString(w, xmlHeader)
	enc := xml.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(w, "<!-- XML encoding error: %v -->", err)
	}
}
