// Package orchestrator implements the upload state machines: one handler
// per S3 operation variant, each invoking internal/s3client (itself built
// atop internal/transfer and internal/signer) to relay the request to the
// backend and translate its response back to the client.
package orchestrator

import (
	"net/http"
	"strings"

	"github.com/s3proxy/s3proxy/internal/metrics"
	"github.com/s3proxy/s3proxy/internal/reqparse"
	"github.com/s3proxy/s3proxy/internal/s3client"
	"github.com/s3proxy/s3proxy/internal/transfer"
)

// Orchestrator dispatches a classified Operation to its handler.
type Orchestrator struct {
	client      *s3client.Client
	transferCfg transfer.Config
	bindingName string
}

// New builds an Orchestrator around a binding's upstream client.
func New(client *s3client.Client, bindingName string) *Orchestrator {
	return &Orchestrator{client: client, transferCfg: client.TransferConfig(), bindingName: bindingName}
}

// statusRecorder captures only the status code a handler wrote, for the
// per-operation outcome metric below.
type statusRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.wroteHeader {
		sr.statusCode = code
		sr.wroteHeader = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.wroteHeader {
		sr.statusCode = http.StatusOK
		sr.wroteHeader = true
	}
	return sr.ResponseWriter.Write(b)
}

// Handle runs op's state machine to completion, writing the HTTP response
// (success or the mapped error status) to w.
func (o *Orchestrator) Handle(w http.ResponseWriter, r *http.Request, op reqparse.Operation) {
	rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

	switch op.Kind {
	case reqparse.PutObject:
		o.handlePutObject(rec, r, op)
	case reqparse.CreateMultipart:
		o.handleCreateMultipart(rec, r, op)
	case reqparse.UploadPart:
		o.handleUploadPart(rec, r, op)
	case reqparse.CompleteMultipart:
		o.handleCompleteMultipart(rec, r, op)
	case reqparse.AbortMultipart:
		o.handleAbortMultipart(rec, r, op)
	case reqparse.ListParts:
		o.handleListParts(rec, r, op)
	}

	metrics.S3OperationsTotal.WithLabelValues(op.Kind.String(), o.bindingName, outcomeFor(rec.statusCode)).Inc()
}

func outcomeFor(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "success"
	case status == http.StatusForbidden:
		return "denied"
	case status >= 500:
		return "internal_error"
	default:
		return "upstream_error"
	}
}

// newEngine builds a fresh transfer.Engine for a single body-carrying
// transfer. Engines are scoped resources: one per transfer, closed at the
// end of the handler that acquired it, never reused.
func (o *Orchestrator) newEngine() transfer.Engine {
	return transfer.New(o.transferCfg)
}

// forwardedHeaders copies the handful of request headers the backend needs
// to see (content type, content encoding, user metadata) without leaking
// hop-by-hop or proxy-internal headers upstream.
func forwardedHeaders(r *http.Request) http.Header {
	out := make(http.Header)
	if ct := r.Header.Get("Content-Type"); ct != "" {
		out.Set("Content-Type", ct)
	}
	if ce := r.Header.Get("Content-Encoding"); ce != "" {
		out.Set("Content-Encoding", ce)
	}
	for name, values := range r.Header {
		if strings.HasPrefix(strings.ToLower(name), "x-amz-meta-") {
			for _, v := range values {
				out.Add(name, v)
			}
		}
	}
	return out
}
