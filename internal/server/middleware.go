package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/propagation"

	"github.com/s3proxy/s3proxy/internal/metrics"
	"github.com/s3proxy/s3proxy/internal/s3proxyerr"
	"github.com/s3proxy/s3proxy/internal/uid"
	"github.com/s3proxy/s3proxy/internal/xmlutil"
)

// traceContext extracts a W3C trace context from an inbound traceparent/
// tracestate header pair, if present, and carries it on the Request
// Context's context.Context for the rest of the pipeline. The core never
// interprets it -- it is only read back out when building the outbound
// request, so it can be re-emitted opaquely.
func traceContext(next http.Handler) http.Handler {
	propagator := propagation.TraceContext{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// generateRequestID produces a 16-character uppercase hexadecimal request ID,
// the first half of a uid.New() identifier.
func generateRequestID() string {
	return strings.ToUpper(uid.New()[:16])
}

// commonHeaders is HTTP middleware that injects common S3-shaped response
// headers on every response: x-amz-request-id, x-amz-id-2, Date, and Server.
func commonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := generateRequestID()
		w.Header().Set("x-amz-request-id", requestID)
		w.Header().Set("x-amz-id-2", requestID)
		w.Header().Set("Date", xmlutil.FormatTimeHTTP(time.Now()))
		w.Header().Set("Server", "s3proxy")
		next.ServeHTTP(w, r)
	})
}

// bindingNameKey holds the mutable pointer dispatch writes the resolved
// binding name into, so metricsMiddleware (which wraps dispatch and runs
// before binding resolution happens) can label its observations by binding
// once the inner handler returns.
type bindingNameKey struct{}

type bindingNameHolder struct{ name string }

func setResolvedBindingName(r *http.Request, name string) {
	if holder, ok := r.Context().Value(bindingNameKey{}).(*bindingNameHolder); ok {
		holder.name = name
	}
}

// responseRecorder wraps http.ResponseWriter to capture the HTTP status code
// and the number of bytes written, for the metrics middleware.
type responseRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
	wroteHeader  bool
}

func (rr *responseRecorder) WriteHeader(code int) {
	if !rr.wroteHeader {
		rr.statusCode = code
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if !rr.wroteHeader {
		rr.statusCode = http.StatusOK
		rr.wroteHeader = true
	}
	n, err := rr.ResponseWriter.Write(b)
	rr.bytesWritten += n
	return n, err
}

func (rr *responseRecorder) Flush() {
	if f, ok := rr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// metricsMiddleware records Prometheus metrics for each request: request
// count, duration, request size, and response size, labeled by the binding
// dispatch resolves. /metrics itself is excluded to avoid self-instrumentation.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		holder := &bindingNameHolder{name: "none"}
		r = r.WithContext(context.WithValue(r.Context(), bindingNameKey{}, holder))

		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start).Seconds()
		method := r.Method
		binding := holder.name
		status := fmt.Sprintf("%d", rec.statusCode)

		metrics.HTTPRequestsTotal.WithLabelValues(method, binding, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, binding).Observe(duration)

		if r.ContentLength > 0 {
			metrics.HTTPRequestSize.WithLabelValues(method, binding).Observe(float64(r.ContentLength))
			metrics.BytesReceivedTotal.Add(float64(r.ContentLength))
		}
		if rec.bytesWritten > 0 {
			metrics.HTTPResponseSize.WithLabelValues(method, binding).Observe(float64(rec.bytesWritten))
			metrics.BytesSentTotal.Add(float64(rec.bytesWritten))
		}
	})
}

// transferEncodingCheck rejects requests with a non-chunked Transfer-Encoding
// before any binding, auth, or handler processing runs.
func transferEncodingCheck(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		te := r.Header.Get("Transfer-Encoding")
		if te != "" && strings.ToLower(strings.TrimSpace(te)) != "chunked" {
			xmlutil.WriteErrorResponse(w, r, s3proxyerr.New(s3proxyerr.BadRequest, "unsupported Transfer-Encoding"))
			return
		}
		for _, enc := range r.TransferEncoding {
			if strings.ToLower(enc) != "chunked" {
				xmlutil.WriteErrorResponse(w, r, s3proxyerr.New(s3proxyerr.BadRequest, "unsupported Transfer-Encoding"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
