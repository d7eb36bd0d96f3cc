package orchestrator

import (
	"io"
	"net/http"

	"github.com/s3proxy/s3proxy/internal/reqparse"
	"github.com/s3proxy/s3proxy/internal/s3proxyerr"
	"github.com/s3proxy/s3proxy/internal/xmlutil"
)

// handlePutObject runs the Received -> Streaming -> Complete/Failed state
// machine: the client's body is piped directly into a signed, streaming
// request to the backend, and the backend's ETag is echoed back verbatim.
func (o *Orchestrator) handlePutObject(w http.ResponseWriter, r *http.Request, op reqparse.Operation) {
	if r.ContentLength < 0 {
		writeError(w, r, s3proxyerr.New(s3proxyerr.BadRequest, "Content-Length is required for PutObject"))
		io.Copy(io.Discard, r.Body)
		return
	}

	pr, pw := io.Pipe()
	engine := o.newEngine()
	defer engine.Close()

	go func() {
		_, err := engine.Transfer(r.Context(), r.Body, pw, r.ContentLength)
		pw.CloseWithError(err)
	}()

	result, proxyErr := o.client.PutObject(r.Context(), op.Key, pr, r.ContentLength, forwardedHeaders(r))
	// Drain any unread bytes so the feeder goroutine above is never left
	// blocked on a pipe write nobody is reading, which would otherwise also
	// leave the client's connection body unconsumed.
	io.Copy(io.Discard, pr)
	if proxyErr != nil {
		writeError(w, r, proxyErr)
		return
	}

	w.Header().Set("ETag", result.ETag)
	w.WriteHeader(http.StatusOK)
}

func writeError(w http.ResponseWriter, r *http.Request, proxyErr *s3proxyerr.Error) {
	xmlutil.WriteErrorResponse(w, r, proxyErr)
}
