package orchestrator

import (
	"encoding/xml"
	"io"
	"net/http"

	"github.com/s3proxy/s3proxy/internal/reqparse"
	"github.com/s3proxy/s3proxy/internal/s3client"
	"github.com/s3proxy/s3proxy/internal/s3proxyerr"
	"github.com/s3proxy/s3proxy/internal/xmlutil"
)

// There is no orchestrator-held state across multipart requests; each call
// is one transition on the backend's own upload state machine. The proxy
// only enforces request-boundary invariants (body shape, part ordering)
// before forwarding.

func (o *Orchestrator) handleCreateMultipart(w http.ResponseWriter, r *http.Request, op reqparse.Operation) {
	io.Copy(io.Discard, r.Body)

	result, proxyErr := o.client.CreateMultipartUpload(r.Context(), op.Key, forwardedHeaders(r))
	if proxyErr != nil {
		writeError(w, r, proxyErr)
		return
	}

	xmlutil.RenderInitiateMultipartUpload(w, &xmlutil.InitiateMultipartUploadResult{
		Bucket:   o.client.Bucket(),
		Key:      op.Key,
		UploadID: result.UploadID,
	})
}

func (o *Orchestrator) handleUploadPart(w http.ResponseWriter, r *http.Request, op reqparse.Operation) {
	if r.ContentLength < 0 {
		writeError(w, r, s3proxyerr.New(s3proxyerr.BadRequest, "Content-Length is required for UploadPart"))
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

	result, proxyErr := o.client.UploadPart(r.Context(), op.Key, op.UploadID, op.PartNumber, pr, r.ContentLength, nil)
	io.Copy(io.Discard, pr)
	if proxyErr != nil {
		writeError(w, r, proxyErr)
		return
	}

	w.Header().Set("ETag", result.ETag)
	w.WriteHeader(http.StatusOK)
}

// completeMultipartRequest is the client-submitted parts manifest. The
// proxy decodes it, validates strictly increasing part numbers, and
// re-serializes its own canonical request to the backend rather than
// relaying the client's body bytes verbatim.
type completeMultipartRequest struct {
	XMLName xml.Name                `xml:"CompleteMultipartUpload"`
	Parts   []completeMultipartPart `xml:"Part"`
}

type completeMultipartPart struct {
	PartNumber int    `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
}

func (o *Orchestrator) handleCompleteMultipart(w http.ResponseWriter, r *http.Request, op reqparse.Operation) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	io.Copy(io.Discard, r.Body)
	if err != nil {
		writeError(w, r, s3proxyerr.Wrap(s3proxyerr.SourceRead, "reading complete-multipart request body", err))
		return
	}

	var manifest completeMultipartRequest
	if err := xml.Unmarshal(body, &manifest); err != nil || len(manifest.Parts) == 0 {
		writeError(w, r, s3proxyerr.New(s3proxyerr.BadRequest, "complete-multipart request body is not a valid parts manifest"))
		return
	}

	parts := make([]s3client.CompletedPart, len(manifest.Parts))
	for i, p := range manifest.Parts {
		if i > 0 && p.PartNumber <= manifest.Parts[i-1].PartNumber {
			writeError(w, r, s3proxyerr.New(s3proxyerr.BadRequest, "part numbers must be strictly increasing"))
			return
		}
		parts[i] = s3client.CompletedPart{PartNumber: p.PartNumber, ETag: p.ETag}
	}

	result, proxyErr := o.client.CompleteMultipartUpload(r.Context(), op.Key, op.UploadID, parts)
	if proxyErr != nil {
		writeError(w, r, proxyErr)
		return
	}

	xmlutil.RenderCompleteMultipartUpload(w, &xmlutil.CompleteMultipartUploadResult{
		Bucket: o.client.Bucket(),
		Key:    op.Key,
		ETag:   result.ETag,
	})
}

func (o *Orchestrator) handleAbortMultipart(w http.ResponseWriter, r *http.Request, op reqparse.Operation) {
	io.Copy(io.Discard, r.Body)

	if proxyErr := o.client.AbortMultipartUpload(r.Context(), op.Key, op.UploadID); proxyErr != nil {
		writeError(w, r, proxyErr)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (o *Orchestrator) handleListParts(w http.ResponseWriter, r *http.Request, op reqparse.Operation) {
	io.Copy(io.Discard, r.Body)

	body, proxyErr := o.client.ListParts(r.Context(), op.Key, op.UploadID)
	if proxyErr != nil {
		writeError(w, r, proxyErr)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
