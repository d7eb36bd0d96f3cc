// Package reqparse classifies an HTTP request, once its binding has been
// resolved, into the one of six S3 upload operations this proxy forwards,
// or a rejection. Classification looks only at method, query parameters,
// and the path tail (the request path with the binding's prefix removed)
// -- it never inspects the body.
package reqparse

import (
	"net/http"
	"strconv"
	"unicode"

	"github.com/s3proxy/s3proxy/internal/s3proxyerr"
)

// Kind identifies which S3 operation a request was classified as.
type Kind int

const (
	PutObject Kind = iota
	CreateMultipart
	UploadPart
	CompleteMultipart
	AbortMultipart
	ListParts
)

// String returns the operation name used in metrics labels and
// authorization action checks.
func (k Kind) String() string {
	switch k {
	case PutObject:
		return "PutObject"
	case CreateMultipart:
		return "CreateMultipart"
	case UploadPart:
		return "UploadPart"
	case CompleteMultipart:
		return "CompleteMultipart"
	case AbortMultipart:
		return "AbortMultipart"
	case ListParts:
		return "ListParts"
	default:
		return "Unknown"
	}
}

// Operation is the classified, validated request.
type Operation struct {
	Kind       Kind
	Key        string
	UploadID   string
	PartNumber int
}

const maxPartNumber = 10000

// Parse classifies r against the path tail (the segment of r.URL.Path
// remaining after the binding prefix has been stripped). Returns a
// *s3proxyerr.Error (BadRequest or MethodNotAllowed) when the request
// does not match any recognized operation shape.
func Parse(r *http.Request, tail string) (Operation, *s3proxyerr.Error) {
	key := trimLeadingSlash(tail)
	if key == "" {
		return Operation{}, s3proxyerr.New(s3proxyerr.BadRequest, "request path has no object key")
	}
	if containsControlChar(key) {
		return Operation{}, s3proxyerr.New(s3proxyerr.BadRequest, "object key contains a control character")
	}

	q := r.URL.Query()
	_, hasUploads := q["uploads"]
	_, hasUploadID := q["uploadId"]
	_, hasPartNumber := q["partNumber"]

	switch {
	case r.Method == http.MethodPut && hasPartNumber && hasUploadID:
		return parseUploadPart(key, q)

	case r.Method == http.MethodPut && !hasUploads && !hasUploadID && !hasPartNumber:
		return Operation{Kind: PutObject, Key: key}, nil

	case r.Method == http.MethodPost && hasUploads:
		return Operation{Kind: CreateMultipart, Key: key}, nil

	case r.Method == http.MethodPost && hasUploadID:
		uploadID, err := validUploadID(q.Get("uploadId"))
		if err != nil {
			return Operation{}, err
		}
		return Operation{Kind: CompleteMultipart, Key: key, UploadID: uploadID}, nil

	case r.Method == http.MethodDelete && hasUploadID:
		uploadID, err := validUploadID(q.Get("uploadId"))
		if err != nil {
			return Operation{}, err
		}
		return Operation{Kind: AbortMultipart, Key: key, UploadID: uploadID}, nil

	case r.Method == http.MethodGet && hasUploadID:
		uploadID, err := validUploadID(q.Get("uploadId"))
		if err != nil {
			return Operation{}, err
		}
		return Operation{Kind: ListParts, Key: key, UploadID: uploadID}, nil

	default:
		return Operation{}, s3proxyerr.New(s3proxyerr.MethodNotAllowed, "method/query combination is not a supported operation")
	}
}

func parseUploadPart(key string, q map[string][]string) (Operation, *s3proxyerr.Error) {
	uploadID, err := validUploadID(first(q, "uploadId"))
	if err != nil {
		return Operation{}, err
	}
	partNumber, err := validPartNumber(first(q, "partNumber"))
	if err != nil {
		return Operation{}, err
	}
	return Operation{Kind: UploadPart, Key: key, UploadID: uploadID, PartNumber: partNumber}, nil
}

func first(q map[string][]string, name string) string {
	values := q[name]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func validUploadID(raw string) (string, *s3proxyerr.Error) {
	if raw == "" || containsControlChar(raw) {
		return "", s3proxyerr.New(s3proxyerr.BadRequest, "uploadId must be a non-empty printable string")
	}
	return raw, nil
}

func validPartNumber(raw string) (int, *s3proxyerr.Error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxPartNumber {
		return 0, s3proxyerr.New(s3proxyerr.BadRequest, "partNumber must be an integer between 1 and 10000")
	}
	return n, nil
}

func containsControlChar(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

func trimLeadingSlash(s string) string {
	for len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	return s
}
