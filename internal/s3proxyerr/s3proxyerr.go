// Package s3proxyerr defines the proxy-dataplane error taxonomy shared by
// every component on the request path, and maps each kind to its HTTP
// surface.
package s3proxyerr

import "fmt"

// Kind identifies a proxy-dataplane error class. Kinds are distinct from S3
// object-store error codes: this proxy never reasons about bucket or key
// existence, only about path resolution, credential validation, policy
// decisions, and upstream relay outcomes.
type Kind string

const (
	PathUnbound            Kind = "PathUnbound"
	BadRequest             Kind = "BadRequest"
	MethodNotAllowed       Kind = "MethodNotAllowed"
	AuthMissing            Kind = "AuthMissing"
	AuthExpired            Kind = "AuthExpired"
	AuthInvalidSignature   Kind = "AuthInvalidSignature"
	AuthInvalidFormat      Kind = "AuthInvalidFormat"
	AuthClockSkew          Kind = "AuthClockSkew"
	AuthServiceUnavailable Kind = "AuthServiceUnavailable"
	AuthzDenied            Kind = "AuthzDenied"
	AuthzUnavailable       Kind = "AuthzUnavailable"
	SourceRead             Kind = "SourceRead"
	SinkWrite              Kind = "SinkWrite"
	UpstreamStatus         Kind = "UpstreamStatus"
	UpstreamTimeout        Kind = "UpstreamTimeout"
	Cancelled              Kind = "Cancelled"
	InternalConfigError    Kind = "InternalConfigError"
)

// httpStatus is the fixed HTTP mapping for each kind, per the error taxonomy.
// UpstreamStatus is special-cased: its HTTP status is carried on the Error
// value itself (the backend's own status), not looked up here.
var httpStatus = map[Kind]int{
	PathUnbound:            404,
	BadRequest:              400,
	MethodNotAllowed:        405,
	AuthMissing:             401,
	AuthExpired:             401,
	AuthInvalidSignature:    401,
	AuthInvalidFormat:       401,
	AuthClockSkew:           401,
	AuthServiceUnavailable:  503,
	AuthzDenied:             403,
	AuthzUnavailable:        500,
	SourceRead:              500,
	SinkWrite:               500,
	UpstreamTimeout:         504,
	InternalConfigError:     500,
}

// Error is the typed failure returned by every component on the request
// path. The orchestrator converts it to the HTTP surface at the outer
// boundary; it never bubbles up as a bare Go error.
type Error struct {
	Kind Kind
	// Message is a short human string; it never contains secrets, JWT
	// contents, or full object keys.
	Message string
	// HTTPStatus overrides the kind's default mapping. Used by
	// UpstreamStatus to carry the backend's own status code.
	HTTPStatus int
	// Body, when non-empty, is relayed to the client verbatim (the
	// backend's XML error body for UpstreamStatus).
	Body []byte
	// Cause is the underlying error, if any, kept for logging only.
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Status returns the HTTP status code this error surfaces as.
func (e *Error) Status() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return 500
}

// New builds an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind, attaching cause for logging.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Upstream builds an UpstreamStatus error relaying the backend's status and
// body verbatim.
func Upstream(status int, body []byte) *Error {
	return &Error{Kind: UpstreamStatus, Message: "upstream returned an error", HTTPStatus: status, Body: body}
}

// As reports whether err is (or wraps) an *Error, populating target.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
