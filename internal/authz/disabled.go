package authz

import (
	"context"
	"net/http"

	"github.com/s3proxy/s3proxy/internal/s3proxyerr"
)

// disabledAuthorizer allows every request. Used by bindings that delegate
// all access control to authentication alone, or that run behind a
// network boundary that already restricts access.
type disabledAuthorizer struct{}

func (disabledAuthorizer) Authorize(ctx context.Context, subject, action string, resource Resource, r *http.Request) *s3proxyerr.Error {
	return nil
}
