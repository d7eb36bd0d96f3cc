// Package server implements the HTTP front: a chi router running the
// resolve -> classify -> authenticate -> authorize -> dispatch pipeline for
// every request, plus the health and metrics surfaces.
package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/s3proxy/s3proxy/internal/auth"
	"github.com/s3proxy/s3proxy/internal/authz"
	"github.com/s3proxy/s3proxy/internal/config"
	"github.com/s3proxy/s3proxy/internal/orchestrator"
	"github.com/s3proxy/s3proxy/internal/reqparse"
	"github.com/s3proxy/s3proxy/internal/resolver"
	"github.com/s3proxy/s3proxy/internal/s3client"
	"github.com/s3proxy/s3proxy/internal/s3proxyerr"
	"github.com/s3proxy/s3proxy/internal/transfer"
	"github.com/s3proxy/s3proxy/internal/xmlutil"
)

// binding bundles one configured bucket binding's runtime collaborators.
type binding struct {
	name         string
	pathPrefix   string
	client       *s3client.Client
	authn        auth.Authenticator
	authz        authz.Authorizer
	orchestrator *orchestrator.Orchestrator
}

// Server is the proxy's HTTP front.
type Server struct {
	router          chi.Router
	resolver        *resolver.Resolver
	shutdownTimeout time.Duration
	httpServer      *http.Server
}

// New builds a Server from the loaded configuration, constructing one
// s3client/auth/authz/orchestrator set per bucket binding.
func New(cfg *config.Config) (*Server, error) {
	bindings := make([]resolver.Binding, 0, len(cfg.Bindings))
	for _, bc := range cfg.Bindings {
		b, err := newBinding(bc, cfg.Server.ZeroCopy)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, resolver.Binding{Name: b.name, PathPrefix: b.pathPrefix, Value: b})
	}

	res, err := resolver.New(bindings)
	if err != nil {
		return nil, err
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	s := &Server{
		router:          chi.NewMux(),
		resolver:        res,
		shutdownTimeout: shutdownTimeout,
	}
	s.registerRoutes()
	return s, nil
}

func newBinding(bc config.BindingConfig, zc config.ZeroCopy) (*binding, error) {
	transferCfg := transfer.Config{
		ZeroCopyEnabled: zc.Enabled,
		PipeBufferSize:  zc.PipeBufferSize,
	}
	client, err := s3client.New(bc.S3, transferCfg, s3client.RetryPolicy{}, s3client.Timeouts{})
	if err != nil {
		return nil, err
	}
	authn, err := auth.New(bc.Auth)
	if err != nil {
		return nil, err
	}
	authorizer, err := authz.New(bc.Authz, bc.Name)
	if err != nil {
		return nil, err
	}
	return &binding{
		name:         bc.Name,
		pathPrefix:   bc.PathPrefix,
		client:       client,
		authn:        authn,
		authz:        authorizer,
		orchestrator: orchestrator.New(client, bc.Name),
	}, nil
}

// registerRoutes wires /health ahead of the catch-all pipeline; chi matches
// the more specific route first. The Prometheus exposition endpoint is
// served on its own listener (see MetricsHandler), not on this router, so a
// slow upload can never starve metrics scraping or vice versa.
func (s *Server) registerRoutes() {
	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	s.router.HandleFunc("/*", s.dispatch)
}

// MetricsHandler returns the Prometheus exposition handler, for the caller
// to serve on the configured metrics listener.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// dispatch runs the per-request pipeline: resolve binding, classify
// operation, authenticate, authorize, hand off to the orchestrator.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	b, ok := s.resolver.Resolve(r.URL.Path)
	if !ok {
		finishWithError(w, r, s3proxyerr.New(s3proxyerr.PathUnbound, "no binding matches this path"))
		return
	}
	bnd := b.Value.(*binding)
	setResolvedBindingName(r, bnd.name)
	tail := strings.TrimPrefix(r.URL.Path, bnd.pathPrefix)

	op, perr := reqparse.Parse(r, tail)
	if perr != nil {
		finishWithError(w, r, perr)
		return
	}

	subject, aerr := bnd.authn.Authenticate(r)
	if aerr != nil {
		finishWithError(w, r, aerr)
		return
	}

	if bnd.authz != nil {
		zerr := bnd.authz.Authorize(r.Context(), subject, op.Kind.String(), authz.Resource{Bucket: bnd.client.Bucket(), Key: op.Key}, r)
		if zerr != nil {
			finishWithError(w, r, zerr)
			return
		}
	}

	bnd.orchestrator.Handle(w, r, op)
}

// finishWithError drains the request body before writing the error response,
// preserving connection reuse even on early rejection.
func finishWithError(w http.ResponseWriter, r *http.Request, proxyErr *s3proxyerr.Error) {
	if r.Body != nil {
		io.Copy(io.Discard, r.Body)
	}
	xmlutil.WriteErrorResponse(w, r, proxyErr)
}

// ListenAndServe starts the HTTP server on addr, with the full middleware
// chain wrapping the router: metrics -> common headers -> trace context ->
// transfer-encoding check -> dispatch.
func (s *Server) ListenAndServe(addr string) error {
	var handler http.Handler = s.router
	handler = transferEncodingCheck(handler)
	handler = traceContext(handler)
	handler = commonHeaders(handler)
	handler = metricsMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops accepting new connections and waits for
// in-flight requests to finish within the server's shutdown timeout. An
// in-flight CompleteMultipartUpload is not cancelled by a client
// disconnect, since s3client issues it on a context.WithoutCancel
// derivative; Shutdown waits for it only up to the shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
