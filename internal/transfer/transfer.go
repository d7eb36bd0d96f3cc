// Package transfer implements the zero-copy dataplane: moving request and
// response bodies between two byte streams of unknown length without
// buffering them in user space, with a portable fallback for platforms or
// configurations that cannot use the kernel path.
package transfer

import (
	"context"
	"io"

	"github.com/s3proxy/s3proxy/internal/s3proxyerr"
)

// Engine moves bytes from source to sink. Implementations are scoped
// resources: acquired at the start of a body-carrying handler and released
// unconditionally at handler exit. No Engine is reused across concurrent
// transfers.
type Engine interface {
	// Transfer copies from source to sink until source reports EOF or
	// maxBytes have been moved, whichever comes first. It returns the exact
	// number of bytes moved. Errors are always *s3proxyerr.Error of kind
	// SourceRead, SinkWrite, or Cancelled.
	Transfer(ctx context.Context, source io.Reader, sink io.Writer, maxBytes int64) (int64, error)
	// Close releases any kernel resources (pipe descriptors) held by the
	// engine. Safe to call more than once.
	Close() error
}

// Config selects and sizes the transfer path.
type Config struct {
	// ZeroCopyEnabled selects the Linux pipe/splice/sendfile path when true
	// and the platform and input types support it. When false, or when the
	// platform lacks the primitives, New falls back to the portable path.
	ZeroCopyEnabled bool
	// PipeBufferSize sizes the kernel pipe buffer via fcntl(F_SETPIPE_SZ).
	// Default 1 MiB. Unused by the portable path.
	PipeBufferSize int
	// BufferSize sizes the portable path's user-space shuttle buffer.
	// Default 64 KiB.
	BufferSize int
}

func (c Config) pipeBufferSize() int {
	if c.PipeBufferSize > 0 {
		return c.PipeBufferSize
	}
	return 1 << 20
}

func (c Config) bufferSize() int {
	if c.BufferSize > 0 {
		return c.BufferSize
	}
	return 64 << 10
}

// New constructs a fresh Engine per the given config. Cheap to call; a new
// Engine is expected per transfer.
func New(cfg Config) Engine {
	if cfg.ZeroCopyEnabled {
		if e := newZeroCopyEngine(cfg); e != nil {
			return e
		}
	}
	return newPortableEngine(cfg)
}

// wrapReadErr classifies a read-side failure, treating context cancellation
// distinctly from ordinary I/O failure per the error taxonomy.
func wrapReadErr(ctx context.Context, err error) *s3proxyerr.Error {
	if ctx.Err() != nil {
		return s3proxyerr.New(s3proxyerr.Cancelled, "transfer cancelled")
	}
	return s3proxyerr.Wrap(s3proxyerr.SourceRead, "reading from source", err)
}

func wrapWriteErr(ctx context.Context, err error) *s3proxyerr.Error {
	if ctx.Err() != nil {
		return s3proxyerr.New(s3proxyerr.Cancelled, "transfer cancelled")
	}
	return s3proxyerr.Wrap(s3proxyerr.SinkWrite, "writing to sink", err)
}
