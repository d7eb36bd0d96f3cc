package transfer

import (
	"context"
	"io"
	"sync"
)

// bufferPool is a sync.Pool-backed byte-slice pool, sized per engine
// configuration. Reused across transfers on the portable path so repeated
// PutObject/UploadPart calls don't churn the allocator.
type bufferPool struct {
	pool *sync.Pool
	size int
}

func newBufferPool(size int) *bufferPool {
	return &bufferPool{
		size: size,
		pool: &sync.Pool{
			New: func() interface{} {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

func (p *bufferPool) get() []byte {
	b := p.pool.Get().(*[]byte)
	if cap(*b) < p.size {
		*b = make([]byte, p.size)
	}
	return (*b)[:p.size]
}

func (p *bufferPool) put(b []byte) {
	p.pool.Put(&b)
}

// sharedPortablePool backs all portable engines at the default buffer size;
// engines configured with a non-default size get their own pool.
var sharedPortablePool = newBufferPool(64 << 10)

// portableEngine shuttles bytes through a single pooled user-space buffer
// in a tight read/write loop. Used on non-Linux platforms, or when the
// zero-copy path is disabled by configuration.
type portableEngine struct {
	pool *bufferPool
}

func newPortableEngine(cfg Config) *portableEngine {
	size := cfg.bufferSize()
	pool := sharedPortablePool
	if size != 64<<10 {
		pool = newBufferPool(size)
	}
	return &portableEngine{pool: pool}
}

func (e *portableEngine) Transfer(ctx context.Context, source io.Reader, sink io.Writer, maxBytes int64) (int64, error) {
	buf := e.pool.get()
	defer e.pool.put(buf)

	var moved int64
	for maxBytes < 0 || moved < maxBytes {
		if err := ctx.Err(); err != nil {
			return moved, wrapReadErr(ctx, err)
		}

		chunk := buf
		if maxBytes >= 0 {
			remaining := maxBytes - moved
			if int64(len(chunk)) > remaining {
				chunk = chunk[:remaining]
			}
		}

		n, rerr := source.Read(chunk)
		if n > 0 {
			if _, werr := sink.Write(chunk[:n]); werr != nil {
				return moved, wrapWriteErr(ctx, werr)
			}
			moved += int64(n)
		}
		if rerr != nil {
			if rerr == io.EOF {
				return moved, nil
			}
			return moved, wrapReadErr(ctx, rerr)
		}
	}
	return moved, nil
}

func (e *portableEngine) Close() error { return nil }
