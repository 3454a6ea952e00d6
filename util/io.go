// Package util holds I/O helpers shared by the connection handlers.
package util

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
)

// DefaultBufSize is the size of pooled copy buffers (32 KiB).
const DefaultBufSize = 32 * 1024

// bufPool recycles copy buffers across connections so a busy daemon does
// not allocate one per worker.
var bufPool = sync.Pool{ //nolint:gochecknoglobals
	New: func() interface{} {
		buf := make([]byte, DefaultBufSize)
		return &buf
	},
}

// GetBuf takes a buffer from the pool.  Return it with PutBuf.
func GetBuf() *[]byte {
	return bufPool.Get().(*[]byte)
}

// PutBuf returns a buffer to the pool.
func PutBuf(buf *[]byte) {
	if buf == nil {
		return
	}
	bufPool.Put(buf)
}

// Splice copies src to dst through a pooled buffer until src reaches EOF,
// either side fails, or ctx is cancelled.  On cancellation conn is closed
// to unblock the copy.  Shutdown errors (EOF, closed connection) are not
// reported.
func Splice(ctx context.Context, conn net.Conn, dst io.Writer, src io.Reader) (int64, error) {
	buf := GetBuf()
	defer PutBuf(buf)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	n, err := io.CopyBuffer(dst, src, *buf)
	if ctx.Err() != nil {
		return n, ctx.Err()
	}
	if IsHarmless(err) {
		return n, nil
	}
	return n, err
}

// IsHarmless reports whether err is expected while a connection is
// being torn down.
func IsHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
