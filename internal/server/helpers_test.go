package server

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"ipcd/config"
	ipcerr "ipcd/internal/errors"
	"ipcd/internal/logging"
	"ipcd/internal/transport"
)

// fakeConn is a transport.Handle numbered in accept order.
type fakeConn struct {
	net.Conn
	id     int
	closes atomic.Int32
}

func newFakeConn(id int) *fakeConn {
	a, b := net.Pipe()
	b.Close()
	return &fakeConn{Conn: a, id: id}
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

func (c *fakeConn) Peer() transport.Credentials {
	return transport.Credentials{UID: 1000, GID: 1000, PID: config.ID(c.id)}
}

// scriptAcceptor plays back a fixed list of outcomes (true = admit) and
// then calls onDone, which decides what the remaining calls return.
type scriptAcceptor struct {
	mu      sync.Mutex
	script  []bool
	calls   int
	conns   []*fakeConn
	denials int
	onDone  func(ctx context.Context) (transport.Handle, error)
}

func (a *scriptAcceptor) AcceptAuthorized(ctx context.Context) (transport.Handle, error) {
	a.mu.Lock()
	i := a.calls
	a.calls++
	if i >= len(a.script) {
		a.mu.Unlock()
		return a.onDone(ctx)
	}
	if !a.script[i] {
		a.denials++
		a.mu.Unlock()
		return nil, ipcerr.Mismatch("uid", 1000, 0)
	}
	c := newFakeConn(len(a.conns))
	a.conns = append(a.conns, c)
	a.mu.Unlock()
	return c, nil
}

func (a *scriptAcceptor) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *scriptAcceptor) Conns() []*fakeConn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*fakeConn(nil), a.conns...)
}

// cancelWhenDone cancels ctx and reports the cancellation.
func cancelWhenDone(cancel context.CancelFunc) func(context.Context) (transport.Handle, error) {
	return func(ctx context.Context) (transport.Handle, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// blockUntilDone waits for ctx like a listener with no clients.
func blockUntilDone(ctx context.Context) (transport.Handle, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// countingOpener records every open and close of the log file.
type countingOpener struct {
	opens  atomic.Int32
	closes atomic.Int32
	err    error
}

func (o *countingOpener) Open(string) (io.WriteCloser, error) {
	o.opens.Add(1)
	if o.err != nil {
		return nil, o.err
	}
	return &countedFile{o: o}, nil
}

type countedFile struct{ o *countingOpener }

func (f *countedFile) Write(p []byte) (int, error) { return len(p), nil }
func (f *countedFile) Close() error {
	f.o.closes.Add(1)
	return nil
}

func testConfig(slots, budget int) *config.Config {
	cfg := config.Default()
	cfg.MaxConnections = slots
	cfg.FailureBudget = budget
	return cfg
}

func newTestContext(t *testing.T, cfg *config.Config, opts ...Option) *ServerContext {
	t.Helper()
	opts = append([]Option{
		WithOpener(logging.OpenerFunc(func(string) (io.WriteCloser, error) {
			return nopWriteCloser{io.Discard}, nil
		})),
	}, opts...)
	sc, err := NewServerContext(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { sc.Close() })
	return sc
}

// attempt is one observation from Dispatcher.trace.
type attempt struct {
	offset   int
	accepted bool
}

func traced(d *Dispatcher) *[]attempt {
	var seen []attempt
	d.trace = func(offset int, accepted bool) {
		seen = append(seen, attempt{offset, accepted})
	}
	return &seen
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
