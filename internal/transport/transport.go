// Package transport owns the daemon's listening socket.  It binds the
// configured endpoint (a filesystem socket or a loopback TCP port),
// accepts connections, and admits only peers whose OS credentials match
// the configured identity.  What happens over an admitted connection is
// the handler layer's job.
package transport

import (
	"context"
	"net"
	"sync"
)

// Handle is an accepted, authorised connection.
type Handle interface {
	net.Conn

	// Peer returns the credentials the connection was admitted with.
	Peer() Credentials
}

// Acceptor yields authorised connections one at a time.  Any error
// means no connection was admitted; the caller decides whether to try
// again.
type Acceptor interface {
	AcceptAuthorized(ctx context.Context) (Handle, error)
}

// Conn wraps an accepted net.Conn with the peer's credentials.  Close is
// idempotent so both a handler and the worker that owns it may release
// the connection.
type Conn struct {
	net.Conn
	peer Credentials

	once     sync.Once
	closeErr error
}

// NewConn pairs nc with its peer credentials.
func NewConn(nc net.Conn, peer Credentials) *Conn {
	return &Conn{Conn: nc, peer: peer}
}

// Peer returns the peer credentials.
func (c *Conn) Peer() Credentials { return c.peer }

// Close closes the underlying connection once.
func (c *Conn) Close() error {
	c.once.Do(func() { c.closeErr = c.Conn.Close() })
	return c.closeErr
}
