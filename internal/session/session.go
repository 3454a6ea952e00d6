// Package session holds the per-connection context handed to a worker.
//
// A Session pairs an accepted connection (absent until the dispatcher
// assigns one) with the shared log sink.  The dispatcher allocates one
// Session per slot up front and reuses it for every connection that
// lands in that slot; handlers only see the Session, never the slot
// array, which keeps them testable without a listener.
package session

import (
	"fmt"
	"sync"

	ipcerr "ipcd/internal/errors"
	"ipcd/internal/logging"
	"ipcd/internal/transport"
)

// Session is the runtime context for one connection.
type Session struct {
	// Slot is the index of the pool entry this Session occupies, or -1
	// for a Session allocated outside a pool.
	Slot int
	// Log is shared by every Session and never nil.
	Log *logging.Sink

	mu   sync.Mutex
	conn transport.Handle
	seq  uint64
}

// New creates a Session holding conn, which may be nil.
func New(conn transport.Handle, log *logging.Sink) (*Session, error) {
	if log == nil {
		return nil, fmt.Errorf("session: %w", ipcerr.New("nil log sink"))
	}
	s := &Session{Slot: -1, Log: log}
	if conn != nil {
		s.conn = conn
		s.seq = 1
	}
	return s, nil
}

// Assign stores conn in an empty Session and returns the assignment's
// sequence number.  It fails if a connection is already present.
func (s *Session) Assign(conn transport.Handle) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return 0, fmt.Errorf("session slot %d still holds a connection", s.Slot)
	}
	s.conn = conn
	s.seq++
	return s.seq, nil
}

// Conn returns the current connection, or nil when absent.
func (s *Session) Conn() transport.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Seq counts the connections assigned to this Session so far.
func (s *Session) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Peer returns the credentials of the current connection.
func (s *Session) Peer() (transport.Credentials, bool) {
	c := s.Conn()
	if c == nil {
		return transport.Credentials{}, false
	}
	return c.Peer(), true
}

// Release closes the connection, if any, and leaves the Session empty
// for reuse.  With no connection present nothing is closed.  It reports
// whether a connection was released.
func (s *Session) Release() bool {
	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.mu.Unlock()

	if c == nil {
		return false
	}
	if err := c.Close(); err != nil {
		s.Log.Trace("slot %d: close: %v", s.Slot, err)
	}
	return true
}
