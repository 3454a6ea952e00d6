package session

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipcd/internal/logging"
	"ipcd/internal/transport"
)

// countingConn is a transport.Handle that records Close calls.
type countingConn struct {
	net.Conn
	closes atomic.Int32
}

func (c *countingConn) Close() error {
	c.closes.Add(1)
	return nil
}

func (c *countingConn) Peer() transport.Credentials { return transport.Credentials{UID: 42} }

func newConn() *countingConn {
	a, _ := net.Pipe()
	return &countingConn{Conn: a}
}

func TestNew_RequiresLog(t *testing.T) {
	_, err := New(nil, nil)
	require.Error(t, err)
}

func TestNew_WithConn(t *testing.T) {
	c := newConn()
	s, err := New(c, logging.Discard())
	require.NoError(t, err)

	assert.Equal(t, -1, s.Slot)
	assert.Same(t, c, s.Conn())
	assert.EqualValues(t, 1, s.Seq())

	peer, ok := s.Peer()
	assert.True(t, ok)
	assert.EqualValues(t, 42, peer.UID)
}

func TestRelease_AbsentIsNoop(t *testing.T) {
	s, err := New(nil, logging.Discard())
	require.NoError(t, err)

	assert.False(t, s.Release())
	assert.Nil(t, s.Conn())
	_, ok := s.Peer()
	assert.False(t, ok)
}

func TestRelease_ClosesOnce(t *testing.T) {
	c := newConn()
	s, err := New(c, logging.Discard())
	require.NoError(t, err)

	assert.True(t, s.Release())
	assert.False(t, s.Release(), "second release has nothing to close")
	assert.EqualValues(t, 1, c.closes.Load())
	assert.Nil(t, s.Conn())
}

func TestAssign_Reuse(t *testing.T) {
	s, err := New(nil, logging.Discard())
	require.NoError(t, err)
	s.Slot = 3

	first, second := newConn(), newConn()

	seq, err := s.Assign(first)
	require.NoError(t, err)
	assert.EqualValues(t, 1, seq)

	_, err = s.Assign(second)
	require.Error(t, err, "occupied session must refuse a second connection")
	assert.Contains(t, err.Error(), "slot 3")

	s.Release()
	seq, err = s.Assign(second)
	require.NoError(t, err)
	assert.EqualValues(t, 2, seq)
	assert.Same(t, second, s.Conn())
	assert.EqualValues(t, 1, first.closes.Load())
	assert.Zero(t, second.closes.Load())
}

func TestRelease_Concurrent(t *testing.T) {
	c := newConn()
	s, err := New(c, logging.Discard())
	require.NoError(t, err)

	var wg sync.WaitGroup
	var released atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Release() {
				released.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, released.Load())
	assert.EqualValues(t, 1, c.closes.Load())
}
