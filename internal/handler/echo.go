package handler

import (
	"context"
	"fmt"

	"ipcd/internal/session"
	"ipcd/util"
)

// Echo writes every byte the peer sends straight back until the peer
// closes its side or ctx is cancelled.
type Echo struct{}

// Handle echoes the session's connection.
func (e *Echo) Handle(ctx context.Context, sess *session.Session) error {
	conn := sess.Conn()
	if conn == nil {
		return fmt.Errorf("echo: session has no connection")
	}
	n, err := util.Splice(ctx, conn, conn, conn)
	sess.Log.Trace("slot %d: echoed %d bytes", sess.Slot, n)
	return err
}
