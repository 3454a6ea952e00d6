package handler

import (
	"context"
	"fmt"
	"io"

	"ipcd/internal/session"
)

// Banner writes a single greeting line and hangs up.  An empty Text
// reports the peer's credentials instead.
type Banner struct {
	Text string
}

// Handle writes the banner.
func (b *Banner) Handle(_ context.Context, sess *session.Session) error {
	conn := sess.Conn()
	if conn == nil {
		return fmt.Errorf("banner: session has no connection")
	}

	text := b.Text
	if text == "" {
		text = "ipcd: " + conn.Peer().String()
	}
	if _, err := io.WriteString(conn, text+"\n"); err != nil {
		return fmt.Errorf("banner: %w", err)
	}
	return nil
}
