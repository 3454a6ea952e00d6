package handler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"ipcd/internal/session"
)

// Exec wires the connection to a child process's stdio.  Either Program
// (-e) or Command (-c) must be set.  The peer's credentials are exported
// to the child as IPCD_PEER_UID, IPCD_PEER_GID and IPCD_PEER_PID.
type Exec struct {
	Program string // -e: execute a program directly
	Command string // -c: execute via /bin/sh
}

// Handle starts the child and waits for it to exit.
func (e *Exec) Handle(ctx context.Context, sess *session.Session) error {
	conn := sess.Conn()
	if conn == nil {
		return fmt.Errorf("exec: session has no connection")
	}

	var cmd *exec.Cmd
	switch {
	case e.Command != "":
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", e.Command)
	case e.Program != "":
		cmd = exec.CommandContext(ctx, e.Program)
	default:
		return fmt.Errorf("no command specified for exec handler")
	}

	peer := conn.Peer()
	cmd.Env = append(os.Environ(),
		"IPCD_PEER_UID="+peer.UID.String(),
		"IPCD_PEER_GID="+peer.GID.String(),
		"IPCD_PEER_PID="+peer.PID.String(),
	)
	cmd.Stdin = conn
	cmd.Stdout = conn
	cmd.Stderr = conn
	// Stop waiting on the stdin copy once the child has exited and the
	// peer keeps the connection open.
	cmd.WaitDelay = time.Second

	sess.Log.Trace("slot %d: exec %s", sess.Slot, cmd.String())

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("exec %q: %w", cmd.Path, err)
	}
	return nil
}
