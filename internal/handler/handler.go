// Package handler defines what happens over an authorised connection.
// Each Handler encapsulates one behaviour (echo the peer's bytes, run a
// program, send a file) and operates on a session.Session rather
// than a raw net.Conn, which keeps handlers testable and decoupled from
// the listener.
package handler

import (
	"context"
	"fmt"

	"ipcd/config"
	"ipcd/internal/session"
)

// Handler serves a single connection.
type Handler interface {
	// Handle runs against the given session.  It blocks until the
	// connection is done or ctx is cancelled.  The caller releases the
	// session afterwards.
	Handle(ctx context.Context, sess *session.Session) error
}

// Func adapts a function to Handler.
type Func func(ctx context.Context, sess *session.Session) error

// Handle calls f(ctx, sess).
func (f Func) Handle(ctx context.Context, sess *session.Session) error { return f(ctx, sess) }

// Handler names accepted by --handler.
const (
	NameEcho   = "echo"
	NameExec   = "exec"
	NameBanner = "banner"
	NameFile   = "file"
)

// Build selects the per-connection behaviour named by cfg.Handler.
func Build(cfg *config.Config) (Handler, error) {
	name := cfg.Handler
	if name == "" {
		name = NameEcho
	}

	switch name {
	case NameEcho:
		return &Echo{}, nil
	case NameExec:
		if cfg.Execute == "" && cfg.Command == "" {
			return nil, fmt.Errorf("handler exec: no program (-e) or command (-c) given")
		}
		return &Exec{Program: cfg.Execute, Command: cfg.Command}, nil
	case NameBanner:
		return &Banner{Text: cfg.Banner}, nil
	case NameFile:
		if cfg.File == "" {
			return nil, fmt.Errorf("handler file: no --file given")
		}
		return &File{Path: cfg.File}, nil
	default:
		return nil, fmt.Errorf("unknown handler %q (want %s, %s, %s or %s)", name, NameEcho, NameExec, NameBanner, NameFile)
	}
}
