package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ipcd/config"
	ipcerr "ipcd/internal/errors"
)

// unixConfig returns a config bound to a socket in a fresh temp dir.
func unixConfig(t *testing.T) *config.Config {
	t.Helper()
	dir, err := os.MkdirTemp("", "ipcd")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := config.Default()
	cfg.SocketPath = filepath.Join(dir, "s.sock")
	cfg.Peer = config.Identity{UID: config.AnyID, GID: config.AnyID, PID: config.AnyID}
	return cfg
}

func listen(t *testing.T, ctx context.Context, cfg *config.Config) *Listener {
	t.Helper()
	l, err := Listen(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestListen_SocketPermissions(t *testing.T) {
	cfg := unixConfig(t)
	cfg.SocketPermissions = "0660"
	listen(t, context.Background(), cfg)

	fi, err := os.Stat(cfg.SocketPath)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode()&os.ModeSocket == 0 {
		t.Errorf("%s is not a socket", cfg.SocketPath)
	}
	if got := fi.Mode().Perm(); got != 0o660 {
		t.Errorf("perm = %o, want 660", got)
	}
}

func TestListen_RemovesStaleSocket(t *testing.T) {
	cfg := unixConfig(t)

	// Leave a socket file behind the way a crashed daemon would.
	stale, err := net.Listen("unix", cfg.SocketPath)
	if err != nil {
		t.Fatal(err)
	}
	stale.(*net.UnixListener).SetUnlinkOnClose(false)
	stale.Close()

	listen(t, context.Background(), cfg)
}

func TestListen_RefusesNonSocket(t *testing.T) {
	cfg := unixConfig(t)
	if err := os.WriteFile(cfg.SocketPath, []byte("keep me"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Listen(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected Listen to refuse a regular file")
	}
	if data, _ := os.ReadFile(cfg.SocketPath); string(data) != "keep me" {
		t.Error("regular file was modified")
	}
}

func TestListen_BadPermissions(t *testing.T) {
	cfg := unixConfig(t)
	cfg.SocketPermissions = "rwx"
	if _, err := Listen(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for unparsable permissions")
	}
}

func TestClose_RemovesSocket(t *testing.T) {
	cfg := unixConfig(t)
	l := listen(t, context.Background(), cfg)

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(cfg.SocketPath); !os.IsNotExist(err) {
		t.Errorf("socket still present after Close: %v", err)
	}
	l.Close() // idempotent
}

func TestAcceptAuthorized_ContextCancel(t *testing.T) {
	cfg := unixConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	l := listen(t, ctx, cfg)

	errc := make(chan error, 1)
	go func() {
		_, err := l.AcceptAuthorized(ctx)
		errc <- err
	}()

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("AcceptAuthorized did not return after cancel")
	}
}

func TestAcceptAuthorized_AfterClose(t *testing.T) {
	l := listen(t, context.Background(), unixConfig(t))
	l.Close()

	_, err := l.AcceptAuthorized(context.Background())
	if !errors.Is(err, ipcerr.ErrListenerClosed) {
		t.Errorf("err = %v, want ErrListenerClosed", err)
	}
}

// TestAcceptAuthorized_TCP exercises the inet path with stubbed
// credentials so it does not depend on procfs.
func TestAcceptAuthorized_TCP(t *testing.T) {
	cfg := config.Default()
	cfg.Domain = config.DomainInet
	cfg.Port = 0
	cfg.Peer = config.Identity{UID: 1000, GID: config.AnyID, PID: config.AnyID}

	l := listen(t, context.Background(), cfg)

	tests := []struct {
		name   string
		creds  Credentials
		credEr error
		admit  bool
	}{
		{"match", Credentials{UID: 1000, GID: 1, PID: 2}, nil, true},
		{"wrong uid", Credentials{UID: 0, GID: 1, PID: 2}, nil, false},
		{"no credentials", Credentials{}, ipcerr.ErrNoCredentials, false},
		{"lookup error", Credentials{}, errors.New("boom"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l.creds = func(net.Conn) (Credentials, error) { return tc.creds, tc.credEr }

			client, err := net.Dial("tcp", l.Addr().String())
			if err != nil {
				t.Fatal(err)
			}
			defer client.Close()

			h, err := l.AcceptAuthorized(context.Background())
			if tc.admit {
				if err != nil {
					t.Fatalf("AcceptAuthorized: %v", err)
				}
				defer h.Close()
				if h.Peer() != tc.creds {
					t.Errorf("Peer() = %+v, want %+v", h.Peer(), tc.creds)
				}
				return
			}

			if !ipcerr.IsDenied(err) {
				t.Fatalf("err = %v, want a denial", err)
			}
			// The rejected connection must have been closed server-side.
			client.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
			if _, err := client.Read(make([]byte, 1)); err != io.EOF {
				t.Errorf("client read = %v, want EOF", err)
			}
		})
	}
}

func TestConn_CloseIdempotent(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	c := NewConn(a, Credentials{UID: 7})
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close = %v, want the first result", err)
	}
	if c.Peer().UID != 7 {
		t.Errorf("Peer().UID = %v", c.Peer().UID)
	}
}
