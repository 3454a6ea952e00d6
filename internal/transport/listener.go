package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"

	"ipcd/config"
	ipcerr "ipcd/internal/errors"
	"ipcd/internal/logging"
	"ipcd/internal/retry"
)

// Context codes attached to log records from this package.
const (
	CodeBind = iota + 100
	CodeAccept
	CodeCredentials
	CodeDenied
)

// Listener accepts connections on the configured endpoint and filters
// them through Authorize.
type Listener struct {
	ln       net.Listener
	network  string
	addr     string
	identity config.Identity
	log      *logging.Sink

	// creds is swapped by tests; defaults to peerCredentials.
	creds func(net.Conn) (Credentials, error)

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// Listen binds the endpoint described by cfg.  A stale socket file left
// by a previous run is removed first, and the new one is chmod'ed to
// cfg.SocketPermissions.  Binding is retried briefly while the address
// is still in use.  The listener is closed when ctx is cancelled.
func Listen(ctx context.Context, cfg *config.Config, log *logging.Sink) (*Listener, error) {
	if log == nil {
		log = logging.Discard()
	}
	network, addr := cfg.Domain.Network(), cfg.Address()

	var mode os.FileMode
	if cfg.Domain == config.DomainUnix {
		var err error
		if mode, err = cfg.FileMode(); err != nil {
			return nil, err
		}
		if err := removeStaleSocket(addr); err != nil {
			return nil, ipcerr.Wrap("listen", addr, err)
		}
	}

	var ln net.Listener
	err := retry.BindBackoff().Do(ctx, func(attempt int) error {
		var err error
		ln, err = net.Listen(network, addr)
		if err == nil {
			return nil
		}
		if errors.Is(err, syscall.EADDRINUSE) {
			log.Emit(logging.LevelWarn,
				fmt.Sprintf("bind %s attempt %d: %v", addr, attempt, err), logging.Errno(err), CodeBind)
			return err
		}
		return retry.Permanent(err)
	})
	if err != nil {
		log.Emit(logging.LevelFatal, fmt.Sprintf("bind %s: %v", addr, err), logging.Errno(err), CodeBind)
		return nil, ipcerr.Wrap("listen", addr, err)
	}

	if cfg.Domain == config.DomainUnix {
		if err := os.Chmod(addr, mode); err != nil {
			ln.Close()
			os.Remove(addr)
			return nil, ipcerr.Wrap("chmod", addr, err)
		}
	}

	l := &Listener{
		ln:       ln,
		network:  network,
		addr:     addr,
		identity: cfg.Peer,
		log:      log,
		creds:    peerCredentials,
		closed:   make(chan struct{}),
	}
	go func() {
		select {
		case <-ctx.Done():
			l.Close()
		case <-l.closed:
		}
	}()

	log.Info("listening on %s (%s)", addr, cfg.Domain)
	return l, nil
}

// removeStaleSocket deletes path if it is a socket.  Anything else at
// that path is left alone and reported.
func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// AcceptAuthorized blocks for the next connection and returns it only if
// the peer's credentials satisfy the configured identity.  Rejected
// connections are closed before returning and the reason is logged.
func (l *Listener) AcceptAuthorized(ctx context.Context) (Handle, error) {
	nc, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, ipcerr.ErrListenerClosed
		}
		l.log.Emit(logging.LevelAlert, "accept: "+err.Error(), logging.Errno(err), CodeAccept)
		return nil, ipcerr.Wrap("accept", l.addr, err)
	}

	creds, err := l.creds(nc)
	if err != nil {
		nc.Close()
		l.log.Emit(logging.LevelAlert, "peer credentials: "+err.Error(), logging.Errno(err), CodeCredentials)
		if !errors.Is(err, ipcerr.ErrNoCredentials) {
			err = fmt.Errorf("%w: %v", ipcerr.ErrNoCredentials, err)
		}
		return nil, err
	}

	if err := Authorize(l.identity, creds); err != nil {
		nc.Close()
		l.log.Emit(logging.LevelAlert,
			fmt.Sprintf("peer denied (%s): %v", creds, err), int(syscall.EACCES), CodeDenied)
		return nil, err
	}

	l.log.Trace("peer admitted: %s", creds)
	return NewConn(nc, creds), nil
}

// Close stops accepting and removes the socket file.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.closeErr = l.ln.Close()
		if l.network == "unix" {
			if err := os.Remove(l.addr); err != nil && !os.IsNotExist(err) {
				l.log.Warn("remove socket %s: %v", l.addr, err)
			}
		}
	})
	return l.closeErr
}
