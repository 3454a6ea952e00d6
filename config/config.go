// Package config defines the runtime configuration for ipcd and the
// key=value token parser that fills it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Domain is the socket address family.
type Domain int

const (
	DomainUnix Domain = iota
	DomainInet
)

func (d Domain) String() string {
	switch d {
	case DomainUnix:
		return "AF_UNIX"
	case DomainInet:
		return "AF_INET"
	default:
		return "unknown"
	}
}

// Network returns the net package network name for the domain.
func (d Domain) Network() string {
	if d == DomainInet {
		return "tcp"
	}
	return "unix"
}

// Protocol is the socket type.  Only stream sockets are supported.
type Protocol int

const (
	ProtocolStream Protocol = iota
)

func (p Protocol) String() string {
	if p == ProtocolStream {
		return "SOCK_STREAM"
	}
	return "unknown"
}

// ID is a numeric user, group, or process id.  AnyID leaves the
// corresponding identity field unconstrained.
type ID int64

// AnyID matches every peer.
const AnyID ID = -1

// IsAny reports whether the id is unconstrained.
func (id ID) IsAny() bool { return id < 0 }

func (id ID) String() string {
	if id.IsAny() {
		return "any"
	}
	return strconv.FormatInt(int64(id), 10)
}

// Identity is the allow-listed peer.  Every field is optional: an empty
// string or AnyID accepts any value.
type Identity struct {
	Username    string
	UID         ID
	GID         ID
	PID         ID
	ProcessName string
	CLIArgs     string
}

// Config holds every tuneable of a single ipcd daemon.  It is built once
// at startup and treated as read-only afterwards.
type Config struct {
	// ── Logging ──────────────────────────────────────────────────────
	MQName  string // name of the log queue
	LogFile string
	Verbose int

	// ── Transport ────────────────────────────────────────────────────
	Domain            Domain
	Protocol          Protocol
	Port              int
	SocketPath        string
	SocketPermissions string // 4 octal digits, e.g. "0660"
	MaxConnections    int

	// ── Authorisation ────────────────────────────────────────────────
	Peer Identity

	// ── Dispatch ─────────────────────────────────────────────────────
	FailureBudget int
	GracePeriod   time.Duration // 0 waits for workers indefinitely

	// ── Handler ──────────────────────────────────────────────────────
	Handler string // "echo", "exec", "banner", or "file"
	Execute string // -e: program path
	Command string // -c: shell command
	Banner  string
	File    string // regular file served by the file handler
}

// Default returns a Config populated with the compiled-in defaults.
func Default() *Config {
	return &Config{
		MQName:            DefaultMQName,
		LogFile:           DefaultLogFile,
		Domain:            DefaultDomain,
		Protocol:          DefaultProtocol,
		Port:              DefaultPort,
		SocketPath:        DefaultSocketPath,
		SocketPermissions: DefaultSocketPermissions,
		MaxConnections:    DefaultMaxConnections,
		Peer: Identity{
			Username:    DefaultPeerUsername,
			UID:         DefaultPeerUID,
			GID:         DefaultPeerGID,
			PID:         DefaultPeerPID,
			ProcessName: DefaultPeerProcess,
			CLIArgs:     DefaultPeerCLIArgs,
		},
		FailureBudget: DefaultFailureBudget,
		GracePeriod:   DefaultGracePeriod,
		Handler:       DefaultHandler,
	}
}

// Address returns the listen address for the configured domain.
func (c *Config) Address() string {
	if c.Domain == DomainInet {
		return fmt.Sprintf("127.0.0.1:%d", c.Port)
	}
	return c.SocketPath
}

// FileMode converts SocketPermissions to an os.FileMode.
func (c *Config) FileMode() (os.FileMode, error) {
	m, err := strconv.ParseUint(c.SocketPermissions, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("socket permissions %q: %w", c.SocketPermissions, err)
	}
	return os.FileMode(m), nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks the settings that are not covered by token parsing
// (flags and programmatic construction).
func (c *Config) Validate() error {
	if c.MaxConnections < 1 || c.MaxConnections > MaxConnectionsLimit {
		return fmt.Errorf("max_connections must be between 1 and %d", MaxConnectionsLimit)
	}
	if c.FailureBudget < 1 {
		return fmt.Errorf("failure budget must be positive")
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("grace period must not be negative")
	}

	switch c.Handler {
	case "echo", "banner":
	case "file":
		if c.File == "" {
			return fmt.Errorf("file handler requires --file")
		}
	case "exec":
		if c.Execute == "" && c.Command == "" {
			return fmt.Errorf("exec handler requires -e or -c")
		}
		if c.Execute != "" && c.Command != "" {
			return fmt.Errorf("-e and -c are mutually exclusive")
		}
	default:
		return fmt.Errorf("unknown handler %q (want echo, exec, banner, or file)", c.Handler)
	}

	if _, err := c.FileMode(); err != nil {
		return err
	}
	return nil
}
