package config

// tokens.go - key=value option parsing.
//
// Tokens are applied in order directly onto the Config.  Parsing stops at
// the first invalid token and returns its error; every field set by an
// earlier token stays applied.  Callers treat the error as fatal, so the
// partially updated Config is never served.

import (
	"fmt"
	"strconv"
	"strings"

	ipcerr "ipcd/internal/errors"
)

// Keys lists every recognised option key in documentation order.
var Keys = []string{ //nolint:gochecknoglobals
	"mq_name",
	"socket_path",
	"log_file",
	"domain",
	"protocol",
	"port",
	"max_connections",
	"socket_permissions",
	"authorised_peer_username",
	"authorised_peer_uid",
	"authorised_peer_gid",
	"authorised_peer_pid",
	"authorised_peer_process_name",
	"authorised_peer_cli_args",
}

// ParseTokens applies each "key=value" token to cfg.
func ParseTokens(cfg *Config, tokens []string) error {
	for _, tok := range tokens {
		key, value, ok := strings.Cut(tok, "=")
		if !ok {
			return &ipcerr.ConfigError{
				Field:   tok,
				Message: "invalid argument entry format",
				Hint:    "usage: [option]=[value]",
			}
		}
		if err := Set(cfg, key, value); err != nil {
			return err
		}
	}
	return nil
}

// Set validates value and assigns it to the field named by key.  cfg is
// left untouched when an error is returned.
func Set(cfg *Config, key, value string) error {
	switch key {
	case "mq_name":
		// A leading '/' is the POSIX queue-name form; anything else must
		// at least fit the buffer.
		if !strings.HasPrefix(value, "/") && len(value) >= MQNameCap {
			return invalid(key, value,
				fmt.Sprintf("must start with '/' or be shorter than %d characters", MQNameCap), "")
		}
		cfg.MQName = truncate(value, MQNameCap-1)

	case "socket_path":
		if len(value) >= SocketPathCap {
			return invalid(key, value,
				fmt.Sprintf("must be shorter than %d characters", SocketPathCap), "")
		}
		cfg.SocketPath = value

	case "log_file":
		if len(value) >= LogFileCap {
			return invalid(key, value,
				fmt.Sprintf("must be shorter than %d characters", LogFileCap), "")
		}
		cfg.LogFile = value

	case "domain":
		switch value {
		case "AF_UNIX", "AF_LOCAL":
			cfg.Domain = DomainUnix
		case "AF_INET":
			cfg.Domain = DomainInet
		default:
			return invalid(key, value, "unsupported domain", "use AF_UNIX, AF_LOCAL, or AF_INET")
		}

	case "protocol":
		if value != "SOCK_STREAM" {
			return invalid(key, value, "unsupported protocol", "only SOCK_STREAM is supported")
		}
		cfg.Protocol = ProtocolStream

	case "port":
		port, err := strconv.Atoi(value)
		if err != nil || port <= 1 || port > 65535 {
			return invalid(key, value, "out of range", "use a port between 2 and 65535")
		}
		cfg.Port = port

	case "max_connections":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return invalid(key, value, "must be a positive number", "")
		}
		if n > MaxConnectionsLimit {
			return invalid(key, value, fmt.Sprintf("must not exceed %d", MaxConnectionsLimit), "")
		}
		cfg.MaxConnections = n

	case "socket_permissions":
		if len(value) != PermissionsLen || !isOctal(value) {
			return invalid(key, value,
				fmt.Sprintf("must be exactly %d octal digits", PermissionsLen), "use '0660'")
		}
		cfg.SocketPermissions = value

	case "authorised_peer_username":
		if len(value) >= UsernameCap {
			return invalid(key, value, "username too long", "")
		}
		cfg.Peer.Username = value

	case "authorised_peer_uid":
		id, err := parseID(key, value)
		if err != nil {
			return err
		}
		cfg.Peer.UID = id

	case "authorised_peer_gid":
		id, err := parseID(key, value)
		if err != nil {
			return err
		}
		cfg.Peer.GID = id

	case "authorised_peer_pid":
		id, err := parseID(key, value)
		if err != nil {
			return err
		}
		cfg.Peer.PID = id

	case "authorised_peer_process_name":
		if len(value) >= ProcessNameCap {
			return invalid(key, value, "process name too long", "")
		}
		cfg.Peer.ProcessName = value

	case "authorised_peer_cli_args":
		if len(value) >= CLIArgsCap {
			return invalid(key, value, "peer command line arguments too long", "")
		}
		cfg.Peer.CLIArgs = value

	default:
		return &ipcerr.ConfigError{
			Field:   key,
			Message: "invalid argument",
			Hint:    "known keys: " + strings.Join(Keys, ", "),
		}
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────

func invalid(key, value, msg, hint string) error {
	return &ipcerr.ConfigError{Field: key, Value: value, Message: msg, Hint: hint}
}

func parseID(key, value string) (ID, error) {
	if value == "" || !isDigits(value) {
		return 0, invalid(key, value, "must be a non-negative integer", "")
	}
	n, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, invalid(key, value, "out of range", "")
	}
	return ID(n), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isOctal(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '7' {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
