package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All compiled-in defaults live here so they are easy to audit and reuse
// across key=value tokens, the YAML config file, and environment
// variable loading.

const (
	DefaultMQName            = "/ipcd_log_queue"
	DefaultLogFile           = "ipcd.log"
	DefaultSocketPath        = "/tmp/ipcd.sock"
	DefaultDomain            = DomainUnix
	DefaultProtocol          = ProtocolStream
	DefaultPort              = 4000
	DefaultMaxConnections    = 10
	DefaultSocketPermissions = "0600"

	// Authorised peer.  Empty strings and AnyID leave a field
	// unconstrained.
	DefaultPeerUsername    = ""
	DefaultPeerUID      ID = 1000
	DefaultPeerGID      ID = 1000
	DefaultPeerPID      ID = AnyID
	DefaultPeerProcess     = ""
	DefaultPeerCLIArgs     = ""

	// DefaultFailureBudget is how many accept, authorisation, or spawn
	// failures the dispatch loop tolerates over the daemon's lifetime.
	DefaultFailureBudget = 50

	// DefaultGracePeriod is how long shutdown waits for running workers.
	// A zero GracePeriod waits until they all finish.
	DefaultGracePeriod = 5 * time.Second

	// DefaultHandler names the per-connection handler.
	DefaultHandler = "echo"
)

// ── Capacities ───────────────────────────────────────────────────────
//
// Every string field has a fixed capacity that includes room for a
// terminator, so a value is valid only when len(value) < capacity.

const (
	MQNameCap      = 256
	SocketPathCap  = 108 // sizeof(sockaddr_un.sun_path)
	LogFileCap     = 256
	PermissionsLen = 4
	UsernameCap    = 31
	ProcessNameCap = 16 // TASK_COMM_LEN
	CLIArgsCap     = 256

	// MaxConnectionsLimit bounds the slot pool.
	MaxConnectionsLimit = 1024
)
