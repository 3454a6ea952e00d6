package transport

import (
	"fmt"
	"os/user"
	"strconv"

	"ipcd/config"
	ipcerr "ipcd/internal/errors"
)

// Credentials is the OS-level identity of a connected peer.  Ids that
// could not be determined are config.AnyID.
type Credentials struct {
	UID config.ID
	GID config.ID
	PID config.ID

	Username    string // "" when the uid has no passwd entry
	ProcessName string
	CLIArgs     string // argv[1:] joined by single spaces

	// HasProcess is true once ProcessName and CLIArgs were read from
	// the peer process.
	HasProcess bool
}

// UnknownCredentials has every id unknown and no process details.  An
// unconstrained identity still admits such a peer.
func UnknownCredentials() Credentials {
	return Credentials{UID: config.AnyID, GID: config.AnyID, PID: config.AnyID}
}

func (c Credentials) String() string {
	s := fmt.Sprintf("uid=%s gid=%s pid=%s", c.UID, c.GID, c.PID)
	if c.Username != "" {
		s += " user=" + c.Username
	}
	if c.HasProcess {
		s += " comm=" + c.ProcessName
	}
	return s
}

// Authorize compares observed credentials against the allow-listed
// identity.  Unconstrained fields are skipped; a constrained field whose
// value is unknown fails.  The error unwraps to errors.ErrPeerDenied.
func Authorize(want config.Identity, got Credentials) error {
	if err := matchID("uid", want.UID, got.UID); err != nil {
		return err
	}
	if err := matchID("gid", want.GID, got.GID); err != nil {
		return err
	}
	if err := matchID("pid", want.PID, got.PID); err != nil {
		return err
	}

	if want.Username != "" {
		if got.Username == "" {
			return ipcerr.Mismatch("username", want.Username, nil)
		}
		if got.Username != want.Username {
			return ipcerr.Mismatch("username", want.Username, got.Username)
		}
	}

	if want.ProcessName != "" {
		if !got.HasProcess {
			return ipcerr.Mismatch("process_name", want.ProcessName, nil)
		}
		if got.ProcessName != want.ProcessName {
			return ipcerr.Mismatch("process_name", want.ProcessName, got.ProcessName)
		}
	}

	if want.CLIArgs != "" {
		if !got.HasProcess {
			return ipcerr.Mismatch("cli_args", want.CLIArgs, nil)
		}
		if got.CLIArgs != want.CLIArgs {
			return ipcerr.Mismatch("cli_args", want.CLIArgs, got.CLIArgs)
		}
	}
	return nil
}

func matchID(field string, want, got config.ID) error {
	if want.IsAny() {
		return nil
	}
	if got.IsAny() {
		return ipcerr.Mismatch(field, want, nil)
	}
	if got != want {
		return ipcerr.Mismatch(field, want, got)
	}
	return nil
}

// lookupUsername resolves a uid through the passwd database.
func lookupUsername(uid config.ID) string {
	if uid.IsAny() {
		return ""
	}
	u, err := user.LookupId(strconv.FormatInt(int64(uid), 10))
	if err != nil {
		return ""
	}
	return u.Username
}
