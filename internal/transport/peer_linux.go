//go:build linux

package transport

import (
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"

	"ipcd/config"
	ipcerr "ipcd/internal/errors"
)

// procRoot is the procfs mount point; tests point it at a fixture tree.
var procRoot = "/proc" //nolint:gochecknoglobals

// peerCredentials extracts the identity of the process on the other end
// of conn.  Unix sockets use SO_PEERCRED; loopback TCP connections are
// resolved through the kernel's socket tables in procfs.
func peerCredentials(conn net.Conn) (Credentials, error) {
	var (
		creds Credentials
		err   error
	)
	switch c := conn.(type) {
	case *net.UnixConn:
		creds, err = unixCredentials(c)
	case *net.TCPConn:
		creds, err = tcpCredentials(c)
	default:
		return Credentials{}, fmt.Errorf("%w: unsupported connection type %T", ipcerr.ErrNoCredentials, conn)
	}
	if err != nil {
		return Credentials{}, err
	}

	creds.Username = lookupUsername(creds.UID)
	if !creds.PID.IsAny() {
		creds.ProcessName, creds.CLIArgs, creds.HasProcess = processInfo(creds.PID)
	}
	return creds, nil
}

func unixCredentials(c *net.UnixConn) (Credentials, error) {
	raw, err := c.SyscallConn()
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ipcerr.ErrNoCredentials, err)
	}

	var (
		cred    *unix.Ucred
		credErr error
	)
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ipcerr.ErrNoCredentials, err)
	}
	if credErr != nil {
		return Credentials{}, fmt.Errorf("%w: SO_PEERCRED: %v", ipcerr.ErrNoCredentials, credErr)
	}

	return Credentials{
		UID: config.ID(cred.Uid),
		GID: config.ID(cred.Gid),
		PID: config.ID(cred.Pid),
	}, nil
}

// tcpCredentials finds the peer's socket in /proc/net/tcp{,6} (its local
// address is our remote address and vice versa), which yields the owning
// uid and the socket inode; the inode is then traced to a pid.  Only
// peers on this host can be resolved.
func tcpCredentials(c *net.TCPConn) (Credentials, error) {
	local, ok1 := c.LocalAddr().(*net.TCPAddr)
	remote, ok2 := c.RemoteAddr().(*net.TCPAddr)
	if !ok1 || !ok2 {
		return Credentials{}, fmt.Errorf("%w: not a TCP address", ipcerr.ErrNoCredentials)
	}

	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ipcerr.ErrNoCredentials, err)
	}
	uid, inode, err := findSocket(fs, remote, local)
	if err != nil {
		return Credentials{}, err
	}

	creds := Credentials{UID: uid, GID: config.AnyID, PID: config.AnyID}
	if proc, ok := procForInode(fs, inode); ok {
		creds.PID = config.ID(proc.PID)
		creds.GID = processGID(proc)
	}
	return creds, nil
}

// findSocket looks up the socket whose local end is self and remote end
// is peer.  Both tables are searched since an IPv4 peer may hold a
// dual-stack socket listed in tcp6 under its v4-mapped address.
func findSocket(fs procfs.FS, self, peer *net.TCPAddr) (config.ID, uint64, error) {
	var readErr error
	for _, table := range []func() (procfs.NetTCP, error){fs.NetTCP, fs.NetTCP6} {
		lines, err := table()
		if err != nil {
			readErr = err
			continue
		}
		for _, l := range lines {
			if l.LocalPort != uint64(self.Port) || l.RemPort != uint64(peer.Port) {
				continue
			}
			if l.LocalAddr.Equal(self.IP) && l.RemAddr.Equal(peer.IP) {
				return config.ID(l.UID), l.Inode, nil
			}
		}
	}
	if readErr != nil {
		return config.AnyID, 0, fmt.Errorf("%w: no local socket for %s (%v)", ipcerr.ErrNoCredentials, self, readErr)
	}
	return config.AnyID, 0, fmt.Errorf("%w: no local socket for %s", ipcerr.ErrNoCredentials, self)
}

// procForInode returns the process holding a descriptor for the socket
// inode.  Processes whose fd directory we cannot read are skipped.
func procForInode(fs procfs.FS, inode uint64) (procfs.Proc, bool) {
	target := fmt.Sprintf("socket:[%d]", inode)

	procs, err := fs.AllProcs()
	if err != nil {
		return procfs.Proc{}, false
	}
	for _, p := range procs {
		targets, err := p.FileDescriptorTargets()
		if err != nil {
			continue
		}
		if slices.Contains(targets, target) {
			return p, true
		}
	}
	return procfs.Proc{}, false
}

// processGID returns the effective gid of p.
func processGID(p procfs.Proc) config.ID {
	status, err := p.NewStatus()
	if err != nil {
		return config.AnyID
	}
	return config.ID(status.GIDs[1])
}

// processInfo reads the command name and arguments of pid.
func processInfo(pid config.ID) (name, args string, ok bool) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return "", "", false
	}
	p, err := fs.Proc(int(pid))
	if err != nil {
		return "", "", false
	}
	comm, err := p.Comm()
	if err != nil {
		return "", "", false
	}
	argv, err := p.CmdLine()
	if err != nil {
		return "", "", false
	}
	if len(argv) > 0 {
		argv = argv[1:]
	}
	return comm, strings.Join(argv, " "), true
}
