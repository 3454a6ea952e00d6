package handler

import (
	"context"
	"fmt"
	"os"

	"ipcd/internal/session"
	"ipcd/util"
)

// File sends the contents of a regular file and hangs up.  Symlinks and
// anything that is not a regular file are refused, and the opened file
// must still be the one that was checked.
type File struct {
	Path string
}

// Handle streams the file to the connection.
func (f *File) Handle(ctx context.Context, sess *session.Session) error {
	conn := sess.Conn()
	if conn == nil {
		return fmt.Errorf("file: session has no connection")
	}

	fh, err := openRegular(f.Path)
	if err != nil {
		return fmt.Errorf("file: %w", err)
	}
	defer fh.Close()

	n, err := util.Splice(ctx, conn, conn, fh)
	sess.Log.Trace("slot %d: sent %d bytes from %s", sess.Slot, n, f.Path)
	return err
}

// openRegular opens path read-only, refusing symlinks and non-regular
// files.  The descriptor is compared with the checked path afterwards so
// a swap between the check and the open is detected.
func openRegular(path string) (*os.File, error) {
	before, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if before.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("%s is a symlink", path)
	}
	if !before.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}

	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	after, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, err
	}
	if !os.SameFile(before, after) {
		fh.Close()
		return nil, fmt.Errorf("%s changed while being opened", path)
	}
	return fh, nil
}
