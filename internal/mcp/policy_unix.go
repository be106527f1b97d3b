//go:build !windows

package mcp

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// openPolicyFile refuses to follow a symlink at the final path element.
func openPolicyFile(path string) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	switch {
	case err == nil:
		return os.NewFile(uintptr(fd), path), nil
	case errors.Is(err, unix.ENOENT):
		return nil, ErrPolicyNotFound
	case errors.Is(err, unix.ELOOP):
		return nil, ErrPolicySymlink
	default:
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
}

// checkFileOwnership requires the policy to belong to the user running the
// server.
func checkFileOwnership(info os.FileInfo) error {
	st, ok := info.Sys().(*unix.Stat_t)
	if !ok {
		return nil
	}
	if int(st.Uid) != unix.Getuid() {
		return ErrPolicyNotOwnedByUser
	}
	return nil
}
