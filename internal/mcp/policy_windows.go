//go:build windows

package mcp

import (
	"os"
)

// openPolicyFile rejects a policy path that is itself a symlink. There is no
// O_NOFOLLOW, so the check is done with Lstat before opening.
func openPolicyFile(path string) (*os.File, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, ErrPolicySymlink
	}
	return os.Open(path)
}

// checkFileOwnership is a no-op; access is governed by ACLs.
func checkFileOwnership(os.FileInfo) error {
	return nil
}
