//go:build !windows

package jsonl

import "golang.org/x/sys/unix"

// lockFile takes an exclusive advisory lock, blocking until it is free.
func lockFile(fd uintptr) error {
	return unix.Flock(int(fd), unix.LOCK_EX)
}

func unlockFile(fd uintptr) error {
	return unix.Flock(int(fd), unix.LOCK_UN)
}
