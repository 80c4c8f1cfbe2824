// Package filelock wraps flock(2) advisory locks on open files.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const poll = 25 * time.Millisecond

// Lock takes an exclusive lock on f, polling until it is granted or ctx ends.
func Lock(ctx context.Context, f *os.File) error {
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			return fmt.Errorf("flock %s: %w", f.Name(), err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

// Unlock releases a lock taken by Lock.
func Unlock(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("funlock %s: %w", f.Name(), err)
	}
	return nil
}

// With runs fn while holding the exclusive lock on f.
func With(ctx context.Context, f *os.File, fn func() error) (err error) {
	if err := Lock(ctx, f); err != nil {
		return err
	}
	defer func() {
		if unlockErr := Unlock(f); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}()
	return fn()
}
