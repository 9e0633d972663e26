package storage

import (
	"context"
	"os"
	"time"
)

const (
	lockPollMin = 2 * time.Millisecond
	lockPollMax = 50 * time.Millisecond
)

// fileLock is an advisory lock on a file shared by every process that opens
// the same store. It is not reentrant.
type fileLock struct {
	f *os.File
}

func openFileLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileLock{f: f}, nil
}

// lock blocks until the lock is held or ctx is done.
func (l *fileLock) lock(ctx context.Context, exclusive bool) error {
	wait := lockPollMin
	for {
		ok, err := l.tryLock(exclusive)
		if err != nil || ok {
			return err
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		wait = min(wait*2, lockPollMax)
	}
}

func (l *fileLock) Close() error {
	return l.f.Close()
}
