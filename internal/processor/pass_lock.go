package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ErrPassInProgress is returned when another pass holds the guard.
var ErrPassInProgress = errors.New("a correlation pass is already in progress")

// LockInfo describes the current holder of the pass lock.
type LockInfo struct {
	PassID   string    `json:"pass_id"`
	Mode     string    `json:"mode"`
	LockedAt time.Time `json:"locked_at"`
	PID      int       `json:"pid"`
}

// PassLock serialises passes inside the process (mutex) and across
// processes sharing the same state directory (flock on pass.lock).
type PassLock struct {
	path string

	active sync.Mutex
	mu     sync.Mutex
	held   bool
	file   *os.File
}

// NewPassLock returns a lock backed by <lockDir>/pass.lock. An empty lockDir
// gives an in-process lock only.
func NewPassLock(lockDir string) *PassLock {
	l := &PassLock{}
	if lockDir != "" {
		l.path = filepath.Join(lockDir, "pass.lock")
	}
	return l
}

// TryLock acquires the lock without waiting. It fails with ErrPassInProgress
// when another pass holds it.
func (l *PassLock) TryLock(passID, mode string) error {
	if !l.active.TryLock() {
		return ErrPassInProgress
	}
	if l.path == "" {
		l.mu.Lock()
		l.held = true
		l.mu.Unlock()
		return nil
	}

	if err := l.lockFile(LockInfo{PassID: passID, Mode: mode, LockedAt: time.Now(), PID: os.Getpid()}); err != nil {
		l.active.Unlock()
		return err
	}
	return nil
}

func (l *PassLock) lockFile(info LockInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return ErrPassInProgress
		}
		return fmt.Errorf("flock: %w", err)
	}

	l.file = file
	if err := writeLockInfo(file, info); err != nil {
		l.unlockFile()
		return fmt.Errorf("write lock info: %w", err)
	}
	l.held = true
	return nil
}

// Unlock releases the lock. Unlocking a lock that is not held is a no-op.
func (l *PassLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}
	err := l.unlockFile()
	l.held = false
	l.active.Unlock()
	return err
}

func (l *PassLock) unlockFile() error {
	if l.file == nil {
		return nil
	}
	defer func() { l.file = nil }()

	// leave the file in place; removing it would race with a waiting opener
	_ = l.file.Truncate(0)
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("unlock: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}
	return nil
}

// Holder reads the lock info left by the current holder, if any.
func (l *PassLock) Holder() (LockInfo, bool) {
	if l.path == "" {
		return LockInfo{}, false
	}
	data, err := os.ReadFile(l.path)
	if err != nil || len(data) == 0 {
		return LockInfo{}, false
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return LockInfo{}, false
	}
	return info, true
}

func writeLockInfo(f *os.File, info LockInfo) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(info); err != nil {
		return err
	}
	return f.Sync()
}
