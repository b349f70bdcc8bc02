// Package lockfile guards an output directory against two writers.
package lockfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const defaultName = ".exdash.lock"

var ErrHeld = errors.New("lock held")

// HeldError reports who holds the lock and why it was not taken over.
type HeldError struct {
	Path   string
	Reason string
}

func (e *HeldError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("lock held: %s", e.Path)
	}
	return fmt.Sprintf("lock held: %s (%s)", e.Path, e.Reason)
}

func (e *HeldError) Is(target error) bool { return target == ErrHeld }

type Options struct {
	// Name overrides the lock file name inside the directory.
	Name string
	// Owner is written into the lock for operators; typically the command name.
	Owner string
	// Takeover allows replacing a lock whose owner is gone or too old.
	Takeover   bool
	StaleAfter time.Duration
	Now        func() time.Time
}

type Lock struct {
	path string
	file *os.File
}

func Acquire(dir string, opts Options) (*Lock, error) {
	if dir == "" {
		return nil, errors.New("lock dir required")
	}
	name := opts.Name
	if name == "" {
		name = defaultName
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	path := filepath.Join(dir, name)

	for attempt := 0; attempt < 3; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			if err := writeOwner(f, opts.Owner, now().UTC()); err != nil {
				_ = f.Close()
				_ = os.Remove(path)
				return nil, err
			}
			return &Lock{path: path, file: f}, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		if !opts.Takeover {
			return nil, &HeldError{Path: path}
		}
		stale, reason, err := staleOwner(path, now().UTC(), opts.StaleAfter)
		if err != nil {
			return nil, fmt.Errorf("inspect lock %s: %w", path, err)
		}
		if !stale {
			return nil, &HeldError{Path: path, Reason: reason}
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return nil, &HeldError{Path: path, Reason: "contended"}
}

func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
	if l.path == "" {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	l.path = ""
	return nil
}

func writeOwner(f *os.File, owner string, at time.Time) error {
	var b strings.Builder
	b.WriteString("pid=" + strconv.Itoa(os.Getpid()) + "\n")
	if owner != "" {
		b.WriteString("owner=" + owner + "\n")
	}
	b.WriteString("started_at=" + at.Format(time.RFC3339) + "\n")
	if _, err := f.WriteString(b.String()); err != nil {
		return err
	}
	return f.Sync()
}

type ownerInfo struct {
	pid       int
	owner     string
	startedAt time.Time
}

func staleOwner(path string, now time.Time, staleAfter time.Duration) (bool, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, "lock_disappeared", nil
		}
		return false, "", err
	}
	info, err := parseOwner(data)
	if err != nil {
		return false, "", err
	}
	if info.pid > 0 {
		if processAlive(info.pid) {
			return false, "owner_process_running", nil
		}
		return true, "owner_process_not_running", nil
	}
	if info.startedAt.IsZero() {
		return false, "missing_owner_info", nil
	}
	if staleAfter > 0 && now.Sub(info.startedAt) >= staleAfter {
		return true, "lock_age_exceeded", nil
	}
	return false, "lock_not_stale", nil
}

func parseOwner(data []byte) (ownerInfo, error) {
	var info ownerInfo
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				info.pid = pid
			}
		case "owner":
			info.owner = value
		case "started_at":
			if ts, err := time.Parse(time.RFC3339, value); err == nil {
				info.startedAt = ts.UTC()
			}
		}
	}
	return info, sc.Err()
}

// processAlive treats a permission error as alive: the pid exists but
// belongs to someone else.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
		return false
	}
	return errors.Is(err, syscall.EPERM)
}
