// Package lock serializes backup and restore operations across processes
// with lease files under the backup root.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stupid-simple/intake-backup/faults"
)

const (
	Dir               = ".locks"
	DefaultStaleAfter = 6 * time.Hour
)

type leaseInfo struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	AcquiredAt time.Time `json:"acquired_at"`
}

type Locker struct {
	dir        string
	staleAfter time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

type Option func(*Locker)

// Leases older than d are considered abandoned and are broken.
func WithStaleAfter(d time.Duration) Option {
	return func(l *Locker) {
		if d > 0 {
			l.staleAfter = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Locker) {
		l.now = now
	}
}

// New returns a locker keeping its lease files in root/.locks.
func New(root string, logger zerolog.Logger, opts ...Option) *Locker {
	l := &Locker{
		dir:        filepath.Join(root, Dir),
		staleAfter: DefaultStaleAfter,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type heldKey struct{}

func held(ctx context.Context) map[string]bool {
	if h, ok := ctx.Value(heldKey{}).(map[string]bool); ok {
		return h
	}
	return nil
}

// Held reports whether the context carries a lease on resource.
func Held(ctx context.Context, resource string) bool {
	return held(ctx)[resource]
}

type Lease struct {
	paths  []string
	logger zerolog.Logger
}

// Release removes the lease files. It is safe to call more than once.
func (l *Lease) Release() error {
	if l == nil {
		return nil
	}
	var errs []error
	for i := len(l.paths) - 1; i >= 0; i-- {
		if err := os.Remove(l.paths[i]); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	l.logger.Debug().Strs("leases", l.paths).Msg("released leases")
	l.paths = nil
	return errors.Join(errs...)
}

// Acquire takes a lease on each resource, in sorted order. Resources already
// held through ctx are skipped. The returned context carries every held
// resource so nested operations do not contend with their caller. If any
// resource is busy the leases taken so far are released and the error wraps
// faults.ErrLocked.
func (l *Locker) Acquire(ctx context.Context, resources ...string) (context.Context, *Lease, error) {
	lease := &Lease{logger: zerolog.Nop()}
	if l == nil {
		return ctx, lease, nil
	}
	lease.logger = l.logger

	sorted := slices.Clone(resources)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	already := held(ctx)
	next := make(map[string]bool, len(already)+len(sorted))
	for r := range already {
		next[r] = true
	}

	if err := os.MkdirAll(l.dir, 0o750); err != nil {
		return ctx, nil, fmt.Errorf("create lock directory: %w", err)
	}

	for _, r := range sorted {
		if already[r] {
			continue
		}
		path, err := l.acquireOne(r)
		if err != nil {
			_ = lease.Release()
			return ctx, nil, err
		}
		lease.paths = append(lease.paths, path)
		next[r] = true
	}

	if len(lease.paths) > 0 {
		l.logger.Debug().Strs("leases", lease.paths).Msg("acquired leases")
	}
	return context.WithValue(ctx, heldKey{}, next), lease, nil
}

func (l *Locker) acquireOne(resource string) (string, error) {
	path := filepath.Join(l.dir, resource+".lock")

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
		if err == nil {
			host, _ := os.Hostname()
			info := leaseInfo{PID: os.Getpid(), Host: host, AcquiredAt: l.now().UTC()}
			werr := json.NewEncoder(f).Encode(info)
			if err := errors.Join(werr, f.Close()); err != nil {
				_ = os.Remove(path)
				return "", fmt.Errorf("write lease %s: %w", path, err)
			}
			return path, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("create lease %s: %w", path, err)
		}

		info, stale := l.inspect(path)
		if !stale {
			return "", fmt.Errorf("%s is held by pid %d on %s since %s: %w",
				resource, info.PID, info.Host, info.AcquiredAt.Format(time.RFC3339), faults.ErrLocked)
		}
		l.logger.Warn().
			Str("resource", resource).
			Int("pid", info.PID).
			Str("host", info.Host).
			Time("acquired_at", info.AcquiredAt).
			Msg("breaking stale lease")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("break stale lease %s: %w", path, err)
		}
	}
	return "", fmt.Errorf("%s: %w", resource, faults.ErrLocked)
}

// inspect reads a lease file. Unreadable leases fall back to the file
// modification time.
func (l *Locker) inspect(path string) (leaseInfo, bool) {
	info := leaseInfo{}
	data, err := os.ReadFile(path)
	if err == nil {
		err = json.Unmarshal(data, &info)
	}
	if err != nil || info.AcquiredAt.IsZero() {
		st, serr := os.Stat(path)
		if serr != nil {
			// Gone in the meantime.
			return info, true
		}
		info.AcquiredAt = st.ModTime()
	}
	return info, l.now().Sub(info.AcquiredAt) > l.staleAfter
}
