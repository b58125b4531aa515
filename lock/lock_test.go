package lock_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stupid-simple/intake-backup/faults"
	"github.com/stupid-simple/intake-backup/lock"
)

func TestLocker_Exclusive(t *testing.T) {
	root := t.TempDir()
	first := lock.New(root, zerolog.New(zerolog.NewTestWriter(t)))
	second := lock.New(root, zerolog.New(zerolog.NewTestWriter(t)))

	ctx, lease, err := first.Acquire(context.Background(), "files", "database")
	require.NoError(t, err)
	assert.True(t, lock.Held(ctx, "database"))
	assert.True(t, lock.Held(ctx, "files"))
	assert.FileExists(t, filepath.Join(root, lock.Dir, "database.lock"))

	_, _, err = second.Acquire(context.Background(), "database")
	assert.ErrorIs(t, err, faults.ErrLocked)

	// A busy resource releases what was taken before it.
	_, _, err = second.Acquire(context.Background(), "config", "files")
	assert.ErrorIs(t, err, faults.ErrLocked)
	assert.NoFileExists(t, filepath.Join(root, lock.Dir, "config.lock"))

	require.NoError(t, lease.Release())
	require.NoError(t, lease.Release())

	_, lease, err = second.Acquire(context.Background(), "database")
	require.NoError(t, err)
	require.NoError(t, lease.Release())
}

func TestLocker_Reentrant(t *testing.T) {
	root := t.TempDir()
	l := lock.New(root, zerolog.Nop())

	ctx, outer, err := l.Acquire(context.Background(), "config", "database", "files")
	require.NoError(t, err)
	defer outer.Release()

	inner, innerLease, err := l.Acquire(ctx, "database")
	require.NoError(t, err)
	assert.True(t, lock.Held(inner, "files"))
	require.NoError(t, innerLease.Release())

	// Releasing the nested lease keeps the outer lease intact.
	assert.FileExists(t, filepath.Join(root, lock.Dir, "database.lock"))
	_, _, err = lock.New(root, zerolog.Nop()).Acquire(context.Background(), "database")
	assert.ErrorIs(t, err, faults.ErrLocked)
}

func TestLocker_BreaksStaleLease(t *testing.T) {
	root := t.TempDir()
	past := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, _, err := lock.New(root, zerolog.Nop(), lock.WithClock(func() time.Time { return past })).
		Acquire(context.Background(), "files")
	require.NoError(t, err)

	fresh := lock.New(root, zerolog.Nop(), lock.WithStaleAfter(time.Hour),
		lock.WithClock(func() time.Time { return past.Add(30 * time.Minute) }))
	_, _, err = fresh.Acquire(context.Background(), "files")
	assert.ErrorIs(t, err, faults.ErrLocked)

	later := lock.New(root, zerolog.Nop(), lock.WithStaleAfter(time.Hour),
		lock.WithClock(func() time.Time { return past.Add(2 * time.Hour) }))
	_, lease, err := later.Acquire(context.Background(), "files")
	require.NoError(t, err)
	require.NoError(t, lease.Release())
}

func TestLocker_UnreadableLeaseUsesModTime(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, lock.Dir)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	path := filepath.Join(dir, "config.lock")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o640))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	_, lease, err := lock.New(root, zerolog.Nop()).Acquire(context.Background(), "config")
	require.NoError(t, err)
	require.NoError(t, lease.Release())
}

func TestLocker_Nil(t *testing.T) {
	var l *lock.Locker
	ctx := context.Background()
	got, lease, err := l.Acquire(ctx, "database")
	require.NoError(t, err)
	assert.Equal(t, ctx, got)
	assert.NoError(t, lease.Release())
}
