package archiver_test

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupid-simple/intake-backup/archiver"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		require.NoError(t, err)
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		require.NoError(t, err)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func archivers(t *testing.T) map[string]archiver.Archiver {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	return map[string]archiver.Archiver{
		"tar.gz": archiver.NewTarGz(logger),
		"zip":    archiver.NewZip(logger),
		"memory": archiver.NewMemory(),
	}
}

func TestArchiver_RoundTrip(t *testing.T) {
	for name, a := range archivers(t) {
		t.Run(name, func(t *testing.T) {
			src := t.TempDir()
			uploads := filepath.Join(src, "uploads")
			writeTree(t, uploads, map[string]string{
				"complaint-1/report.pdf": "%PDF-1.4 evidence",
				"complaint-2/photo.jpg":  "\xff\xd8\xff binary",
				"readme.txt":             "",
			})
			dump := filepath.Join(src, "dump.sql")
			require.NoError(t, os.WriteFile(dump, []byte("CREATE TABLE t (id INTEGER);\n"), 0o640))

			dest := filepath.Join(t.TempDir(), "full"+a.Ext())
			err := a.Create(context.Background(), dest,
				archiver.Root{Name: "database.sql", Path: dump},
				archiver.Root{Name: "uploads", Path: uploads},
			)
			require.NoError(t, err)
			assert.FileExists(t, dest)

			out := t.TempDir()
			require.NoError(t, a.Extract(context.Background(), dest, out))

			assert.Equal(t, map[string]string{
				"database.sql":                   "CREATE TABLE t (id INTEGER);\n",
				"uploads/complaint-1/report.pdf": "%PDF-1.4 evidence",
				"uploads/complaint-2/photo.jpg":  "\xff\xd8\xff binary",
				"uploads/readme.txt":             "",
			}, readTree(t, out))
		})
	}
}

func TestArchiver_EmptyDirectoryRoot(t *testing.T) {
	for name, a := range archivers(t) {
		t.Run(name, func(t *testing.T) {
			empty := t.TempDir()
			dest := filepath.Join(t.TempDir(), "empty"+a.Ext())
			require.NoError(t, a.Create(context.Background(), dest, archiver.Root{Name: "uploads", Path: empty}))

			out := t.TempDir()
			require.NoError(t, a.Extract(context.Background(), dest, out))
			assert.DirExists(t, filepath.Join(out, "uploads"))
		})
	}
}

func TestArchiver_ModifiedSince(t *testing.T) {
	a := archiver.NewTarGz(zerolog.Nop())
	logs := t.TempDir()
	writeTree(t, logs, map[string]string{"old.log": "old", "new.log": "new"})
	old := time.Now().Add(-60 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(logs, "old.log"), old, old))

	dest := filepath.Join(t.TempDir(), "logs.tar.gz")
	require.NoError(t, a.Create(context.Background(), dest, archiver.Root{
		Name:          "logs",
		Path:          logs,
		ModifiedSince: time.Now().Add(-7 * 24 * time.Hour),
	}))

	out := t.TempDir()
	require.NoError(t, a.Extract(context.Background(), dest, out))
	assert.Equal(t, map[string]string{"logs/new.log": "new"}, readTree(t, out))
}

func TestArchiver_InvalidRoots(t *testing.T) {
	a := archiver.NewTarGz(zerolog.Nop())
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.tar.gz")

	assert.Error(t, a.Create(context.Background(), dest))
	assert.Error(t, a.Create(context.Background(), dest, archiver.Root{Name: "../escape", Path: dir}))
	assert.Error(t, a.Create(context.Background(), dest,
		archiver.Root{Name: "same", Path: dir},
		archiver.Root{Name: "same", Path: dir},
	))
	assert.Error(t, a.Create(context.Background(), dest, archiver.Root{Name: "missing", Path: filepath.Join(dir, "missing")}))
	assert.NoFileExists(t, dest)
}

func TestArchiver_RefusesExistingDestination(t *testing.T) {
	for _, a := range []archiver.Archiver{archiver.NewTarGz(zerolog.Nop()), archiver.NewZip(zerolog.Nop())} {
		src := t.TempDir()
		dest := filepath.Join(t.TempDir(), "taken"+a.Ext())
		require.NoError(t, os.WriteFile(dest, []byte("keep me"), 0o640))

		err := a.Create(context.Background(), dest, archiver.Root{Name: "uploads", Path: src})
		assert.Error(t, err, a.Ext())

		data, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, "keep me", string(data), a.Ext())
	}
}

func TestTarGz_ExtractRejectsTraversal(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "evil.tar.gz")
	f, err := os.Create(dest)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	content := []byte("owned")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "../../etc/evil",
		Mode:     0o644,
		Size:     int64(len(content)),
		Typeflag: tar.TypeReg,
	}))
	_, err = tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	out := t.TempDir()
	err = archiver.NewTarGz(zerolog.Nop()).Extract(context.Background(), dest, out)
	assert.ErrorContains(t, err, "invalid file path")
}

func TestForPath(t *testing.T) {
	fallback := archiver.NewMemory()
	logger := zerolog.Nop()

	assert.IsType(t, &archiver.TarGz{}, archiver.ForPath("/b/full.tar.gz", fallback, logger))
	assert.IsType(t, &archiver.TarGz{}, archiver.ForPath("/b/full.TGZ", fallback, logger))
	assert.IsType(t, &archiver.Zip{}, archiver.ForPath("/b/files.zip", fallback, logger))
	assert.Same(t, fallback, archiver.ForPath("/b/files.mem", fallback, logger))
	assert.Same(t, fallback, archiver.ForPath("/b/database.sql.zst", fallback, logger))
}

func TestNew(t *testing.T) {
	a, err := archiver.New(archiver.FormatZip, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, ".zip", a.Ext())

	a, err = archiver.New("", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, ".tar.gz", a.Ext())

	_, err = archiver.New("rar", zerolog.Nop())
	assert.Error(t, err)
}

func TestCompressFile_OpenPayload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "database.sql")
	payload := "INSERT INTO complaint VALUES (1, 'it''s urgent');\n"
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o640))

	compressed, err := archiver.CompressFile(path)
	require.NoError(t, err)
	assert.Equal(t, path+archiver.ZstdExt, compressed)
	assert.NoFileExists(t, path)

	rc, err := archiver.OpenPayload(compressed)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, payload, string(data))

	plain := filepath.Join(dir, "plain.sql")
	require.NoError(t, os.WriteFile(plain, []byte(payload), 0o640))
	rc, err = archiver.OpenPayload(plain)
	require.NoError(t, err)
	data, err = io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, payload, string(data))
}

func TestMemory_Failures(t *testing.T) {
	m := archiver.NewMemory()
	m.CreateErr = assert.AnError
	err := m.Create(context.Background(), filepath.Join(t.TempDir(), "x.mem"), archiver.Root{Name: "a", Path: t.TempDir()})
	assert.ErrorIs(t, err, assert.AnError)

	m = archiver.NewMemory()
	err = m.Extract(context.Background(), filepath.Join(t.TempDir(), "missing.mem"), t.TempDir())
	assert.Error(t, err)
}
