package archiver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Memory keeps archive contents in memory. Create still writes a small marker
// file at the destination so that the archive exists on disk.
type Memory struct {
	mu       sync.Mutex
	archives map[string]map[string][]byte

	// Returned by Create or Extract when set.
	CreateErr  error
	ExtractErr error
}

func NewMemory() *Memory {
	return &Memory{archives: make(map[string]map[string][]byte)}
}

func (m *Memory) Ext() string {
	return ".mem"
}

func (m *Memory) Create(ctx context.Context, destPath string, roots ...Root) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if err := validateRoots(roots); err != nil {
		return err
	}

	contents := map[string][]byte{}
	err := walkRoots(ctx, roots, zerolog.Nop(), func(e entry) error {
		if e.info.IsDir() {
			contents[e.name] = nil
			return nil
		}
		data, err := os.ReadFile(e.srcPath)
		if err != nil {
			return err
		}
		contents[e.name] = data
		return nil
	})
	if err != nil {
		return err
	}

	marker := fmt.Sprintf("memory archive, %d entries\n", len(contents))
	if err := os.WriteFile(destPath, []byte(marker), 0o640); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.archives[destPath] = contents
	return nil
}

func (m *Memory) Extract(ctx context.Context, archivePath string, destDir string) error {
	if m.ExtractErr != nil {
		return m.ExtractErr
	}
	if _, err := os.Stat(archivePath); err != nil {
		return fmt.Errorf("could not open archive: %w", err)
	}

	m.mu.Lock()
	contents, ok := m.archives[archivePath]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown memory archive %s", archivePath)
	}

	for _, name := range sortedNames(contents) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		destPath, err := safeJoin(destDir, name)
		if err != nil {
			return err
		}
		data := contents[name]
		if data == nil && name[len(name)-1] == '/' {
			if err := mkdirAll(destPath); err != nil {
				return err
			}
			continue
		}
		if err := writeFile(destPath, bytes.NewReader(data), 0o640, time.Time{}); err != nil {
			return err
		}
	}
	return nil
}

// Entries returns the names stored in the archive at path.
func (m *Memory) Entries(path string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedNames(m.archives[path])
}

func sortedNames(contents map[string][]byte) []string {
	names := make([]string, 0, len(contents))
	for name := range contents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
