package archiver

import (
	"context"
	"io/fs"
	"os"
	"path"

	"github.com/rs/zerolog"

	"github.com/stupid-simple/intake-backup/asset"
)

// entry is one file or directory to be written to an archive.
type entry struct {
	name    string
	srcPath string
	info    fs.FileInfo
}

// walkRoots yields the directory entry of each directory root followed by
// its files, and the single file of each file root.
func walkRoots(ctx context.Context, roots []Root, logger zerolog.Logger, fn func(entry) error) error {
	for _, root := range roots {
		info, err := os.Stat(root.Path)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			if err := fn(entry{name: root.Name, srcPath: root.Path, info: info}); err != nil {
				return err
			}
			continue
		}

		if err := fn(entry{name: root.Name + "/", srcPath: root.Path, info: info}); err != nil {
			return err
		}

		opts := []asset.ScanOption{}
		if !root.ModifiedSince.IsZero() {
			opts = append(opts, asset.WithModifiedSince(root.ModifiedSince))
		}
		scanned, err := asset.ScanDirectory(ctx, root.Path, logger, opts...)
		if err != nil {
			return err
		}

		var walkErr error
		for a := range scanned {
			info, err := os.Stat(a.Path())
			if err != nil {
				walkErr = err
				break
			}
			if err := fn(entry{name: path.Join(root.Name, a.RelPath()), srcPath: a.Path(), info: info}); err != nil {
				walkErr = err
				break
			}
		}
		if walkErr != nil {
			return walkErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}
