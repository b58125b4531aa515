package asset

import (
	"io/fs"
	"time"

	"github.com/rs/zerolog"
)

// Asset is a regular file found while scanning a backup source.
type Asset interface {
	zerolog.LogObjectMarshaler
	Path() string    // absolute or source-relative path on disk
	RelPath() string // path relative to the scanned root, slash separated
	Name() string    // base name of the file
	Size() int64     // length in bytes
	ModTime() time.Time
	Mode() fs.FileMode
}
