package asset

import (
	"errors"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

var ErrNotRegular = errors.New("not a regular file")

// NewFromFS returns the asset for path, found below root.
func NewFromFS(root, path string, info fs.FileInfo) (Asset, error) {
	if !info.Mode().IsRegular() {
		return nil, ErrNotRegular
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return nil, err
	}

	return &fsAsset{
		path: path,
		rel:  filepath.ToSlash(rel),
		info: info,
	}, nil
}

type fsAsset struct {
	path string
	rel  string
	info fs.FileInfo
}

func (a *fsAsset) Path() string       { return a.path }
func (a *fsAsset) RelPath() string    { return a.rel }
func (a *fsAsset) Name() string       { return a.info.Name() }
func (a *fsAsset) Size() int64        { return a.info.Size() }
func (a *fsAsset) ModTime() time.Time { return a.info.ModTime() }
func (a *fsAsset) Mode() fs.FileMode  { return a.info.Mode() }

func (a *fsAsset) MarshalZerologObject(e *zerolog.Event) {
	e.Str("rel", a.rel).
		Int64("size", a.info.Size()).
		Time("mod_time", a.info.ModTime())
}
