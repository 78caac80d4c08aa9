// Package reader replays recorded venue data. Records are read from a Source
// (a local directory or an S3 prefix) laid out as <venue>/<stream>.<ext>.
package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
)

// ErrNotFound is returned by a Source when the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// Source opens recorded objects by slash-separated key.
type Source interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Name() string
}

// DirSource reads objects from a local directory tree.
type DirSource struct {
	Root string
}

func NewDirSource(root string) *DirSource {
	return &DirSource{Root: root}
}

func (d *DirSource) Name() string { return "dir:" + d.Root }

func (d *DirSource) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(d.Root, filepath.FromSlash(key)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, err
	}
	return f, nil
}

// ObjectKey builds the key of a venue stream object.
func ObjectKey(venue string, stream Stream, ext string) string {
	return path.Join(venue, string(stream)+"."+ext)
}
