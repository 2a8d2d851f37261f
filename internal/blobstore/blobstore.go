// Package blobstore keeps photo bytes on a go-billy filesystem.
package blobstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/memfs"
	"github.com/go-git/go-billy/v6/osfs"
)

// Dir is the directory every photo blob lives in.
const Dir = "photos"

// Store reads and writes photo bytes by source uri.
type Store struct {
	fs billy.Filesystem
}

// New wraps an existing filesystem.
func New(fs billy.Filesystem) *Store {
	return &Store{fs: fs}
}

// NewOS stores blobs below root on the local disk.
func NewOS(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("while creating photos dir '%s': %w", root, err)
	}
	return New(osfs.New(root)), nil
}

// NewMemory keeps blobs in memory, mostly for tests.
func NewMemory() *Store {
	return New(memfs.New())
}

// URI returns the source uri of a blob name.
func URI(name string) string {
	return path.Join(Dir, name)
}

func checkURI(uri string) error {
	clean := path.Clean(uri)
	if clean != uri || !strings.HasPrefix(uri, Dir+"/") || strings.Contains(uri[len(Dir)+1:], "/") {
		return fmt.Errorf("invalid blob uri %q", uri)
	}
	return nil
}

// Write streams r into a temporary file and renames it to uri once fully
// written, so a reader never observes a partial blob.
func (s *Store) Write(uri string, r io.Reader) (int64, error) {
	if err := checkURI(uri); err != nil {
		return 0, err
	}
	if err := s.fs.MkdirAll(Dir, 0o755); err != nil {
		return 0, err
	}
	tmp, err := s.fs.TempFile(Dir, ".incoming-")
	if err != nil {
		return 0, fmt.Errorf("while creating temp blob: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		s.fs.Remove(tmp.Name())
		return 0, fmt.Errorf("while writing blob %s: %w", uri, err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmp.Name())
		return 0, err
	}
	if err := s.fs.Rename(tmp.Name(), uri); err != nil {
		s.fs.Remove(tmp.Name())
		return 0, fmt.Errorf("while publishing blob %s: %w", uri, err)
	}
	return n, nil
}

// Open returns a reader for the blob at uri.
func (s *Store) Open(uri string) (io.ReadCloser, error) {
	if err := checkURI(uri); err != nil {
		return nil, err
	}
	return s.fs.Open(uri)
}

// Exists reports whether a blob is present.
func (s *Store) Exists(uri string) (bool, error) {
	if err := checkURI(uri); err != nil {
		return false, err
	}
	_, err := s.fs.Stat(uri)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Remove releases the bytes of a blob. Removing a missing blob is not an error.
func (s *Store) Remove(uri string) error {
	if err := checkURI(uri); err != nil {
		return err
	}
	err := s.fs.Remove(uri)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("while removing blob %s: %w", uri, err)
	}
	return nil
}

// List returns the uri of every blob currently stored.
func (s *Store) List() ([]string, error) {
	entries, err := s.fs.ReadDir(Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var uris []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".incoming-") {
			continue
		}
		uris = append(uris, URI(e.Name()))
	}
	return uris, nil
}
