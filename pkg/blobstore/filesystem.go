package blobstore

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cyclopcam/logs"
)

// FS stores blobs as files under Root. Blob names map directly to relative paths.
type FS struct {
	Root string
	log  logs.Log
}

func NewFS(log logs.Log, root string) (*FS, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, fmt.Errorf("Failed to create blob root %v: %w", absRoot, err)
	}
	return &FS{
		Root: absRoot,
		log:  logs.NewPrefixLogger(log, "BlobFS"),
	}, nil
}

func (s *FS) path(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.Root, filepath.FromSlash(name)), nil
}

// Writer writes into a temporary file, which is renamed into place by Close.
// Readers never see a partially written blob.
func (s *FS) Writer(ctx context.Context, name string) (io.WriteCloser, error) {
	target, err := s.path(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".blob-*")
	if err != nil {
		return nil, err
	}
	return &fsWriter{File: tmp, target: target}, nil
}

type fsWriter struct {
	*os.File
	target string
}

func (w *fsWriter) Close() error {
	tmpName := w.File.Name()
	if err := w.File.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, w.target); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *FS) Reader(ctx context.Context, name string) (*Blob, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	st, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &Blob{
		Reader:     file,
		ModifiedAt: st.ModTime(),
		Size:       st.Size(),
	}, nil
}

// Delete removes the blob, and then any directories that it leaves empty
func (s *FS) Delete(ctx context.Context, name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return err
	}
	for dir := filepath.Dir(p); dir != s.Root && len(dir) > len(s.Root); dir = filepath.Dir(dir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) != 0 {
			break
		}
		if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
			s.log.Warnf("Failed to remove empty directory %v: %v", dir, err)
			break
		}
	}
	return nil
}

func (s *FS) URL(name string) (string, error) {
	return "", ErrNoPublicURL
}

// List returns the names of all blobs, in lexical order
func (s *FS) List() ([]string, error) {
	names := []string{}
	err := filepath.WalkDir(s.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Base(p)[0] == '.' {
			return nil
		}
		rel, err := filepath.Rel(s.Root, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	return names, err
}
