// Package blobstore is an abstraction of a blob store, with filesystem and Google Cloud
// Storage implementations.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var ErrNoPublicURL = errors.New("Blob has no public URL")
var ErrInvalidName = errors.New("Invalid blob name")

// Store is an abstraction of a blob store (eg GCS)
type Store interface {
	// When finished, you must close the WriteCloser.
	// The blob is only guaranteed to exist once Close returns without error.
	Writer(ctx context.Context, name string) (io.WriteCloser, error)

	// When finished, you must close Blob.Reader
	Reader(ctx context.Context, name string) (*Blob, error)

	Delete(ctx context.Context, name string) error

	// URL returns a public URL of the blob, or ErrNoPublicURL
	URL(name string) (string, error)
}

// Blob is an element in blob storage
type Blob struct {
	Reader     io.ReadCloser
	ModifiedAt time.Time
	Size       int64
}

func validateName(name string) error {
	if name == "" || strings.Contains(name, "..") || strings.HasPrefix(name, "/") {
		return fmt.Errorf("%w '%v'", ErrInvalidName, name)
	}
	return nil
}

// Put writes 'content' into the blob 'name'
func Put(ctx context.Context, s Store, name string, content []byte) error {
	w, err := s.Writer(ctx, name)
	if err != nil {
		return err
	}
	_, err = w.Write(content)
	errClose := w.Close()
	if err != nil {
		return err
	}
	return errClose
}

// Get reads the entire blob 'name'
func Get(ctx context.Context, s Store, name string) ([]byte, error) {
	b, err := s.Reader(ctx, name)
	if err != nil {
		return nil, err
	}
	defer b.Reader.Close()
	return io.ReadAll(b.Reader)
}
