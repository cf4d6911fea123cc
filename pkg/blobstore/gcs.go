package blobstore

import (
	"context"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/cyclopcam/logs"
)

// GCS is a Google Cloud Storage-based blob store.
// Credentials come from the environment (GOOGLE_APPLICATION_CREDENTIALS or the metadata server).
type GCS struct {
	bucketName string
	prefix     string
	client     *gcs.Client
	bucket     *gcs.BucketHandle
	isPublic   bool
	log        logs.Log
}

// NewGCS creates a store that puts every blob under 'prefix' inside 'bucketName'
func NewGCS(ctx context.Context, log logs.Log, bucketName, prefix string, isPublic bool) (*GCS, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GCS{
		bucketName: bucketName,
		prefix:     prefix,
		client:     client,
		bucket:     client.Bucket(bucketName),
		isPublic:   isPublic,
		log:        log,
	}, nil
}

func (s *GCS) Close() error {
	return s.client.Close()
}

func (s *GCS) objectName(name string) string {
	return s.prefix + name
}

func (s *GCS) Writer(ctx context.Context, name string) (io.WriteCloser, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	w := s.bucket.Object(s.objectName(name)).NewWriter(ctx)
	w.ContentType = contentType(name)
	return w, nil
}

func (s *GCS) Reader(ctx context.Context, name string) (*Blob, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	r, err := s.bucket.Object(s.objectName(name)).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	return &Blob{
		Reader:     r,
		ModifiedAt: r.Attrs.LastModified,
		Size:       r.Attrs.Size,
	}, nil
}

func (s *GCS) Delete(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	return s.bucket.Object(s.objectName(name)).Delete(ctx)
}

func (s *GCS) URL(name string) (string, error) {
	if !s.isPublic {
		// We could also use signed URLs, but I haven't bothered with that yet
		return "", ErrNoPublicURL
	}
	return "https://storage.googleapis.com/" + s.bucketName + "/" + s.objectName(name), nil
}

func contentType(name string) string {
	if strings.HasSuffix(name, ".jpg") {
		return "image/jpeg"
	}
	return "application/octet-stream"
}
