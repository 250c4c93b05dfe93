package adapter

import (
	"context"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/option"
)

// Storage keeps exported conversation transcripts
type Storage interface {
	// Put returns a writer for the transcript object. Closing the writer commits it.
	Put(ctx context.Context, key string) (io.WriteCloser, error)
	// Get opens a previously exported transcript
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

type CloudStorage struct {
	bucket string
	prefix string
	client *storage.Client
}

var _ Storage = (*CloudStorage)(nil)

type StorageOption func(*CloudStorage)

// WithPrefix places every object under the given prefix in the bucket
func WithPrefix(prefix string) StorageOption {
	return func(s *CloudStorage) {
		s.prefix = prefix
	}
}

// NewStorage creates a Cloud Storage client for transcript export
func NewStorage(ctx context.Context, bucket string, clientOpts []option.ClientOption, opts ...StorageOption) (*CloudStorage, error) {
	if bucket == "" {
		return nil, goerr.New("bucket name is required")
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client", goerr.V("bucket", bucket))
	}

	s := &CloudStorage{
		bucket: bucket,
		client: client,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *CloudStorage) objectName(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func (s *CloudStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	if key == "" {
		return nil, goerr.New("object key is required")
	}
	w := s.client.Bucket(s.bucket).Object(s.objectName(key)).NewWriter(ctx)
	w.ContentType = "application/x-ndjson"
	return w, nil
}

func (s *CloudStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	name := s.objectName(key)
	reader, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read from storage",
			goerr.V("bucket", s.bucket),
			goerr.V("object", name))
	}
	return reader, nil
}

func (s *CloudStorage) Close() error {
	if err := s.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close storage client")
	}
	return nil
}
