package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

type gcsBackend struct {
	bucket *storage.BucketHandle
}

func (a *Archive) gcs(ctx context.Context, bucket string) (*gcsBackend, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gcsClient == nil {
		client, err := storage.NewClient(ctx, a.gcsOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating GCS client: %w", err)
		}
		a.gcsClient = client
		a.ownsGCS = true
	}
	return &gcsBackend{bucket: a.gcsClient.Bucket(bucket)}, nil
}

func (g *gcsBackend) open(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := g.bucket.Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoObjects, name)
	}
	return r, err
}

func (g *gcsBackend) list(ctx context.Context, prefix string) ([]string, error) {
	it := g.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing objects: %w", err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

// gcsSink streams to an object writer. The object only exists once the
// writer is closed; cancelling its context abandons the upload.
type gcsSink struct {
	w      *storage.Writer
	cancel context.CancelFunc
	done   bool
}

func (g *gcsBackend) create(ctx context.Context, name string) *gcsSink {
	ctx, cancel := context.WithCancel(ctx)
	return &gcsSink{w: g.bucket.Object(name).NewWriter(ctx), cancel: cancel}
}

func (s *gcsSink) Write(p []byte) (int, error) {
	if s.done {
		return 0, ErrFinished
	}
	return s.w.Write(p)
}

func (s *gcsSink) Commit() error {
	if s.done {
		return ErrFinished
	}
	s.done = true
	defer s.cancel()
	if err := s.w.Close(); err != nil {
		return fmt.Errorf("uploading object: %w", err)
	}
	return nil
}

func (s *gcsSink) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	s.cancel()
	// Close reports the cancellation; the object is not created.
	s.w.Close()
	return nil
}
