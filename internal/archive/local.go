package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type localBackend struct{}

func (localBackend) open(ctx context.Context, name string) (io.ReadCloser, error) {
	return os.Open(name)
}

func (localBackend) list(ctx context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, filepath.Join(dir, e.Name()))
	}
	return names, nil
}

// localSink writes to a temporary file next to the destination and renames
// it into place on Commit.
type localSink struct {
	f    *os.File
	dest string
	done bool
}

func createLocal(dest string) (*localSink, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	return &localSink{f: f, dest: dest}, nil
}

func (s *localSink) Write(p []byte) (int, error) {
	if s.done {
		return 0, ErrFinished
	}
	return s.f.Write(p)
}

func (s *localSink) Commit() error {
	if s.done {
		return ErrFinished
	}
	s.done = true
	if err := s.f.Sync(); err != nil {
		s.discard()
		return fmt.Errorf("syncing %s: %w", s.dest, err)
	}
	if err := s.f.Close(); err != nil {
		os.Remove(s.f.Name())
		return fmt.Errorf("closing %s: %w", s.dest, err)
	}
	if err := os.Chmod(s.f.Name(), 0644); err != nil {
		os.Remove(s.f.Name())
		return fmt.Errorf("setting mode of %s: %w", s.dest, err)
	}
	if err := os.Rename(s.f.Name(), s.dest); err != nil {
		os.Remove(s.f.Name())
		return fmt.Errorf("publishing %s: %w", s.dest, err)
	}
	return nil
}

func (s *localSink) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.discard()
}

func (s *localSink) discard() error {
	s.f.Close()
	return os.Remove(s.f.Name())
}
