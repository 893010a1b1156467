package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MimeLyc/rulebook-translator/pkg/file"
	"github.com/MimeLyc/rulebook-translator/pkg/log"
)

// Mirror copies finished artifacts to secondary storage.
type Mirror interface {
	Put(ctx context.Context, key string, data []byte) error
}

// LocalStore writes artifacts under one output directory.
type LocalStore struct {
	dir    string
	mirror Mirror
}

type Option func(*LocalStore)

func WithMirror(m Mirror) Option {
	return func(s *LocalStore) {
		s.mirror = m
	}
}

func NewLocalStore(dir string, opts ...Option) *LocalStore {
	s := &LocalStore{dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save renders and writes the artifact atomically, replacing any previous
// version, and returns its path. A mirror failure is logged only.
func (s *LocalStore) Save(ctx context.Context, meta Meta, vietnamese, english string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	name := FileName(meta)
	path := filepath.Join(s.dir, name)
	data := Render(meta, vietnamese, english)
	if err := file.WriteAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	log.Info("Saved rulebook markdown %s", path)

	if s.mirror != nil {
		key := fmt.Sprintf("%d/%s", meta.BGGID, name)
		if err := s.mirror.Put(ctx, key, data); err != nil {
			log.Warn("Failed to mirror %s: %v", key, err)
		}
	}
	return path, nil
}
