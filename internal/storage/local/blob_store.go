// Package local keeps run snapshots as files under a root directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Config selects the snapshot directory.
type Config struct {
	BaseDir string `mapstructure:"base_dir"`
}

// BlobStore writes snapshots below root. Each write lands in a temp file in
// the target directory and is renamed into place, so a reader sees either the
// previous snapshot or the new one.
type BlobStore struct {
	root string
}

// New prepares cfg.BaseDir, creating it if needed, and checks that snapshots
// can be written there.
func New(cfg Config) (*BlobStore, error) {
	base := strings.TrimSpace(cfg.BaseDir)
	if base == "" {
		return nil, errors.New("storage.local.base_dir is required")
	}
	root, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolve snapshot dir %q: %w", base, err)
	}
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("snapshot dir %q is not a directory", root)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}

	probe, err := os.CreateTemp(root, ".snapshot-*")
	if err != nil {
		return nil, fmt.Errorf("snapshot dir %q is not writable: %w", root, err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("remove write probe: %w", err)
	}
	return &BlobStore{root: root}, nil
}

// PutObject stores data at name, relative to the snapshot dir, and returns
// its file:// URI. Names that escape the directory are rejected.
func (s *BlobStore) PutObject(_ context.Context, name, _ string, data io.Reader) (string, error) {
	target, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create snapshot subdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*")
	if err != nil {
		return "", fmt.Errorf("create temp snapshot: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := io.Copy(tmp, data); err != nil {
		return "", fmt.Errorf("write snapshot %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync snapshot %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close snapshot %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("publish snapshot %s: %w", name, err)
	}
	committed = true

	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(target)}).String(), nil
}

func (s *BlobStore) resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("snapshot name is required")
	}
	rel := filepath.FromSlash(strings.TrimPrefix(name, "/"))
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("snapshot name %q escapes the snapshot dir", name)
	}
	return filepath.Join(s.root, rel), nil
}
