// Package local implements a filesystem-backed key/value store: one file per
// key under a per-profile directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the root directory where profiles are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// Profile scopes keys so several identities can share one BaseDir.
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// Store writes client state to the local filesystem.
type Store struct {
	dir string
}

// New creates a new local filesystem-backed store, creating and probing the
// profile directory for write access.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	profile := cfg.Profile
	if profile == "" {
		profile = "default"
	}
	if strings.ContainsAny(profile, `/\`) || profile == "." || profile == ".." {
		return nil, fmt.Errorf("invalid profile name %q", profile)
	}
	if info, err := os.Stat(cfg.BaseDir); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	dir := filepath.Join(cfg.BaseDir, profile)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}

	testFile := filepath.Join(dir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("profile directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Store{dir: dir}, nil
}

// Dir reports the profile directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}

// Get reads the file for key.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return "", false, err
	}
	// #nosec G304 -- path is confined to the profile directory by pathFor.
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return string(data), true, nil
}

// Set writes value atomically via a temp file and rename.
func (s *Store) Set(_ context.Context, key, value string) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-"+key+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("commit %s: %w", key, err)
	}
	return nil
}

// Delete removes the file for key; missing keys are not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) pathFor(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	fullPath := filepath.Join(s.dir, key)

	// Clean the path and verify it's within the profile dir to prevent path traversal.
	cleanDir := filepath.Clean(s.dir)
	cleanFullPath := filepath.Clean(fullPath)
	if !strings.HasPrefix(cleanFullPath, cleanDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	if filepath.Dir(cleanFullPath) != cleanDir {
		return "", fmt.Errorf("nested keys are not supported")
	}
	return cleanFullPath, nil
}
