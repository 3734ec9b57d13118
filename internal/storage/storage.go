// Package storage writes interview artifacts (recordings, proctoring
// snapshots, reports, cached speech) under a single root directory.
//
// Writes are collision-free by construction: callers either address a file
// by a unique id they own (session id, warning id) or ask for a random
// token in the name. Files are created with O_EXCL, so an overwrite attempt
// is an error rather than a silent replacement.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrExists is returned when a write would replace an existing file.
var ErrExists = errors.New("storage: file already exists")

// Store is a root-anchored artifact store.
type Store struct {
	root string
}

// New creates a Store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("storage: root must not be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string { return s.root }

// Path resolves rel against the root, rejecting traversal outside it.
func (s *Store) Path(rel string) (string, error) {
	clean := filepath.Clean("/" + rel)
	full := filepath.Join(s.root, clean)
	if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("storage: path %q escapes root", rel)
	}
	return full, nil
}

// Write stores data at rel. Fails with ErrExists if the file is already
// present.
func (s *Store) Write(rel string, data []byte) (string, error) {
	full, err := s.Path(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("storage: create dir: %w", err)
	}

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return "", fmt.Errorf("%w: %s", ErrExists, rel)
		}
		return "", fmt.Errorf("storage: create %s: %w", rel, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(full)
		return "", fmt.Errorf("storage: write %s: %w", rel, err)
	}
	return full, nil
}

// WriteUnique stores data in dir under a name carrying a random token, so
// concurrent writers of the same logical artifact never collide. Returns
// the relative path of the created file.
func (s *Store) WriteUnique(dir, prefix, ext string, data []byte) (string, error) {
	rel := filepath.Join(dir, prefix+"-"+uuid.NewString()+ext)
	if _, err := s.Write(rel, data); err != nil {
		return "", err
	}
	return rel, nil
}

// Append appends data to rel, creating the file if missing. Used by the
// chunked recording upload where one uploader owns the file.
func (s *Store) Append(rel string, data []byte) error {
	full, err := s.Path(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("storage: create dir: %w", err)
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("storage: open %s: %w", rel, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("storage: append %s: %w", rel, err)
	}
	return nil
}

// Open opens rel for reading.
func (s *Store) Open(rel string) (io.ReadCloser, error) {
	full, err := s.Path(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", rel, err)
	}
	return f, nil
}

// Remove deletes rel. Removing a missing file is not an error.
func (s *Store) Remove(rel string) error {
	full, err := s.Path(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: remove %s: %w", rel, err)
	}
	return nil
}

// Exists reports whether rel is present.
func (s *Store) Exists(rel string) bool {
	full, err := s.Path(rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}
