// Package filestore implements the content-addressed file store: uploaded
// bytes are named by their hex SHA-256 digest, renamed into place from a temp
// file in the same directory, and then fsynced along with that directory.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/opsbridge/msigbridge/pkg/hashutil"
)

// ErrNotFound is returned by Open when no file exists for the given file_id.
var ErrNotFound = errors.New("file not found")

// Store is a directory of content-addressed files.
type Store struct {
	dir string
}

// New ensures dir exists and returns a Store rooted at it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create files dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Path returns the on-disk path for fileID, whether or not it exists yet.
func (s *Store) Path(fileID string) string {
	return filepath.Join(s.dir, fileID)
}

// NewTempFile opens a fresh temp file under the store's directory for a
// caller to stream upload bytes into before calling Store.
func (s *Store) NewTempFile() (*os.File, error) {
	return os.CreateTemp(s.dir, ".upload-*")
}

// Store computes the SHA-256 of tempPath's bytes, dedups against an existing
// file of the same id, and otherwise renames tempPath into place, fsyncing
// the file and the containing directory before returning.
func (s *Store) Store(tempPath string) (fileID string, err error) {
	fileID, err = hashutil.HashFile(tempPath)
	if err != nil {
		return "", fmt.Errorf("hash temp file: %w", err)
	}

	finalPath := s.Path(fileID)
	if _, statErr := os.Stat(finalPath); statErr == nil {
		// Already present: dedup, discard the temp copy.
		os.Remove(tempPath)
		return fileID, nil
	}

	if err := s.commit(tempPath, finalPath); err != nil {
		return "", err
	}
	return fileID, nil
}

func (s *Store) commit(tempPath, finalPath string) error {
	if err := os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}

	f, err := os.Open(finalPath)
	if err != nil {
		return fmt.Errorf("reopen committed file: %w", err)
	}
	syncErr := f.Sync()
	f.Close()
	if syncErr != nil {
		return fmt.Errorf("fsync file: %w", syncErr)
	}

	dir, err := os.Open(s.dir)
	if err != nil {
		return fmt.Errorf("open parent dir: %w", err)
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		return fmt.Errorf("fsync parent dir: %w", err)
	}
	return nil
}

// Open opens fileID for streaming read, returning its size alongside the reader.
func (s *Store) Open(fileID string) (io.ReadCloser, int64, error) {
	path := s.Path(fileID)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}

	return f, info.Size(), nil
}

// Size stats fileID without opening a read handle, used when building an
// operation view that only needs file sizes.
func (s *Store) Size(fileID string) (int64, error) {
	info, err := os.Stat(s.Path(fileID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return info.Size(), nil
}
