// Package artifact stores the synthesized audio artifact on the local filesystem.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/story-service/internal/audio"
	"github.com/book-expert/story-service/internal/core"
	"github.com/gofrs/flock"
)

const (
	filePermissions = 0o600
	dirPermissions  = 0o750
	lockSuffix      = ".lock"
	lockRetryDelay  = 50 * time.Millisecond
)

// ErrPathEmpty indicates that no artifact path was provided.
var ErrPathEmpty = errors.New("artifact path cannot be empty")

// FileStore writes the artifact to one fixed path. Each Save replaces the
// file through a rename, so readers never see a partially written or
// appended artifact. A sibling lock file serializes writers across processes.
type FileStore struct {
	path string
	lock *flock.Flock
}

// NewFileStore creates a store for the given artifact path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, ErrPathEmpty
	}

	return &FileStore{
		path: path,
		lock: flock.New(path + lockSuffix),
	}, nil
}

// Path returns the artifact location.
func (s *FileStore) Path() string {
	return s.path
}

// Save replaces the artifact with data.
func (s *FileStore) Save(ctx context.Context, data []byte) (core.Artifact, error) {
	if len(data) == 0 {
		return core.Artifact{}, core.ErrArtifactEmpty
	}

	dirErr := os.MkdirAll(filepath.Dir(s.path), dirPermissions)
	if dirErr != nil {
		return core.Artifact{}, fmt.Errorf("failed to create artifact directory: %w", dirErr)
	}

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return core.Artifact{}, fmt.Errorf("failed to acquire artifact lock: %w", err)
	}

	if !locked {
		return core.Artifact{}, fmt.Errorf("failed to acquire artifact lock %s", s.lock.Path())
	}

	defer func() {
		_ = s.lock.Unlock()
	}()

	err = s.replace(data)
	if err != nil {
		return core.Artifact{}, err
	}

	return core.Artifact{
		Location: s.path,
		Format:   string(audio.DetectFormat(data)),
		Size:     len(data),
	}, nil
}

// Load reads the current artifact.
func (s *FileStore) Load() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact '%s': %w", s.path, err)
	}

	return data, nil
}

func (s *FileStore) replace(data []byte) error {
	tempFile, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for artifact: %w", err)
	}

	tempName := tempFile.Name()

	_, writeErr := tempFile.Write(data)
	closeErr := tempFile.Close()

	if writeErr == nil {
		writeErr = closeErr
	}

	if writeErr == nil {
		writeErr = os.Chmod(tempName, filePermissions)
	}

	if writeErr == nil {
		writeErr = os.Rename(tempName, s.path)
	}

	if writeErr != nil {
		_ = os.Remove(tempName)

		return fmt.Errorf("failed to write artifact '%s': %w", s.path, writeErr)
	}

	return nil
}
