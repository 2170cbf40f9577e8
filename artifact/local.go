package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/afero"
)

// FsStore implements Store on an afero filesystem.
type FsStore struct {
	fs      afero.Fs
	baseDir string
}

// NewLocalStore creates a store rooted at baseDir on the local disk. The
// directory is created if it doesn't exist.
func NewLocalStore(baseDir string) (*FsStore, error) {
	baseDir = filepath.Clean(baseDir)
	if baseDir == "" || baseDir == "." {
		return nil, fmt.Errorf("%w: base directory cannot be empty", ErrInvalidKey)
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	return &FsStore{
		fs:      afero.NewBasePathFs(afero.NewOsFs(), abs),
		baseDir: abs,
	}, nil
}

// NewFsStore creates a store on fs, typically an afero.MemMapFs.
func NewFsStore(fs afero.Fs) *FsStore {
	return &FsStore{fs: fs}
}

// Put stores data from the reader under key.
func (s *FsStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	name, err := cleanKey(key)
	if err != nil {
		return err
	}

	if err := s.fs.MkdirAll(path.Dir(name), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := s.fs.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, r); err != nil {
		// Clean up partial file on error
		s.fs.Remove(name)
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// Get retrieves the data stored under key.
func (s *FsStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	name, err := cleanKey(key)
	if err != nil {
		return nil, err
	}

	file, err := s.fs.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Delete removes the data stored under key.
func (s *FsStore) Delete(ctx context.Context, key string) error {
	name, err := cleanKey(key)
	if err != nil {
		return err
	}

	if err := s.fs.Remove(name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

// Exists checks if data is stored under key.
func (s *FsStore) Exists(ctx context.Context, key string) (bool, error) {
	name, err := cleanKey(key)
	if err != nil {
		return false, err
	}

	ok, err := afero.Exists(s.fs, name)
	if err != nil {
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}
	return ok, nil
}

// URL returns the file path of the artifact.
func (s *FsStore) URL(ctx context.Context, key string) (string, error) {
	name, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	exists, err := s.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", ErrNotFound
	}

	if s.baseDir == "" {
		return name, nil
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(name)), nil
}
