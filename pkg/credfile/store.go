package credfile

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/spf13/afero"

	"assumerole/pkg/fsutil"
)

// ErrNotFound is returned by Load when the file does not exist.
var ErrNotFound = errors.New("credentials file not found")

// Store loads and saves credentials files on a filesystem.
type Store struct {
	fs afero.Fs
}

// NewStore returns a Store backed by fsys.
func NewStore(fsys afero.Fs) *Store {
	return &Store{fs: fsys}
}

// Load reads and parses the file at path.
func (s *Store) Load(path string) (*File, error) {
	slog.Debug("Loading credentials file", "path", path)
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %w", ErrNotFound, path, err)
		}
		return nil, &fsutil.IOError{Op: "read", Path: path, Err: err}
	}

	f, err := Parse(data)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}

	slog.Debug("Parsed credentials file", "path", path, "profiles", f.Profiles())
	return f, nil
}

// LoadOrNew is Load with a missing file treated as empty.
func (s *Store) LoadOrNew(path string) (*File, error) {
	f, err := s.Load(path)
	if errors.Is(err, ErrNotFound) {
		slog.Debug("Credentials file does not exist, starting empty", "path", path)
		return New(), nil
	}
	return f, err
}

// Save atomically replaces the file at path with f.
func (s *Store) Save(f *File, path string) error {
	slog.Debug("Saving credentials file", "path", path)
	if err := fsutil.WriteFileAtomic(s.fs, path, f.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to save credentials file: %w", err)
	}
	return nil
}
