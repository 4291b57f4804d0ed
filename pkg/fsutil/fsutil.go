// Package fsutil provides crash-safe file replacement on top of an afero filesystem.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// IOError reports a failure to read or write a local file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// WriteFileAtomic replaces path with data. The content goes to a temporary
// file in the same directory which is renamed over path once it is fully
// written, so readers observe either the old or the new content. An existing
// file keeps its permissions; a new one is created with perm.
func WriteFileAtomic(fsys afero.Fs, path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)

	slog.Debug("Ensuring directory exists", "dir", dir)
	if err := fsys.MkdirAll(dir, 0o700); err != nil {
		return &IOError{Op: "mkdir", Path: dir, Err: err}
	}

	if info, statErr := fsys.Stat(path); statErr == nil {
		perm = info.Mode().Perm()
	} else if !errors.Is(statErr, fs.ErrNotExist) {
		return &IOError{Op: "stat", Path: path, Err: statErr}
	}

	tmp, err := afero.TempFile(fsys, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return &IOError{Op: "create temp file for", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	closed := false

	defer func() {
		if err == nil {
			return
		}
		if !closed {
			_ = tmp.Close()
		}
		if rmErr := fsys.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			slog.Debug("Failed to remove temp file", "path", tmpName, "error", rmErr)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return &IOError{Op: "write", Path: tmpName, Err: err}
	}
	if err = tmp.Sync(); err != nil {
		return &IOError{Op: "sync", Path: tmpName, Err: err}
	}
	closed = true
	if err = tmp.Close(); err != nil {
		return &IOError{Op: "close", Path: tmpName, Err: err}
	}
	if err = fsys.Chmod(tmpName, perm); err != nil {
		return &IOError{Op: "chmod", Path: tmpName, Err: err}
	}

	slog.Debug("Renaming temp file into place", "from", tmpName, "to", path)
	if err = fsys.Rename(tmpName, path); err != nil {
		return &IOError{Op: "rename", Path: path, Err: err}
	}

	return nil
}
