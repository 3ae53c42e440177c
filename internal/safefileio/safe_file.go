// Package safefileio reads and writes the weaver's inputs and outputs (rule
// files, module images, configuration and log files) without following
// symbolic links.
package safefileio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
)

// MaxFileSize is the maximum allowed file size for SafeReadFile (128 MB)
const MaxFileSize = 128 * 1024 * 1024

// FileSystem abstracts the open call so tests can inject failures.
type FileSystem interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
}

// File is the subset of *os.File used by this package.
type File interface {
	io.ReadWriteCloser
	Stat() (os.FileInfo, error)
}

type osFS struct{}

func (osFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	// #nosec G304 - the path components are verified after opening
	return os.OpenFile(name, flag, perm)
}

var defaultFS FileSystem = osFS{}

// SafeReadFile reads a regular file of at most MaxFileSize bytes.
func SafeReadFile(filePath string) ([]byte, error) {
	return safeReadFileWithFS(filePath, defaultFS)
}

func safeReadFileWithFS(filePath string, fs FileSystem) (content []byte, err error) {
	file, absPath, err := safeOpen(fs, filePath, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("Failed to close file", slog.String("path", absPath), slog.Any("error", closeErr))
		}
	}()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	content, err = io.ReadAll(io.LimitReader(file, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", absPath, err)
	}
	if int64(len(content)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}
	return content, nil
}

// SafeWriteFile creates filePath and writes content to it. It fails with
// ErrFileExists if the file already exists.
func SafeWriteFile(filePath string, content []byte, perm os.FileMode) error {
	return safeWriteFileWithFS(filePath, content, perm, os.O_EXCL, defaultFS)
}

// SafeOverwriteFile writes content to filePath, truncating an existing
// regular file.
func SafeOverwriteFile(filePath string, content []byte, perm os.FileMode) error {
	return safeWriteFileWithFS(filePath, content, perm, os.O_TRUNC, defaultFS)
}

func safeWriteFileWithFS(filePath string, content []byte, perm os.FileMode, mode int, fs FileSystem) (err error) {
	file, absPath, err := safeOpen(fs, filePath, os.O_WRONLY|os.O_CREATE|mode, perm)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close file: %w", closeErr)
		}
	}()

	if _, err = file.Write(content); err != nil {
		return fmt.Errorf("failed to write to %s: %w", absPath, err)
	}
	return nil
}

// SafeOpenFile opens filePath with flag and perm after the same checks as
// SafeReadFile. The caller owns the returned file.
func SafeOpenFile(filePath string, flag int, perm os.FileMode) (File, error) {
	file, _, err := safeOpen(defaultFS, filePath, flag, perm)
	return file, err
}

// safeOpen opens with O_NOFOLLOW first and verifies the parent directories
// afterwards, so a swap between check and use is detected.
func safeOpen(fs FileSystem, filePath string, flag int, perm os.FileMode) (File, string, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidFilePath, err)
	}

	file, err := fs.OpenFile(absPath, flag|syscall.O_NOFOLLOW, perm)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrExist):
			return nil, absPath, ErrFileExists
		case isNoFollowError(err):
			return nil, absPath, fmt.Errorf("%w: %s", ErrIsSymlink, absPath)
		default:
			return nil, absPath, fmt.Errorf("failed to open file: %w", err)
		}
	}

	if err := verifyPathComponents(absPath); err != nil {
		_ = file.Close()
		return nil, absPath, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, absPath, fmt.Errorf("failed to get file info: %w", err)
	}
	if !info.Mode().IsRegular() {
		_ = file.Close()
		return nil, absPath, fmt.Errorf("%w: not a regular file: %s", ErrInvalidFilePath, absPath)
	}
	return file, absPath, nil
}

// verifyPathComponents rejects a path whose parent directories contain a
// symbolic link.
func verifyPathComponents(absPath string) error {
	current := filepath.Dir(absPath)
	for {
		parent := filepath.Dir(current)
		if parent == current {
			return nil
		}

		fi, err := os.Lstat(current)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("failed to stat %s: %w", current, err)
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s", ErrIsSymlink, current)
		}
		current = parent
	}
}

// isNoFollowError checks if the error indicates we tried to open a symlink
func isNoFollowError(err error) bool {
	var e *os.PathError
	if !errors.As(err, &e) {
		return false
	}
	return errors.Is(e.Err, syscall.ELOOP) || errors.Is(e.Err, syscall.EMLINK)
}
