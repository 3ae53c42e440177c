package safefileio

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// safeTempDir creates a temporary directory and resolves any symlinks in its path
// to ensure consistent behavior across different environments.
func safeTempDir(t *testing.T) string {
	t.Helper()
	realPath, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err, "Failed to resolve symlinks in temp dir")
	return realPath
}

func TestSafeReadFile(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) string
		want    []byte
		wantErr error
	}{
		{
			name: "regular file",
			setup: func(t *testing.T) string {
				p := filepath.Join(safeTempDir(t), "rules.txt")
				require.NoError(t, os.WriteFile(p, []byte("[AspectClass(\"mscorlib\")] X"), 0o600))
				return p
			},
			want: []byte("[AspectClass(\"mscorlib\")] X"),
		},
		{
			name: "symlinked file",
			setup: func(t *testing.T) string {
				dir := safeTempDir(t)
				target := filepath.Join(dir, "target")
				require.NoError(t, os.WriteFile(target, []byte("x"), 0o600))
				link := filepath.Join(dir, "link")
				require.NoError(t, os.Symlink(target, link))
				return link
			},
			wantErr: ErrIsSymlink,
		},
		{
			name: "symlinked parent directory",
			setup: func(t *testing.T) string {
				dir := safeTempDir(t)
				realDir := filepath.Join(dir, "realDir")
				require.NoError(t, os.Mkdir(realDir, 0o755))
				require.NoError(t, os.WriteFile(filepath.Join(realDir, "f"), []byte("x"), 0o600))
				link := filepath.Join(dir, "link")
				require.NoError(t, os.Symlink(realDir, link))
				return filepath.Join(link, "f")
			},
			wantErr: ErrIsSymlink,
		},
		{
			name: "directory",
			setup: func(t *testing.T) string {
				return safeTempDir(t)
			},
			wantErr: ErrInvalidFilePath,
		},
		{
			name: "missing file",
			setup: func(t *testing.T) string {
				return filepath.Join(safeTempDir(t), "missing")
			},
			wantErr: os.ErrNotExist,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SafeReadFile(tt.setup(t))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSafeWriteFile(t *testing.T) {
	dir := safeTempDir(t)
	p := filepath.Join(dir, "out.yaml")

	require.NoError(t, SafeWriteFile(p, []byte("first"), 0o600))
	assert.ErrorIs(t, SafeWriteFile(p, []byte("second"), 0o600), ErrFileExists)

	require.NoError(t, SafeOverwriteFile(p, []byte("third"), 0o600))
	got, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "third", string(got))

	link := filepath.Join(dir, "link.yaml")
	require.NoError(t, os.Symlink(p, link))
	assert.ErrorIs(t, SafeOverwriteFile(link, []byte("x"), 0o600), ErrIsSymlink)
}

type failingFS struct {
	err error
}

func (f failingFS) OpenFile(string, int, os.FileMode) (File, error) {
	return nil, f.err
}

func TestSafeWriteFile_OpenFailure(t *testing.T) {
	errDenied := errors.New("denied")
	err := safeWriteFileWithFS(filepath.Join(safeTempDir(t), "f"), []byte("x"), 0o600, os.O_EXCL, failingFS{err: errDenied})
	assert.ErrorIs(t, err, errDenied)

	_, err = safeReadFileWithFS("f", failingFS{err: &os.PathError{Op: "open", Path: "f", Err: os.ErrExist}})
	assert.ErrorIs(t, err, ErrFileExists)
}

func TestSafeOpenFile(t *testing.T) {
	p := filepath.Join(safeTempDir(t), "log.json")
	f, err := SafeOpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	_, err = f.Write([]byte("{}\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := SafeReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(got))
}
