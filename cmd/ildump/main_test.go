package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isseis/go-iast-weaver/internal/host"
	hosttesting "github.com/isseis/go-iast-weaver/internal/host/testing"
	"github.com/isseis/go-iast-weaver/internal/terminal"
)

func writeFixtureImage(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, host.WriteImage(&buf, hosttesting.NewImage()))
	path := filepath.Join(t.TempDir(), "image.yaml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func plainPalette() *terminal.Palette {
	return terminal.NewPalette(nil)
}

func TestRun(t *testing.T) {
	image := writeFixtureImage(t)

	tests := []struct {
		name     string
		opts     options
		contains []string
		excludes []string
	}{
		{
			name: "listing of one method",
			opts: options{imagePath: image, module: hosttesting.AppAssembly, method: "App.Program::Run", format: formatListing},
			contains: []string{
				"// App.dll: App.Program::Run()",
				`ldstr "a"`,
				"System.String::Concat",
				"-> IL_000a#0",
			},
			excludes: []string{"App.Program::Compare"},
		},
		{
			name: "table of one method",
			opts: options{imagePath: image, module: "1", method: "App.Program::Echo", format: formatTable},
			contains: []string{
				"OFFSET",
				"CONSUMED BY",
				"ldarg.0",
				"IL_0006#0",
			},
		},
		{
			name:     "control flow graph",
			opts:     options{imagePath: image, method: "App.Program::Upper", format: formatCFG},
			contains: []string{"digraph"},
		},
		{
			name:     "every method of the application module",
			opts:     options{imagePath: image, module: "App.dll", format: formatListing},
			contains: []string{"App.Program::Run", "App.Program::Compare", "App.Program::Echo", "App.Program::Upper"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, run(&out, tt.opts, plainPalette()))
			for _, want := range tt.contains {
				assert.Contains(t, out.String(), want)
			}
			for _, unwanted := range tt.excludes {
				assert.NotContains(t, out.String(), unwanted)
			}
		})
	}
}

func TestRun_Errors(t *testing.T) {
	image := writeFixtureImage(t)

	tests := []struct {
		name    string
		opts    options
		wantErr error
	}{
		{
			name:    "missing image path",
			opts:    options{format: formatListing},
			wantErr: ErrImagePathRequired,
		},
		{
			name:    "unknown module",
			opts:    options{imagePath: image, module: "Missing.dll", format: formatListing},
			wantErr: ErrModuleNotFound,
		},
		{
			name:    "unknown format",
			opts:    options{imagePath: image, method: "App.Program::Run", format: "svg"},
			wantErr: ErrUnknownFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(&bytes.Buffer{}, tt.opts, plainPalette())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRun_UnknownMethod(t *testing.T) {
	err := run(&bytes.Buffer{}, options{
		imagePath: writeFixtureImage(t),
		method:    "App.Program::Missing",
		format:    formatListing,
	}, plainPalette())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "Missing"))
}
