package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isseis/go-iast-weaver/internal/aspects"
	"github.com/isseis/go-iast-weaver/internal/bootstrap"
	"github.com/isseis/go-iast-weaver/internal/config"
	"github.com/isseis/go-iast-weaver/internal/dataflow"
	"github.com/isseis/go-iast-weaver/internal/host"
	hosttesting "github.com/isseis/go-iast-weaver/internal/host/testing"
	"github.com/isseis/go-iast-weaver/internal/terminal"
)

const concatBefore = `[AspectClass("mscorlib,netstandard,System.Runtime",[],PROPAGATION,[])] Datadog.Trace.Iast.Aspects.StringAspects
  [AspectMethodInsertBefore("System.String::Concat(System.String,System.String)","",[0],[False],[],DEFAULT,[])] Before(System.String)
`

func newTestWeaver(t *testing.T, opts dataflow.Options) *weaver {
	t.Helper()
	img := hosttesting.NewImage()
	h, err := host.NewMemoryHost(img)
	require.NoError(t, err)

	engine, err := dataflow.NewEngine(h, opts)
	require.NoError(t, err)
	p, err := aspects.NewParser(hosttesting.HelperAssembly, "", 0)
	require.NoError(t, err)
	rules, err := p.ParseReader(strings.NewReader(concatBefore))
	require.NoError(t, err)
	engine.LoadAspects(rules)

	w := newWeaver(engine, h, img)
	require.NoError(t, w.load())
	return w
}

func TestWeaver_Instrument(t *testing.T) {
	tests := []struct {
		name string
		opts dataflow.Options
	}{
		{name: "apply during compilation", opts: dataflow.Options{ApplyOnJIT: true, Verify: true}},
		{name: "apply during recompilation", opts: dataflow.Options{Verify: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWeaver(t, tt.opts)

			st, err := w.instrument(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 2, st.Modules)
			assert.Equal(t, 4, st.Methods)
			// Run, Echo and Upper call String.Concat; Compare does not.
			assert.Equal(t, 3, st.Instrumented)
			assert.Equal(t, 0, st.Failed)
			assert.Greater(t, st.BytesAfter, st.BytesBefore)
			assert.Empty(t, w.host.TakeReJITRequests())

			mod, err := w.host.Module(hosttesting.AppModuleID)
			require.NoError(t, err)
			body, err := mod.MethodBody(hosttesting.CompareMethod)
			require.NoError(t, err)
			assert.Equal(t, []byte(hosttesting.CompareBody), body)
		})
	}
}

func TestWeaver_InstrumentCanceled(t *testing.T) {
	w := newTestWeaver(t, dataflow.Options{ApplyOnJIT: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.instrument(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWeaver_WriteDiffs(t *testing.T) {
	w := newTestWeaver(t, dataflow.Options{ApplyOnJIT: true})
	_, err := w.instrument(context.Background())
	require.NoError(t, err)

	var out bytes.Buffer
	palette := terminal.NewPalette(terminal.NewCapabilities(terminal.Options{DisableColor: true}))
	require.NoError(t, w.writeDiffs(&out, palette))

	diff := out.String()
	assert.Equal(t, 3, strings.Count(diff, "+++ "))
	assert.Contains(t, diff, "App.Program::Run")
	assert.Contains(t, diff, "Before")
	assert.NotContains(t, diff, "App.Program::Compare")
}

func TestWriteImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	img := hosttesting.NewImage()

	require.NoError(t, writeImage(path, img, false))
	assert.Error(t, writeImage(path, img, false))
	require.NoError(t, writeImage(path, img, true))

	loaded, err := host.LoadImage(path)
	require.NoError(t, err)
	assert.Len(t, loaded.Modules, 2)
}

func TestColorDiff(t *testing.T) {
	palette := terminal.NewPalette(terminal.NewCapabilities(terminal.Options{ForceColor: true}))
	out := colorDiff("--- a\n+++ b\n@@ -1 +1 @@\n-x\n+y\n z\n", palette)
	assert.Contains(t, out, "\x1b[")
	assert.True(t, strings.HasSuffix(out, " z\n"))
}

type diskReader struct{}

func (diskReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func TestWeaver_SampleInputs(t *testing.T) {
	const sampleDir = "../../examples/sample"
	cfg, err := config.NewLoaderWithFS(diskReader{}, nil).Load(filepath.Join(sampleDir, "iastweave.toml"), "")
	require.NoError(t, err)
	cfg.Engine.RulesFile = filepath.Join(sampleDir, "aspects.txt")

	img, err := host.LoadImage(filepath.Join(sampleDir, "app.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "SampleApp", img.DomainName(1))
	h, err := host.NewMemoryHost(img)
	require.NoError(t, err)

	engine, err := bootstrap.NewEngine(h, cfg)
	require.NoError(t, err)
	rules := engine.Rules()
	assert.Len(t, rules.Aspects, 2)
	assert.Equal(t, 1, rules.Skipped)
	assert.Empty(t, rules.Dropped)

	w := newWeaver(engine, h, img)
	require.NoError(t, w.load())
	st, err := w.instrument(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Modules)
	assert.Equal(t, 2, st.Methods)
	assert.Equal(t, 1, st.Instrumented)
	assert.Equal(t, 0, st.Failed)
}
