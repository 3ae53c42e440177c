package host_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isseis/go-iast-weaver/internal/cil"
	"github.com/isseis/go-iast-weaver/internal/host"
	hosttesting "github.com/isseis/go-iast-weaver/internal/host/testing"
)

const sampleImage = `
app_domains:
  - id: 1
    name: SampleApp
modules:
  - id: 7
    name: Sample.dll
    assembly: Sample
    app_domain: 1
    assembly_refs:
      - token: 0x23000001
        name: System.Runtime
    type_refs:
      - token: 0x01000001
        name: System.String
        scope: 0x23000001
    type_defs:
      - token: 0x02000001
        name: Sample.Program
    methods:
      - token: 0x06000001
        name: Main
        owner: 0x02000001
        signature: "00 00 01"
        body: "06 2a"
`

func TestReadImage(t *testing.T) {
	img, err := host.ReadImage(strings.NewReader(sampleImage))
	require.NoError(t, err)
	require.Len(t, img.Modules, 1)

	m := img.Modules[0]
	assert.Equal(t, "Sample", m.Assembly)
	assert.Equal(t, cil.Token(0x01000001), m.TypeRefs[0].Token)
	assert.Equal(t, cil.Token(0x23000001), m.TypeRefs[0].Scope)
	assert.Equal(t, host.Blob{0x00, 0x00, 0x01}, m.Methods[0].Signature)
	assert.Equal(t, host.Blob{0x06, 0x2a}, m.Methods[0].Body)

	assert.Equal(t, "SampleApp", img.DomainName(m.AppDomain))
	assert.Equal(t, "DefaultDomain", img.DomainName(99))
}

func TestReadImage_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "unknown field",
			yaml: "modules:\n  - id: 1\n    color: blue\n",
		},
		{
			name: "bad blob",
			yaml: "modules:\n  - id: 1\n    type_specs:\n      - token: 0x1b000001\n        blob: \"zz\"\n",
		},
		{
			name: "bad token",
			yaml: "modules:\n  - id: 1\n    type_refs:\n      - token: nope\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := host.ReadImage(strings.NewReader(tt.yaml))
			assert.ErrorIs(t, err, host.ErrInvalidImage)
		})
	}
}

func TestWriteImage_ReadBack(t *testing.T) {
	img := hosttesting.NewImage()
	var buf bytes.Buffer
	require.NoError(t, host.WriteImage(&buf, img))

	back, err := host.ReadImage(&buf)
	require.NoError(t, err)
	assert.Equal(t, img, back)
}

func TestBlob_MarshalText(t *testing.T) {
	text, err := host.Blob{0x00, 0x2a, 0xff}.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "00 2a ff", string(text))
}
