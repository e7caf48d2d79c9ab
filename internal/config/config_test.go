package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFlags() (*pflag.FlagSet, *string, *time.Duration, *int, *bool, *[]string) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	listen := fs.String("listen", ":8080", "")
	stall := fs.Duration("stall-timeout", 8*time.Second, "")
	maxStall := fs.Int("max-stall", 8, "")
	silent := fs.Bool("fail-silent", true, "")
	deny := fs.StringSlice("deny-host", []string{"speed.cloudflare.com"}, "")
	fs.String("config", "", "")
	return fs, listen, stall, maxStall, silent, deny
}

func TestApply(t *testing.T) {
	fs, listen, stall, maxStall, silent, deny := testFlags()
	require.NoError(t, fs.Parse([]string{"--listen", "127.0.0.1:9000"}))

	f, err := Parse(strings.NewReader(`
listen: 0.0.0.0:1
stall-timeout: 3s
max-stall: 2
fail-silent: false
deny-host:
  - a.example
  - b.example
`))
	require.NoError(t, err)
	require.NoError(t, f.Apply(fs, "config"))

	assert.Equal(t, "127.0.0.1:9000", *listen, "command line wins")
	assert.Equal(t, 3*time.Second, *stall)
	assert.Equal(t, 2, *maxStall)
	assert.False(t, *silent)
	assert.Equal(t, []string{"a.example", "b.example"}, *deny)
}

func TestApplyErrors(t *testing.T) {
	for _, doc := range []string{
		"nope: 1",
		"config: other.yaml",
		"max-stall: many",
		"listen:\n  host: x",
		"deny-host:\n  - a.example\n  - name: b.example",
	} {
		t.Run(doc, func(t *testing.T) {
			fs, _, _, _, _, _ := testFlags()
			f, err := Parse(strings.NewReader(doc))
			require.NoError(t, err)
			assert.Error(t, f.Apply(fs, "config"))
		})
	}
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse(strings.NewReader("listen: [unterminated"))
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wsgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max-stall: 4\n"), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, File{"max-stall": 4}, f)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	f, err = Load(empty)
	require.NoError(t, err)
	assert.Empty(t, f)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestApplyRejectsNestedMapping(t *testing.T) {
	fs, listen, _, _, _, _ := testFlags()

	f, err := Parse(strings.NewReader("listen:\n  host: x\n"))
	require.NoError(t, err)
	require.ErrorContains(t, f.Apply(fs, "config"), "nested settings")
	assert.Equal(t, ":8080", *listen)
	assert.False(t, fs.Changed("listen"))
}
