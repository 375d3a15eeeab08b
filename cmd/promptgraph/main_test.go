package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { resetFlags(rootCmd) })
	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags restores defaults between runs of the shared command tree.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "promptgraph version ")
}

func TestGraph(t *testing.T) {
	out, err := run(t, "graph", filepath.Join("testdata", "ios.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, `enabled -- "disable" --> user`)
}

func TestValidate(t *testing.T) {
	out, err := run(t, "validate", filepath.Join("testdata", "ios.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "graph is valid!")

	broken := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte(`
name: broken
states:
  - {name: a, prompt: 'a>'}
  - {name: b, prompt: 'b>'}
paths:
  - {from: a, to: b, command: go}
`), 0o600))
	out, err = run(t, "validate", filepath.Join("testdata", "ios.yaml"), broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 definitions invalid")
	assert.Contains(t, out, "No outward path: 'b'")
}

func TestExec(t *testing.T) {
	inventory := filepath.Join("testdata", "inventory.yaml")

	out, err := run(t, "-c", inventory, "exec", "lab", "show clock", "--state", "user")
	require.NoError(t, err)
	assert.Contains(t, out, "*10:00:00.000 UTC Mon Jan 1 2024")

	out, err = run(t, "-c", inventory, "exec", "lab", "show bogus", "-s", "enabled")
	require.Error(t, err)
	assert.Contains(t, out, "error:")

	out, err = run(t, "-c", inventory, "exec", "lab", "show clock", "-s", "user", "--expect", `UTC`, "--retries", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "UTC")
}

func TestGoto(t *testing.T) {
	inventory := filepath.Join("testdata", "inventory.yaml")

	out, err := run(t, "-c", inventory, "goto", "lab", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "state: config")

	_, err = run(t, "-c", inventory, "goto", "lab", "rommon")
	assert.Error(t, err)

	_, err = run(t, "-c", inventory, "goto", "nowhere", "user")
	assert.ErrorContains(t, err, "device not found")
}

func TestLogFormat(t *testing.T) {
	inventory := filepath.Join("testdata", "inventory.yaml")

	out, err := run(t, "-c", inventory, "--log-level", "debug", "--log-format", "json", "goto", "lab", "user")
	require.NoError(t, err)
	assert.Contains(t, out, `"level":"DEBUG"`)
	assert.Contains(t, out, "state: user")

	_, err = run(t, "-c", inventory, "--log-format", "logfmt", "goto", "lab", "user")
	assert.ErrorContains(t, err, `unknown log format "logfmt"`)
}
