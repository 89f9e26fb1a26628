package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "self", cfg.Resolver.ReceiverName)
	assert.Equal(t, 4, cfg.CallGraph.Workers)
	assert.False(t, cfg.CallGraph.UnknownPlaceholders)
	assert.Equal(t, 2, cfg.Output.SignalHops)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "bytegraph.toml", `
[resolver]
max-steps = 64
receiver = "this"
raw-fallback = true

[callgraph]
unknown-placeholders = true

[output]
sqlite = "graph.db"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Resolver.MaxSteps)
	assert.Equal(t, 32, cfg.Resolver.MaxChain, "unset keys keep defaults")
	assert.Equal(t, "this", cfg.Resolver.ReceiverName)
	assert.True(t, cfg.Resolver.RawFallback)
	assert.True(t, cfg.CallGraph.UnknownPlaceholders)
	assert.Equal(t, 4, cfg.CallGraph.Workers)
	assert.Equal(t, "graph.db", cfg.Output.SQLite)
	assert.True(t, cfg.Output.DOT)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "bytegraph.yml", `
callgraph:
  workers: 8
output:
  dir: build/graphs
  listings: false
cache:
  dir: .bytegraph
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.CallGraph.Workers)
	assert.Equal(t, "build/graphs", cfg.Output.Dir)
	assert.False(t, cfg.Output.Listings)
	assert.Equal(t, ".bytegraph", cfg.Cache.Dir)
	assert.Equal(t, "self", cfg.Resolver.ReceiverName)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "cfg.json", `{}`))
	assert.ErrorIs(t, err, ErrUnknownFormat)

	_, err = Load(writeFile(t, "bad.toml", `[resolver`))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "neg.yaml", "callgraph:\n  workers: -1\n"))
	assert.ErrorContains(t, err, "workers")
}
