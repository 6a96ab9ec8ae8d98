package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "timeclerk.yaml")
	body := `state_dir: /var/lib/timeclerk
llm:
  provider: openai
  model: gpt-4o-mini
server:
  addr: ":9090"
memory:
  retrieval_k: 8
  query_expansion: true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/timeclerk", cfg.StateDir)
	require.Equal(t, "openai", cfg.LLM.Provider)
	require.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	require.Equal(t, ":9090", cfg.Server.Addr)
	require.Equal(t, 8, cfg.Memory.RetrievalK)

	// Untouched sections keep their defaults.
	require.Equal(t, "timeclerk", cfg.Name)
	require.Equal(t, "ollama", cfg.Embedding.Provider)
	require.Equal(t, filepath.Join("/var/lib/timeclerk", "directory.db"), cfg.DirectoryDBPath())
}

func TestLoadRejectsBadProvider(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "timeclerk.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  provider: bard\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "llm provider")
}

func TestValidateRejectsBadRetrievalK(t *testing.T) {
	cfg := Default()
	cfg.Memory.RetrievalK = 0
	require.Error(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
