package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	cfg.KV.InMemory = true
	require.NoError(t, cfg.Validate())
	require.Equal(t, 16, cfg.HNSW.M)
	require.Equal(t, 200, cfg.HNSW.EfConstruction)
	require.Equal(t, 50, cfg.HNSW.EfSearch)
	require.Equal(t, 1.2, cfg.BM25.K1)
	require.Equal(t, 0.75, cfg.BM25.B)
}

func TestValidateRejectsMissingDataDir(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsBadHNSWParams(t *testing.T) {
	cfg := Default()
	cfg.KV.InMemory = true
	cfg.HNSW.M = 0
	require.Error(t, cfg.Validate())
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "helix.yaml")
	contents := []byte("kv:\n  data_dir: " + filepath.Join(dir, "data") + "\nbm25:\n  k1: 1.5\n")
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 1.5, cfg.BM25.K1)
	require.Equal(t, 0.75, cfg.BM25.B)
	require.Equal(t, 16, cfg.HNSW.M)
}

func TestLoadFileRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "helix.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hnsw:\n  m: -1\nkv:\n  in_memory: true\n"), 0o644))

	_, err := LoadFile(path)
	require.Error(t, err)
}
