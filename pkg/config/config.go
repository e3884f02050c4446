// Package config holds the programmatic configuration HelixDB's Engine is
// opened with: a struct of sections, validated with Validate(), optionally
// loaded from a YAML file with LoadFile.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration passed to helixdb.Open. It mirrors
// the teacher's struct-of-sections shape but carries the sections this
// engine actually has: a KV substrate, an HNSW index, a BM25 index, and the
// set of secondary-indexed property keys maintained per label.
type Config struct {
	KV               KVConfig               `yaml:"kv"`
	HNSW             HNSWConfig             `yaml:"hnsw"`
	BM25             BM25Config             `yaml:"bm25"`
	SecondaryIndices SecondaryIndicesConfig `yaml:"secondary_indices"`
	ReadOnly         bool                   `yaml:"read_only"`
}

// KVConfig configures the underlying KV substrate.
type KVConfig struct {
	DataDir    string `yaml:"data_dir"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
	LowMemory  bool   `yaml:"low_memory"`
}

// HNSWConfig configures the vector index, defaults matching engine
// specification §4.4.
type HNSWConfig struct {
	M              int `yaml:"m"`
	EfConstruction int `yaml:"ef_construction"`
	EfSearch       int `yaml:"ef_search"`
}

// BM25Config configures the full-text index, defaults matching §4.5.
type BM25Config struct {
	K1          float64  `yaml:"k1"`
	B           float64  `yaml:"b"`
	Stopwords   []string `yaml:"stopwords"`
	MinTokenLen int      `yaml:"min_token_len"`
}

// SecondaryIndicesConfig names the (label, property key) pairs add_n/add_e
// maintain secondary indices for. Keys not listed here are never indexed;
// AddN/AddE take no per-call list of secondary keys — mirrors the
// teacher's schema-driven indexing rather than ad hoc per-call indices.
type SecondaryIndicesConfig struct {
	Nodes map[string][]string `yaml:"nodes"`
	Edges map[string][]string `yaml:"edges"`
}

// Default returns a Config with every numeric parameter at the value
// engine specification §4.4/§4.5 names as the default.
func Default() Config {
	return Config{
		HNSW: HNSWConfig{
			M:              16,
			EfConstruction: 200,
			EfSearch:       50,
		},
		BM25: BM25Config{
			K1:          1.2,
			B:           0.75,
			MinTokenLen: 1,
		},
	}
}

// LoadFile reads a YAML configuration file and overlays it onto Default().
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks parameter ranges before Open accepts a Config.
func (c Config) Validate() error {
	if !c.KV.InMemory && c.KV.DataDir == "" {
		return fmt.Errorf("config: kv.data_dir is required unless kv.in_memory is set")
	}
	if c.HNSW.M <= 0 {
		return fmt.Errorf("config: hnsw.m must be positive, got %d", c.HNSW.M)
	}
	if c.HNSW.EfConstruction <= 0 {
		return fmt.Errorf("config: hnsw.ef_construction must be positive, got %d", c.HNSW.EfConstruction)
	}
	if c.HNSW.EfSearch <= 0 {
		return fmt.Errorf("config: hnsw.ef_search must be positive, got %d", c.HNSW.EfSearch)
	}
	if c.BM25.K1 < 0 {
		return fmt.Errorf("config: bm25.k1 must be non-negative, got %f", c.BM25.K1)
	}
	if c.BM25.B < 0 || c.BM25.B > 1 {
		return fmt.Errorf("config: bm25.b must be within [0,1], got %f", c.BM25.B)
	}
	if c.BM25.MinTokenLen < 0 {
		return fmt.Errorf("config: bm25.min_token_len must be non-negative, got %d", c.BM25.MinTokenLen)
	}
	return nil
}
