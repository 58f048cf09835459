package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.applyEnv(mapLookup(map[string]string{
		"PQBENCH_ALGORITHMS":   "ML-KEM-768, X25519,,",
		"PQBENCH_OPERATIONS":   "keygen,encaps",
		"PQBENCH_ITERATIONS":   "50",
		"PQBENCH_WARMUP":       "0",
		"PQBENCH_CV_THRESHOLD": "0.5",
		"PQBENCH_TIMEOUT":      "250ms",
		"PQBENCH_PARALLELISM":  "3",
		"PQBENCH_OUTPUT":       "out.cbor",
		"PQBENCH_FORMAT":       "cbor",
		"PQBENCH_PROBE":        "none",
		"PQBENCH_LOG_FORMAT":   "json",
		"PQBENCH_LOG_LEVEL":    "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"ML-KEM-768", "X25519"}, cfg.Algorithms)
	assert.Equal(t, []string{"keygen", "encaps"}, cfg.Operations)
	assert.Equal(t, 50, cfg.Iterations)
	assert.Equal(t, 0, cfg.Warmup)
	assert.Equal(t, 0.5, cfg.CVThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
	assert.Equal(t, 3, cfg.Parallelism)
	assert.Equal(t, "out.cbor", cfg.Output)
	assert.Equal(t, "cbor", cfg.Format)
	assert.Equal(t, "none", cfg.Probe)
	assert.Equal(t, "circl", cfg.Provider)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnvInvalid(t *testing.T) {
	for _, key := range []string{"PQBENCH_ITERATIONS", "PQBENCH_WARMUP", "PQBENCH_CV_THRESHOLD", "PQBENCH_TIMEOUT", "PQBENCH_PARALLELISM"} {
		cfg := DefaultConfig()
		err := cfg.applyEnv(mapLookup(map[string]string{key: "lots"}))
		assert.ErrorContains(t, err, key)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PQBENCH_WARMUP=3\nPQBENCH_PROBE=rss\n"), 0o600))
	t.Setenv("PQBENCH_PROBE", "none")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Warmup)
	assert.Equal(t, "none", cfg.Probe, "environment wins over the file")

	cfg, err = LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Warmup, cfg.Warmup)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, func() error { c := DefaultConfig(); return c.Validate() }())

	tests := map[string]func(c *Config){
		"zero iterations":  func(c *Config) { c.Iterations = 0 },
		"negative warmup":  func(c *Config) { c.Warmup = -1 },
		"zero cv":          func(c *Config) { c.CVThreshold = 0 },
		"negative timeout": func(c *Config) { c.Timeout = -time.Second },
		"unknown provider": func(c *Config) { c.Provider = "liboqs" },
		"bad log level":    func(c *Config) { c.LogLevel = "loud" },
		"bad log format":   func(c *Config) { c.LogFormat = "xml" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := DefaultConfig()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList(" a , b ,"))
}
