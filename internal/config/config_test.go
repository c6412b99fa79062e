package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hodeiscan/internal/fact"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, 3600, c.CacheTTLSeconds)
	assert.Equal(t, 4, c.CouplingThresholds.PositionArity)
	assert.Equal(t, 0.25, c.CouplingThresholds.AlgorithmSimilarity)
	assert.Equal(t, 0.8, c.CouplingThresholds.NameSimilarity)
	require.NotNil(t, c.PackageOf)
}

func TestDirectoryPackageOf(t *testing.T) {
	f := fact.Fact{Location: fact.Location{File: "internal/taint/propagator.go"}}
	assert.Equal(t, "internal/taint", directoryPackageOf(f))

	noDir := fact.Fact{Location: fact.Location{File: "main.go"}}
	assert.Equal(t, "main.go", directoryPackageOf(noDir))
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().CacheTTLSeconds, c.CacheTTLSeconds)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "parallelism: 2\nfail_fast: true\ncoupling_thresholds:\n  name_similarity: 0.9\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Parallelism)
	assert.True(t, c.FailFast)
	assert.Equal(t, 0.9, c.CouplingThresholds.NameSimilarity)
	require.NotNil(t, c.PackageOf, "Load must restore PackageOf even though it's not YAML-serializable")
}
