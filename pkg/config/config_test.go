package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir stands in for testing.T.Chdir (Go 1.24+): it changes the working
// directory and restores it when the test ends.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.InDelta(t, 0.82, cfg.Retrieval.DistanceThreshold, 1e-9)
	assert.Equal(t, 10, cfg.Retrieval.StreamTopK)
	assert.Equal(t, 1, cfg.Retrieval.SingleShotTopK)
	assert.Equal(t, 10, cfg.Ingestion.MinPageChars)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "chi_sim+eng", cfg.OCR.Languages)
}

func TestLoad_EnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DOCQA_RETRIEVAL_DISTANCETHRESHOLD", "0.5")
	t.Setenv("DOCQA_INGESTION_WORKERS", "4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.InDelta(t, 0.5, cfg.Retrieval.DistanceThreshold, 1e-9)
	assert.Equal(t, 4, cfg.Ingestion.Workers)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Storage:   StorageConfig{Backend: "local"},
			Ingestion: IngestionConfig{Workers: 1},
			Retrieval: RetrievalConfig{DistanceThreshold: 0.82, StreamTopK: 10, SingleShotTopK: 1},
		}
	}

	require.NoError(t, valid().Validate())

	cfg := valid()
	cfg.Storage.Backend = "s3"
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Retrieval.StreamTopK = 0
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Ingestion.Workers = 0
	assert.Error(t, cfg.Validate())
}
