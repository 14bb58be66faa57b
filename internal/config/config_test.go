package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "tfidf", cfg.Encoder.Type)
	assert.Equal(t, 256, cfg.Cache.BatchSize)
	assert.Equal(t, 0.8, cfg.Split.TrainFraction)
	assert.Equal(t, 3, cfg.Trainer.HiddenLayers)
	assert.Equal(t, 0.001, cfg.Trainer.LearningRate)
	require.NoError(t, cfg.Validate())
}

func TestLoad_AppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
encoder:
  type: openai
  openai:
    model: nomic-embed-text
cache:
  batch_size: 32
trainer:
  epochs: 2
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Cache.BatchSize)
	assert.Equal(t, 2, cfg.Trainer.Epochs)
	assert.Equal(t, 3, cfg.Trainer.HiddenLayers)
	require.NotNil(t, cfg.Encoder.OpenAI)
	assert.Equal(t, "nomic-embed-text", cfg.Encoder.OpenAI.Model)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Encoder.OpenAI.APIKeyEnv)
	assert.Equal(t, 64, cfg.Encoder.OpenAI.MaxRequestSize)
	assert.Equal(t, "zstd", cfg.Storage.Compression)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultConfig()
	cfg.Report.K = 9
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Report.K)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"SampleFractionZero", func(c *AppConfig) { c.Split.SampleFraction = 0 }},
		{"TrainFractionAboveOne", func(c *AppConfig) { c.Split.TrainFraction = 1.5 }},
		{"NoEpochs", func(c *AppConfig) { c.Trainer.Epochs = 0 }},
		{"NoHiddenLayers", func(c *AppConfig) { c.Trainer.HiddenLayers = 0 }},
		{"NoK", func(c *AppConfig) { c.Report.K = 0 }},
		{"UnknownCompression", func(c *AppConfig) { c.Storage.Compression = "brotli" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
