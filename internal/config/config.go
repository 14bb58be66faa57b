package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// OpenAIEncoderConfig holds configuration for the OpenAI-compatible encoder.
type OpenAIEncoderConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Model             string  `yaml:"model"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	MaxRequestSize    int     `yaml:"max_request_size"`
	Concurrency       int     `yaml:"concurrency"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// TFIDFEncoderConfig configures the local TF-IDF encoder.
type TFIDFEncoderConfig struct {
	MaxFeatures int `yaml:"max_features"`
}

// EncoderConfig selects and configures the text encoder implementation.
type EncoderConfig struct {
	Type   string               `yaml:"type"`
	TFIDF  *TFIDFEncoderConfig  `yaml:"tfidf,omitempty"`
	OpenAI *OpenAIEncoderConfig `yaml:"openai,omitempty"`
}

// MinioConfig contains connection details for an S3-compatible artifact bucket.
type MinioConfig struct {
	Endpoint     string `yaml:"endpoint"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Secure       bool   `yaml:"secure"`
}

// StorageConfig selects where cache and model artifacts live.
type StorageConfig struct {
	Type        string       `yaml:"type"`
	DataDir     string       `yaml:"data_dir"`
	Compression string       `yaml:"compression"`
	Minio       *MinioConfig `yaml:"minio,omitempty"`
}

// CacheConfig configures embedding generation.
type CacheConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// SplitConfig configures down-sampling and the word-disjoint split.
type SplitConfig struct {
	SampleFraction float64 `yaml:"sample_fraction"`
	TrainFraction  float64 `yaml:"train_fraction"`
	Seed           int64   `yaml:"seed"`
}

// TrainerConfig configures the regression trainer.
type TrainerConfig struct {
	Epochs         int     `yaml:"epochs"`
	HiddenLayers   int     `yaml:"hidden_layers"`
	LearningRate   float64 `yaml:"learning_rate"`
	LogEvery       int     `yaml:"log_every"`
	CosineGradient bool    `yaml:"cosine_gradient"`
	Seed           int64   `yaml:"seed"`
}

// ReportConfig configures retrieval and the printed report.
type ReportConfig struct {
	K            int   `yaml:"k"`
	Sample       int   `yaml:"sample"`
	MaxSentences int   `yaml:"max_sentences"`
	Seed         int64 `yaml:"seed"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Encoder EncoderConfig `yaml:"encoder"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Split   SplitConfig   `yaml:"split"`
	Trainer TrainerConfig `yaml:"trainer"`
	Report  ReportConfig  `yaml:"report"`
	Logging LoggingConfig `yaml:"logging"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			return cfg, nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/etymdef/config.yaml.
// If neither exists, it writes defaults to ~/.config/etymdef/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects values the pipeline cannot run with.
func (c *AppConfig) Validate() error {
	if c.Split.SampleFraction <= 0 || c.Split.SampleFraction > 1 {
		return fmt.Errorf("split.sample_fraction must be in (0, 1], got %v", c.Split.SampleFraction)
	}
	if c.Split.TrainFraction < 0 || c.Split.TrainFraction > 1 {
		return fmt.Errorf("split.train_fraction must be in [0, 1], got %v", c.Split.TrainFraction)
	}
	if c.Trainer.Epochs < 1 {
		return fmt.Errorf("trainer.epochs must be >= 1, got %d", c.Trainer.Epochs)
	}
	if c.Trainer.HiddenLayers < 1 {
		return fmt.Errorf("trainer.hidden_layers must be >= 1, got %d", c.Trainer.HiddenLayers)
	}
	if c.Report.K < 1 {
		return fmt.Errorf("report.k must be >= 1, got %d", c.Report.K)
	}
	switch c.Storage.Compression {
	case "none", "lz4", "zstd":
	default:
		return fmt.Errorf("unknown storage.compression: %s", c.Storage.Compression)
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "etymdef", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Encoder: EncoderConfig{Type: "tfidf", TFIDF: &TFIDFEncoderConfig{MaxFeatures: 4096}},
		Storage: StorageConfig{Type: "local", DataDir: "data", Compression: "zstd"},
		Cache:   CacheConfig{BatchSize: 256},
		Split:   SplitConfig{SampleFraction: 0.9, TrainFraction: 0.8, Seed: 5},
		Trainer: TrainerConfig{Epochs: 5, HiddenLayers: 3, LearningRate: 0.001, LogEvery: 100, Seed: 5},
		Report:  ReportConfig{K: 5, Sample: 10, MaxSentences: 1, Seed: 5},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	def := defaultConfig()
	if cfg.Encoder.Type == "" {
		cfg.Encoder.Type = def.Encoder.Type
	}
	if cfg.Encoder.Type == "tfidf" {
		if cfg.Encoder.TFIDF == nil {
			cfg.Encoder.TFIDF = &TFIDFEncoderConfig{}
		}
		if cfg.Encoder.TFIDF.MaxFeatures == 0 {
			cfg.Encoder.TFIDF.MaxFeatures = def.Encoder.TFIDF.MaxFeatures
		}
	}
	if cfg.Encoder.Type == "openai" && cfg.Encoder.OpenAI != nil {
		if cfg.Encoder.OpenAI.BaseURL == "" {
			cfg.Encoder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Encoder.OpenAI.APIKeyEnv == "" {
			cfg.Encoder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Encoder.OpenAI.Model == "" {
			cfg.Encoder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Encoder.OpenAI.TimeoutSecs == 0 {
			cfg.Encoder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Encoder.OpenAI.MaxRequestSize == 0 {
			cfg.Encoder.OpenAI.MaxRequestSize = 64
		}
		if cfg.Encoder.OpenAI.Concurrency == 0 {
			cfg.Encoder.OpenAI.Concurrency = 4
		}
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = def.Storage.Type
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = def.Storage.DataDir
	}
	if cfg.Storage.Compression == "" {
		cfg.Storage.Compression = def.Storage.Compression
	}
	if cfg.Storage.Type == "minio" && cfg.Storage.Minio != nil {
		if cfg.Storage.Minio.AccessKeyEnv == "" {
			cfg.Storage.Minio.AccessKeyEnv = "MINIO_ACCESS_KEY"
		}
		if cfg.Storage.Minio.SecretKeyEnv == "" {
			cfg.Storage.Minio.SecretKeyEnv = "MINIO_SECRET_KEY"
		}
	}
	if cfg.Cache.BatchSize <= 0 {
		cfg.Cache.BatchSize = def.Cache.BatchSize
	}
	if cfg.Split.SampleFraction == 0 {
		cfg.Split.SampleFraction = def.Split.SampleFraction
	}
	if cfg.Split.TrainFraction == 0 {
		cfg.Split.TrainFraction = def.Split.TrainFraction
	}
	if cfg.Trainer.Epochs == 0 {
		cfg.Trainer.Epochs = def.Trainer.Epochs
	}
	if cfg.Trainer.HiddenLayers == 0 {
		cfg.Trainer.HiddenLayers = def.Trainer.HiddenLayers
	}
	if cfg.Trainer.LearningRate == 0 {
		cfg.Trainer.LearningRate = def.Trainer.LearningRate
	}
	if cfg.Trainer.LogEvery == 0 {
		cfg.Trainer.LogEvery = def.Trainer.LogEvery
	}
	if cfg.Report.K == 0 {
		cfg.Report.K = def.Report.K
	}
	if cfg.Report.Sample == 0 {
		cfg.Report.Sample = def.Report.Sample
	}
	if cfg.Report.MaxSentences == 0 {
		cfg.Report.MaxSentences = def.Report.MaxSentences
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
}
