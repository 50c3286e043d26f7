// Package config loads the drivesift configuration file.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full recognized configuration surface.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Provider ProviderConfig `yaml:"provider"`
	Sampling SamplingConfig `yaml:"sampling"`
	Limits   LimitsConfig   `yaml:"limits"`
	Search   SearchConfig   `yaml:"search"`
	Frames   FramesConfig   `yaml:"frames"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

type ProviderConfig struct {
	BaseURL        string `yaml:"base_url"`
	EmbedModel     string `yaml:"embed_model"`
	Dimension      int    `yaml:"dimension"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`

	// Caption model for the caption-then-embed image path. Empty disables
	// captioning and sends frames to the provider directly.
	CaptionModel string `yaml:"caption_model"`
}

type SamplingConfig struct {
	Strategy             string  `yaml:"strategy"`
	IntervalSeconds      float64 `yaml:"interval_seconds"`
	DenseIntervalSeconds float64 `yaml:"dense_interval_seconds"`
	TargetFrames         int     `yaml:"target_frames"`
	MaxFramesPerVideo    int     `yaml:"max_frames_per_video"`
}

type LimitsConfig struct {
	RequestsPerMinute int     `yaml:"requests_per_minute"`
	TokensPerMinute   int     `yaml:"tokens_per_minute"`
	MaxConcurrent     int     `yaml:"max_concurrent"`
	DailyCostUSD      float64 `yaml:"daily_cost_usd"`
	PricePerMTokUSD   float64 `yaml:"price_per_mtok_usd"`
}

type SearchConfig struct {
	DefaultThreshold float64 `yaml:"default_threshold"`
	DefaultLimit     int     `yaml:"default_limit"`
	MaxLimit         int     `yaml:"max_limit"`
}

type FramesConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Host:   "localhost",
			Port:   "5432",
			User:   "drivesift",
			DBName: "drivesift",
		},
		Provider: ProviderConfig{
			BaseURL:        "http://localhost:11434",
			EmbedModel:     "nomic-embed-text",
			Dimension:      768,
			TimeoutSeconds: 60,
			MaxRetries:     4,
			CaptionModel:   "llama3.2-vision:11b",
		},
		Sampling: SamplingConfig{
			Strategy:             "interval",
			IntervalSeconds:      5,
			DenseIntervalSeconds: 1,
			TargetFrames:         15,
		},
		Limits: LimitsConfig{
			RequestsPerMinute: 500,
			TokensPerMinute:   350_000,
			MaxConcurrent:     8,
			DailyCostUSD:      5.0,
			PricePerMTokUSD:   0.02,
		},
		Search: SearchConfig{
			DefaultThreshold: 0.25,
			DefaultLimit:     10,
			MaxLimit:         100,
		},
		Frames: FramesConfig{
			OutputDir: "output_frames",
		},
	}
}

// Load reads path and fills unset fields with defaults. A missing file is
// not an error; the defaults apply. DB password and provider URL may come
// from DRIVESIFT_DB_PASSWORD and EMBED_BASE_URL instead of the file.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("DRIVESIFT_DB_PASSWORD")); v != "" {
		cfg.Database.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("EMBED_BASE_URL")); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("EMBED_MODEL")); v != "" {
		cfg.Provider.EmbedModel = v
	}
}
