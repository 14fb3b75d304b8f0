// Package config provides the configuration structure for story-reader.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// GeminiConfig holds the settings for the remote generation services. The API
// key itself never lives in the file; only the name of the environment
// variable that carries it does.
type GeminiConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKeyEnvVar   string `toml:"api_key_env_var"`
	StoryModel     string `toml:"story_model"`
	SpeechModel    string `toml:"speech_model"`
	Voice          string `toml:"voice"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// AudioConfig holds the expected format of the speech payload.
type AudioConfig struct {
	SampleRate int `toml:"sample_rate"`
	Channels   int `toml:"channels"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	OutputDir   string `toml:"output_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Gemini GeminiConfig `toml:"gemini"`
	Audio  AudioConfig  `toml:"audio"`
	Paths  PathsConfig  `toml:"paths"`
}

// Load loads the configuration for story-reader.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return &cfg, nil
}
