package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	HTTP          struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
	} `json:"http"`
	Classifier struct {
		Provider            string  `json:"provider"`
		BaseURL             string  `json:"base_url"`
		APIKey              string  `json:"api_key"`
		Model               string  `json:"model"`
		MaxTokens           int     `json:"max_tokens"`
		Temperature         float32 `json:"temperature"`
		TimeoutSeconds      int     `json:"timeout_seconds"`
		MaxTranscriptTokens int     `json:"max_transcript_tokens"`
	} `json:"classifier"`
	SOS struct {
		LocationMaxAgeSeconds int `json:"location_max_age_seconds"`
		TimeoutSeconds        int `json:"timeout_seconds"`
	} `json:"sos"`
	Digest struct {
		Enabled  bool   `json:"enabled"`
		Schedule string `json:"schedule"`
	} `json:"digest"`
	Telegram struct {
		Token string `json:"token"`
	} `json:"telegram"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".kidwatch"),
		MaxConcurrent: 4,
	}
	cfg.LogLevel = "info"
	cfg.HTTP.Enabled = true
	cfg.HTTP.Listen = ":8080"
	cfg.Classifier.Provider = "gemini"
	cfg.Classifier.Model = "gemini-2.0-flash"
	cfg.Classifier.MaxTokens = 512
	cfg.Classifier.Temperature = 0.2
	cfg.Classifier.TimeoutSeconds = 30
	cfg.Classifier.MaxTranscriptTokens = 2048
	cfg.SOS.LocationMaxAgeSeconds = 120
	cfg.SOS.TimeoutSeconds = 10
	cfg.Digest.Schedule = "0 8 * * *"

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" && cfg.Classifier.Provider == "gemini" {
		cfg.Classifier.APIKey = apiKey
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && cfg.Classifier.Provider == "openai" {
		cfg.Classifier.APIKey = apiKey
	}
	if baseURL := os.Getenv("CLASSIFIER_BASE_URL"); baseURL != "" {
		cfg.Classifier.BaseURL = baseURL
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if listen := os.Getenv("KIDWATCH_LISTEN"); listen != "" {
		cfg.HTTP.Listen = listen
	}

	return cfg, nil
}

// Save writes the config atomically via a temp file rename.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
