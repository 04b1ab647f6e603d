package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/kidwatch/internal/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "kidwatch",
	Short: "Speech monitoring daemon for child safety",
	Long: `kidwatch classifies children's speech transcripts for mood and threat
signals, keeps a per-child mood history, raises alerts on concerning
content, and streams live events to guardians.`,
	SilenceUsage: true,
}

func init() {
	defaultPath := filepath.Join(os.Getenv("HOME"), ".kidwatch", "config.json")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultPath, "config file path")
}

// loadConfig loads the config file, exiting on failure. Commands call this
// after flag parsing so --config is honored.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
