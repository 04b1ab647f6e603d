package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/user/kidwatch/internal/bus"
	"github.com/user/kidwatch/internal/classify"
	"github.com/user/kidwatch/internal/digest"
	"github.com/user/kidwatch/internal/location"
	"github.com/user/kidwatch/internal/notify"
	"github.com/user/kidwatch/internal/server"
	"github.com/user/kidwatch/internal/session"
	"github.com/user/kidwatch/internal/sos"
	"github.com/user/kidwatch/internal/store"
	"github.com/user/kidwatch/internal/types"
	"github.com/user/kidwatch/pkg/llm"
	"github.com/user/kidwatch/pkg/llm/gemini"
	"github.com/user/kidwatch/pkg/llm/openai"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the kidwatch daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "kidwatch.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	// Env file is optional; real env always wins.
	godotenv.Load()

	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Write PID file
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	// Store
	db, err := store.Open(filepath.Join(cfg.DataDir, "kidwatch.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	// Event bus, fed by the store's insert notifications
	eventBus := bus.New()
	db.OnMoodInsert(func(entry *types.MoodLogEntry) {
		eventBus.Publish(entry.ChildID, types.NewMoodEvent(entry))
	})
	db.OnAlertInsert(func(alert *types.Alert) {
		eventBus.Publish(alert.ChildID, types.NewAlertEvent(alert))
	})
	db.OnMessageInsert(func(msg *types.Message) {
		eventBus.Publish(msg.ChildID, types.NewMessageEvent(msg))
	})

	// Classifier provider
	var provider llm.Provider
	llmCfg := &llm.Config{
		BaseURL:     cfg.Classifier.BaseURL,
		APIKey:      cfg.Classifier.APIKey,
		Model:       cfg.Classifier.Model,
		MaxTokens:   cfg.Classifier.MaxTokens,
		Temperature: cfg.Classifier.Temperature,
	}
	switch cfg.Classifier.Provider {
	case "openai":
		provider = openai.New(llmCfg)
	default:
		provider = gemini.New(llmCfg)
	}

	classifier, err := classify.New(provider,
		classify.WithTimeout(time.Duration(cfg.Classifier.TimeoutSeconds)*time.Second),
		classify.WithMaxTranscriptTokens(cfg.Classifier.MaxTranscriptTokens),
	)
	if err != nil {
		return fmt.Errorf("create classifier: %w", err)
	}

	// Coordinator
	coord := session.New(classifier, db, db, eventBus, int64(cfg.MaxConcurrent))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord.Start(ctx)
	defer coord.Stop()

	// Location registry and SOS handler
	locations := location.NewRegistry(time.Duration(cfg.SOS.LocationMaxAgeSeconds) * time.Second)
	sosHandler := sos.New(db, locations, time.Duration(cfg.SOS.TimeoutSeconds)*time.Second)

	slog.Info("kidwatch started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"classifier_provider", cfg.Classifier.Provider,
		"classifier_model", cfg.Classifier.Model,
		"pid_file", pidPath,
	)

	// Notification registry
	notifyReg := notify.NewRegistry()

	// Telegram notifier
	var notifier *notify.Notifier
	if cfg.Telegram.Token != "" {
		notifier, err = notify.NewNotifier(cfg.Telegram.Token, eventBus, db)
		if err != nil {
			return fmt.Errorf("create telegram notifier: %w", err)
		}
		go notifier.Start(ctx)
		slog.Info("telegram notifier started")

		notifyReg.Register("telegram:", notifier.SendTo)
	} else {
		slog.Warn("telegram notifier disabled (no token)")
	}

	// Daily digest
	if cfg.Digest.Enabled && notifier != nil {
		dig := digest.New(cfg.Digest.Schedule, notifier, db, notifyReg)
		if err := dig.Start(); err != nil {
			return fmt.Errorf("start digest: %w", err)
		}
		defer dig.Stop()
	}

	// HTTP API server
	if cfg.HTTP.Enabled {
		apiSrv := server.NewServer(coord, sosHandler, locations, db, db, db)
		httpServer := &http.Server{
			Addr:    cfg.HTTP.Listen,
			Handler: apiSrv,
		}
		go func() {
			slog.Info("api server started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("api server error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			httpServer.Close()
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up PID file before re-exec
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
