// Command facetrial is the participant-facing experiment runner: it plays a
// stimulus video, records the webcam, samples facial expressions at a fixed
// cadence, and persists the results.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/visagelab/facetrial/internal/app"
	"github.com/visagelab/facetrial/internal/config"
	"github.com/visagelab/facetrial/pkg/capture"
	captureffmpeg "github.com/visagelab/facetrial/pkg/capture/ffmpeg"
	capturemock "github.com/visagelab/facetrial/pkg/capture/mock"
	"github.com/visagelab/facetrial/pkg/classifier"
	classifiermock "github.com/visagelab/facetrial/pkg/classifier/mock"
	"github.com/visagelab/facetrial/pkg/classifier/remote"
	"github.com/visagelab/facetrial/pkg/stimulus"
	stimulusclock "github.com/visagelab/facetrial/pkg/stimulus/clock"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "facetrial: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "facetrial: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("facetrial starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"stimulus", cfg.Stimulus.Ref,
	)

	reg := config.NewRegistry()
	registerBuiltinComponents(reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// Reload log level and next-session parameters when the config file
	// changes on disk. Structural changes still require a restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			slog.SetDefault(newLogger(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.ParticipantChanged || d.StimulusChanged || d.SamplingChanged {
			slog.Warn("session parameters changed on disk; restart to apply them")
		}
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("runner ready")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinComponents wires the component factories that ship with the
// runner into reg.
func registerBuiltinComponents(reg *config.Registry) {
	reg.RegisterClassifier("remote", func(cfg config.ClassifierConfig) (classifier.Provider, error) {
		return remote.New(cfg.BaseURL), nil
	})
	reg.RegisterClassifier("mock", func(config.ClassifierConfig) (classifier.Provider, error) {
		return &classifiermock.Provider{
			DetectResult: &classifier.Detection{Expressions: map[string]float64{"neutral": 1.0}},
		}, nil
	})

	reg.RegisterCapture("ffmpeg", func(config.CaptureConfig) (capture.Platform, error) {
		return captureffmpeg.New(), nil
	})
	reg.RegisterCapture("mock", func(config.CaptureConfig) (capture.Platform, error) {
		return &capturemock.Platform{OpenResult: &capturemock.Session{}}, nil
	})

	reg.RegisterPlayer("clock", func(config.StimulusConfig) (stimulus.Player, error) {
		return stimulusclock.New(), nil
	})
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
