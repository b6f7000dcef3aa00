package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidComponentNames lists known implementation names per component kind.
// Used by [Validate] to warn about unrecognised names.
var ValidComponentNames = map[string][]string{
	"capture":    {"ffmpeg", "mock"},
	"classifier": {"remote", "mock"},
}

// videoSizePattern matches WIDTHxHEIGHT resolutions such as "1280x720".
var videoSizePattern = regexp.MustCompile(`^\d{2,5}x\d{2,5}$`)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Component name validation, warn for unknown names.
	validateComponentName("capture", cfg.Capture.Platform)
	validateComponentName("classifier", cfg.Classifier.Name)

	// Participant
	if cfg.Participant.UserID == "" {
		slog.Warn("participant.user_id is empty; sessions cannot start until it is set")
	}

	// Stimulus
	if cfg.Stimulus.Ref == "" {
		errs = append(errs, errors.New("stimulus.ref is required"))
	}
	if cfg.Stimulus.Duration < 0 {
		errs = append(errs, fmt.Errorf("stimulus.duration %s is negative", cfg.Stimulus.Duration))
	}

	// Capture
	if cfg.Capture.FrameRate < 0 {
		errs = append(errs, fmt.Errorf("capture.frame_rate %d is negative", cfg.Capture.FrameRate))
	}
	if cfg.Capture.VideoSize != "" && !videoSizePattern.MatchString(cfg.Capture.VideoSize) {
		errs = append(errs, fmt.Errorf("capture.video_size %q is invalid; expected WIDTHxHEIGHT (e.g., 1280x720)", cfg.Capture.VideoSize))
	}

	// Classifier
	if cfg.Classifier.Name == "remote" && cfg.Classifier.BaseURL == "" {
		errs = append(errs, errors.New("classifier.base_url is required when classifier.name is remote"))
	}

	// Sampling
	if cfg.Sampling.Interval < 0 {
		errs = append(errs, fmt.Errorf("sampling.interval %s is negative", cfg.Sampling.Interval))
	}
	if cfg.Sampling.Interval > 0 && cfg.Sampling.Interval < 50*time.Millisecond {
		slog.Warn("sampling.interval is very aggressive; the classifier may not keep up",
			"interval", cfg.Sampling.Interval)
	}
	if cfg.Sampling.BufferCapacity < 0 {
		errs = append(errs, fmt.Errorf("sampling.buffer_capacity %d is negative", cfg.Sampling.BufferCapacity))
	}

	// Persistence
	if cfg.Persistence.Embedded {
		if cfg.Persistence.ListenAddr == "" {
			errs = append(errs, errors.New("persistence.listen_addr is required when persistence.embedded is true"))
		}
		if cfg.Persistence.DBPath == "" {
			errs = append(errs, errors.New("persistence.db_path is required when persistence.embedded is true"))
		}
		if cfg.Persistence.DataDir == "" {
			errs = append(errs, errors.New("persistence.data_dir is required when persistence.embedded is true"))
		}
	} else if cfg.Persistence.BaseURL == "" {
		slog.Warn("persistence.base_url is empty and no embedded service is configured; session results will not be stored")
	}

	return errors.Join(errs...)
}

// validateComponentName logs a warning if name is non-empty and not found in
// the [ValidComponentNames] list for the given kind.
func validateComponentName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidComponentNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown component name, may be a typo or third-party component",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
