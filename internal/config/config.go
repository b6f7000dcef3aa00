// Package config provides the configuration schema, loader, and component
// registry for the facetrial experiment runner.
package config

import "time"

// LogLevel controls log verbosity for the runner.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for the runner.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Participant ParticipantConfig `yaml:"participant"`
	Stimulus    StimulusConfig    `yaml:"stimulus"`
	Capture     CaptureConfig     `yaml:"capture"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	Sampling    SamplingConfig    `yaml:"sampling"`
	Persistence PersistenceConfig `yaml:"persistence"`
}

// ServerConfig holds network and logging settings for the control API.
type ServerConfig struct {
	// ListenAddr is the TCP address the control API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ParticipantConfig identifies who is sitting in front of the kiosk.
type ParticipantConfig struct {
	// UserID identifies the participant. Required to run a session.
	UserID string `yaml:"user_id"`

	// ExperimentID identifies the experiment this station belongs to.
	ExperimentID string `yaml:"experiment_id"`
}

// StimulusConfig selects the video shown to the participant.
type StimulusConfig struct {
	// Ref is the stimulus video location (file path or URL).
	Ref string `yaml:"ref"`

	// Duration is the stimulus length. Used by the clock-driven player;
	// players that can probe the media themselves may ignore it.
	Duration time.Duration `yaml:"duration"`
}

// CaptureConfig selects and configures the webcam platform.
type CaptureConfig struct {
	// Platform selects the registered capture implementation
	// (e.g., "ffmpeg", "mock").
	Platform string `yaml:"platform"`

	// Device is the camera device node (e.g., "/dev/video0").
	Device string `yaml:"device"`

	// MimeType is the preferred recording container (e.g., "video/webm").
	MimeType string `yaml:"mime_type"`

	// FrameRate is the camera capture rate in frames per second.
	FrameRate int `yaml:"frame_rate"`

	// VideoSize is the requested capture resolution (e.g., "1280x720").
	VideoSize string `yaml:"video_size"`
}

// ClassifierConfig selects the expression classifier.
type ClassifierConfig struct {
	// Name selects the registered classifier implementation
	// (e.g., "remote", "mock").
	Name string `yaml:"name"`

	// BaseURL is the endpoint of the classifier sidecar when Name is "remote".
	BaseURL string `yaml:"base_url"`
}

// SamplingConfig tunes the expression sampling loop.
type SamplingConfig struct {
	// Interval is the sampling cadence. Zero selects the default of 500ms.
	Interval time.Duration `yaml:"interval"`

	// BufferCapacity bounds the in-memory sample buffer. Zero selects the
	// default of 1000.
	BufferCapacity int `yaml:"buffer_capacity"`
}

// PersistenceConfig describes where session results are stored.
type PersistenceConfig struct {
	// BaseURL is the persistence service endpoint the runner uploads to.
	// When Embedded is true and BaseURL is empty, the embedded service's own
	// listen address is used.
	BaseURL string `yaml:"base_url"`

	// Embedded runs the persistence service inside the runner process.
	Embedded bool `yaml:"embedded"`

	// ListenAddr is the TCP address of the embedded persistence service.
	ListenAddr string `yaml:"listen_addr"`

	// DataDir is where the embedded service stores recording blobs.
	DataDir string `yaml:"data_dir"`

	// DBPath is the embedded service's SQLite database file.
	DBPath string `yaml:"db_path"`
}
