package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/visagelab/facetrial/internal/config"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
participant:
  user_id: participant-7
  experiment_id: exp-42
stimulus:
  ref: /media/stimulus.webm
  duration: 90s
capture:
  platform: ffmpeg
  device: /dev/video0
  mime_type: video/webm
  frame_rate: 30
  video_size: 1280x720
classifier:
  name: remote
  base_url: http://127.0.0.1:5005
sampling:
  interval: 500ms
  buffer_capacity: 1000
persistence:
  embedded: true
  listen_addr: ":8081"
  data_dir: /var/lib/facetrial/captures
  db_path: /var/lib/facetrial/facetrial.db
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("server.listen_addr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Participant.UserID != "participant-7" {
		t.Errorf("participant.user_id = %q, want participant-7", cfg.Participant.UserID)
	}
	if cfg.Stimulus.Duration != 90*time.Second {
		t.Errorf("stimulus.duration = %s, want 90s", cfg.Stimulus.Duration)
	}
	if cfg.Capture.Platform != "ffmpeg" || cfg.Capture.Device != "/dev/video0" {
		t.Errorf("capture block not decoded: %+v", cfg.Capture)
	}
	if cfg.Classifier.BaseURL != "http://127.0.0.1:5005" {
		t.Errorf("classifier.base_url = %q", cfg.Classifier.BaseURL)
	}
	if cfg.Sampling.Interval != 500*time.Millisecond {
		t.Errorf("sampling.interval = %s, want 500ms", cfg.Sampling.Interval)
	}
	if cfg.Sampling.BufferCapacity != 1000 {
		t.Errorf("sampling.buffer_capacity = %d, want 1000", cfg.Sampling.BufferCapacity)
	}
	if !cfg.Persistence.Embedded {
		t.Error("persistence.embedded should be true")
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
stimulus:
  ref: /media/stimulus.webm
  colour: blue
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_MalformedYAML(t *testing.T) {
	t.Parallel()
	if _, err := config.LoadFromReader(strings.NewReader("stimulus: [")); err == nil {
		t.Fatal("expected error for malformed YAML, got nil")
	}
}
