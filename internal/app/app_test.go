package app

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/visagelab/facetrial/internal/config"
	"github.com/visagelab/facetrial/pkg/capture"
	capturemock "github.com/visagelab/facetrial/pkg/capture/mock"
	"github.com/visagelab/facetrial/pkg/classifier"
	classifiermock "github.com/visagelab/facetrial/pkg/classifier/mock"
	"github.com/visagelab/facetrial/pkg/stimulus"
	stimulusmock "github.com/visagelab/facetrial/pkg/stimulus/mock"
)

// newTestApp wires an App with mock components and an embedded persistence
// service on an ephemeral port.
func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		Server:      config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Participant: config.ParticipantConfig{UserID: "participant-7", ExperimentID: "exp-42"},
		Stimulus:    config.StimulusConfig{Ref: "/media/stimulus.webm", Duration: time.Hour},
		Capture:     config.CaptureConfig{Platform: "mock"},
		Classifier:  config.ClassifierConfig{Name: "mock"},
		Sampling:    config.SamplingConfig{Interval: 5 * time.Millisecond},
		Persistence: config.PersistenceConfig{
			Embedded:   true,
			ListenAddr: "127.0.0.1:0",
			DataDir:    filepath.Join(dir, "captures"),
			DBPath:     filepath.Join(dir, "facetrial.db"),
		},
	}

	reg := config.NewRegistry()
	reg.RegisterClassifier("mock", func(config.ClassifierConfig) (classifier.Provider, error) {
		return &classifiermock.Provider{
			DetectResult: &classifier.Detection{Expressions: map[string]float64{"happy": 0.9}},
		}, nil
	})
	reg.RegisterCapture("mock", func(config.CaptureConfig) (capture.Platform, error) {
		return &capturemock.Platform{
			OpenResult: &capturemock.Session{
				FrameResult: capture.Frame{Data: []byte("jpeg"), MimeType: "image/jpeg"},
				StopResult:  &capture.RecordingArtifact{Data: []byte("webm"), MimeType: "video/webm"},
			},
		}, nil
	})
	reg.RegisterPlayer("clock", func(config.StimulusConfig) (stimulus.Player, error) {
		return &stimulusmock.Player{}, nil
	})

	a, err := New(context.Background(), cfg, reg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func TestAppRunsFullSession(t *testing.T) {
	a := newTestApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- a.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-runDone; err != nil {
			t.Errorf("run: %v", err)
		}
		if err := a.Shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}()

	base := "http://" + a.ControlAddr()

	resp, err := http.Post(base+"/api/session/start", "application/json", nil)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("want 202 on start, got %d", resp.StatusCode)
	}

	waitFor(t, base, "recording")

	// Let a few sampling ticks land before stopping.
	time.Sleep(50 * time.Millisecond)

	resp, err = http.Post(base+"/api/session/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("stop session: %v", err)
	}
	resp.Body.Close()

	final := waitFor(t, base, "completed")
	if final.Samples == 0 {
		t.Error("completed session collected no samples")
	}
	if final.CaptureID == "" {
		t.Error("completed session has no capture id; persistence handoff failed")
	}
}

type status struct {
	State     string `json:"state"`
	Samples   int    `json:"samples"`
	CaptureID string `json:"captureId"`
}

func waitFor(t *testing.T, base, state string) status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last status
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/api/session")
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		err = json.NewDecoder(resp.Body).Decode(&last)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if last.State == state {
			return last
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state never reached %q, last was %q", state, last.State)
	return status{}
}
