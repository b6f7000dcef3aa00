package config_test

import (
	"errors"
	"testing"

	"github.com/visagelab/facetrial/internal/config"
	"github.com/visagelab/facetrial/pkg/capture"
	capturemock "github.com/visagelab/facetrial/pkg/capture/mock"
	"github.com/visagelab/facetrial/pkg/classifier"
	classifiermock "github.com/visagelab/facetrial/pkg/classifier/mock"
)

func TestRegistry_CreateClassifier(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	r.RegisterClassifier("mock", func(config.ClassifierConfig) (classifier.Provider, error) {
		return &classifiermock.Provider{}, nil
	})

	p, err := r.CreateClassifier(config.ClassifierConfig{Name: "mock"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected a provider instance")
	}
}

func TestRegistry_CreateCapture(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	var seen config.CaptureConfig
	r.RegisterCapture("mock", func(cfg config.CaptureConfig) (capture.Platform, error) {
		seen = cfg
		return &capturemock.Platform{}, nil
	})

	_, err := r.CreateCapture(config.CaptureConfig{Platform: "mock", Device: "/dev/video0"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen.Device != "/dev/video0" {
		t.Errorf("factory did not receive config: %+v", seen)
	}
}

func TestRegistry_UnregisteredName(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	_, err := r.CreateClassifier(config.ClassifierConfig{Name: "nope"})
	if !errors.Is(err, config.ErrComponentNotRegistered) {
		t.Fatalf("want ErrComponentNotRegistered, got %v", err)
	}
	if _, err := r.CreateCapture(config.CaptureConfig{Platform: "nope"}); !errors.Is(err, config.ErrComponentNotRegistered) {
		t.Fatalf("want ErrComponentNotRegistered, got %v", err)
	}
	if _, err := r.CreatePlayer("nope", config.StimulusConfig{}); !errors.Is(err, config.ErrComponentNotRegistered) {
		t.Fatalf("want ErrComponentNotRegistered, got %v", err)
	}
}
