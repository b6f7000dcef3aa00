package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/visagelab/facetrial/pkg/capture"
	"github.com/visagelab/facetrial/pkg/classifier"
	"github.com/visagelab/facetrial/pkg/stimulus"
)

// ErrComponentNotRegistered is returned by Create* methods when no factory has
// been registered under the requested component name.
var ErrComponentNotRegistered = errors.New("config: component not registered")

// Registry maps component names to their constructor functions for each
// component type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	classifier map[string]func(ClassifierConfig) (classifier.Provider, error)
	capture    map[string]func(CaptureConfig) (capture.Platform, error)
	player     map[string]func(StimulusConfig) (stimulus.Player, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		classifier: make(map[string]func(ClassifierConfig) (classifier.Provider, error)),
		capture:    make(map[string]func(CaptureConfig) (capture.Platform, error)),
		player:     make(map[string]func(StimulusConfig) (stimulus.Player, error)),
	}
}

// RegisterClassifier registers a classifier factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterClassifier(name string, factory func(ClassifierConfig) (classifier.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifier[name] = factory
}

// RegisterCapture registers a capture platform factory under name.
func (r *Registry) RegisterCapture(name string, factory func(CaptureConfig) (capture.Platform, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterPlayer registers a stimulus player factory under name.
func (r *Registry) RegisterPlayer(name string, factory func(StimulusConfig) (stimulus.Player, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.player[name] = factory
}

// CreateClassifier instantiates a classifier using the factory registered
// under cfg.Name. Returns [ErrComponentNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateClassifier(cfg ClassifierConfig) (classifier.Provider, error) {
	r.mu.RLock()
	factory, ok := r.classifier[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: classifier/%q", ErrComponentNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// CreateCapture instantiates a capture platform using the factory registered
// under cfg.Platform.
func (r *Registry) CreateCapture(cfg CaptureConfig) (capture.Platform, error) {
	r.mu.RLock()
	factory, ok := r.capture[cfg.Platform]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrComponentNotRegistered, cfg.Platform)
	}
	return factory(cfg)
}

// CreatePlayer instantiates a stimulus player using the factory registered
// under name.
func (r *Registry) CreatePlayer(name string, cfg StimulusConfig) (stimulus.Player, error) {
	r.mu.RLock()
	factory, ok := r.player[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: player/%q", ErrComponentNotRegistered, name)
	}
	return factory(cfg)
}
