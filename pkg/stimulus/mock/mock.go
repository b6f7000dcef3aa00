// Package mock provides an in-memory mock implementation of
// [stimulus.Player] for use in unit tests.
//
// The mock is safe for concurrent use. Tests drive it directly: set the
// position with [Player.SetPosition] and simulate the stimulus finishing
// with [Player.EmitEnded].
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/visagelab/facetrial/pkg/stimulus"
)

// Player is a mock implementation of [stimulus.Player].
type Player struct {
	mu sync.Mutex

	// CueError is returned by Cue.
	CueError error

	// PlayError is returned by Play.
	PlayError error

	// DurationResult is returned by Duration. When zero, the duration of
	// the cued media is returned instead.
	DurationResult time.Duration

	// CallCountCue records how many times Cue was called.
	CallCountCue int

	// CallCountPlay records how many times Play was called.
	CallCountPlay int

	// CallCountPause records how many times Pause was called.
	CallCountPause int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// CuedMedia is the media passed to the most recent Cue call.
	CuedMedia stimulus.Media

	position time.Duration
	onEnded  func()
}

// Cue implements [stimulus.Player]. Records the media and returns CueError.
func (p *Player) Cue(_ context.Context, media stimulus.Media) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountCue++
	p.CuedMedia = media
	return p.CueError
}

// Play implements [stimulus.Player]. Returns PlayError.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountPlay++
	return p.PlayError
}

// Pause implements [stimulus.Player].
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountPause++
	return nil
}

// Position implements [stimulus.Player]. Returns the value most recently set
// via SetPosition.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// Duration implements [stimulus.Player].
func (p *Player) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DurationResult != 0 {
		return p.DurationResult
	}
	return p.CuedMedia.Duration
}

// OnEnded implements [stimulus.Player]. Replaces any previous registration.
func (p *Player) OnEnded(cb func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEnded = cb
}

// Close implements [stimulus.Player].
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountClose++
	return nil
}

// SetPosition sets the playback position returned by Position.
func (p *Player) SetPosition(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = d
}

// AdvancePosition moves the playback position forward by d and returns the
// new position.
func (p *Player) AdvancePosition(d time.Duration) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position += d
	return p.position
}

// EmitEnded invokes the registered ended callback, simulating the stimulus
// reaching its end. A missing registration is a no-op.
func (p *Player) EmitEnded() {
	p.mu.Lock()
	cb := p.onEnded
	p.mu.Unlock()
	if cb != nil {
		cb()
	}
}
