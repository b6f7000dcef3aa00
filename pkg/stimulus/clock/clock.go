// Package clock implements a headless [stimulus.Player] that advances its
// playback position in wall time.
//
// The kiosk frontend renders the actual video; this player is the
// controller-side clock that mirrors what the participant sees. Position
// accumulates only while playing, so pauses freeze sample timestamps exactly
// like a paused video element would.
package clock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/visagelab/facetrial/pkg/stimulus"
)

// tickInterval is how often the end-of-media watcher checks the position.
const tickInterval = 50 * time.Millisecond

// Player is a wall-clock-driven stimulus player.
type Player struct {
	mu       sync.Mutex
	media    stimulus.Media
	cued     bool
	playing  bool
	elapsed  time.Duration // accumulated play time before the current run
	runStart time.Time     // start of the current play run, valid while playing
	ended    bool
	onEnded  func()
	watcher  chan struct{} // closed on Close to stop the watcher
	closed   bool
}

// New returns an idle Player. Cue must be called before Play.
func New() *Player {
	return &Player{}
}

// Cue implements [stimulus.Player]. The media duration must be known.
func (p *Player) Cue(_ context.Context, media stimulus.Media) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("stimulus: player closed")
	}
	if media.Duration <= 0 {
		return fmt.Errorf("stimulus: media %q needs a positive duration", media.Ref)
	}
	p.media = media
	p.cued = true
	p.playing = false
	p.elapsed = 0
	p.ended = false
	return nil
}

// Play implements [stimulus.Player].
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.cued {
		return fmt.Errorf("stimulus: play before cue")
	}
	if p.playing || p.ended || p.closed {
		return nil
	}
	p.playing = true
	p.runStart = time.Now()
	if p.watcher == nil {
		p.watcher = make(chan struct{})
		go p.watchEnd(p.watcher)
	}
	return nil
}

// Pause implements [stimulus.Player].
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return nil
	}
	p.elapsed += time.Since(p.runStart)
	p.playing = false
	return nil
}

// Position implements [stimulus.Player].
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

// positionLocked computes the position. Must be called with p.mu held.
func (p *Player) positionLocked() time.Duration {
	pos := p.elapsed
	if p.playing {
		pos += time.Since(p.runStart)
	}
	if p.cued && pos > p.media.Duration {
		pos = p.media.Duration
	}
	return pos
}

// Duration implements [stimulus.Player].
func (p *Player) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.media.Duration
}

// OnEnded implements [stimulus.Player].
func (p *Player) OnEnded(cb func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEnded = cb
}

// Close implements [stimulus.Player].
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.playing = false
	if p.watcher != nil {
		close(p.watcher)
		p.watcher = nil
	}
	p.mu.Unlock()
	return nil
}

// watchEnd fires the ended callback once the position reaches the media
// duration. It exits when the player closes.
func (p *Player) watchEnd(stop <-chan struct{}) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		fire := p.playing && !p.ended && p.positionLocked() >= p.media.Duration
		var cb func()
		if fire {
			p.ended = true
			p.playing = false
			p.elapsed = p.media.Duration
			cb = p.onEnded
		}
		p.mu.Unlock()

		if fire {
			if cb != nil {
				cb()
			}
			return
		}
	}
}
