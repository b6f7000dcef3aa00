// Package stimulus defines the Player interface for driving the reference
// video shown to a participant during an experiment.
//
// The session controller depends only on this interface. Sample timestamps
// are taken from [Player.Position], the playback position rather than
// wall-clock time, so samples stay meaningful when playback pauses or seeks.
//
// Implementations must be safe for concurrent use.
package stimulus

import (
	"context"
	"time"
)

// Media identifies the stimulus to play.
type Media struct {
	// Ref is the implementation-specific media reference (file path, URL, …).
	Ref string

	// Duration is the known media duration. Implementations that can probe
	// the media themselves may ignore it; the clock player requires it.
	Duration time.Duration
}

// Player drives playback of a stimulus.
type Player interface {
	// Cue loads the media and prepares playback without starting it.
	Cue(ctx context.Context, media Media) error

	// Play starts or resumes playback. Calling Play while already playing is
	// a no-op.
	Play() error

	// Pause suspends playback, freezing Position. Calling Pause while
	// already paused is a no-op.
	Pause() error

	// Position returns the current playback position.
	Position() time.Duration

	// Duration returns the cued media's duration, or zero before Cue.
	Duration() time.Duration

	// OnEnded registers cb to be invoked once when playback reaches the end
	// of the media. Only one callback may be registered at a time;
	// subsequent calls replace the previous registration. The callback runs
	// on an internal goroutine and must not block.
	OnEnded(cb func())

	// Close stops playback and releases player resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}
