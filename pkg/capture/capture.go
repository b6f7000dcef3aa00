// Package capture defines the interfaces and types for webcam acquisition and
// recording within facetrial.
//
// The two primary abstractions are:
//
//   - [Platform] acquires the camera device and returns a [Session].
//   - [Session] is an active hold on the camera, giving callers single-frame
//     grabs for classification and an optional container recording that yields
//     one [RecordingArtifact] on stop.
//
// Frame grabs and container recording are deliberately independent: a session
// whose recording cannot start (unsupported codec, busy encoder) still serves
// frames, so expression sampling continues in a degraded, video-only mode.
//
// Implementations of these interfaces are provided by platform-specific
// adapter packages (e.g., capture/ffmpeg). The interfaces are intentionally
// narrow to keep the session controller decoupled from platform details.
package capture

import (
	"context"
	"errors"
)

// ErrRecorderUnavailable is returned by [Session.StartRecording] when the
// platform cannot record the stream (unsupported container/codec, encoder
// busy). The caller should continue without a recording rather than abort.
var ErrRecorderUnavailable = errors.New("capture: recorder unavailable")

// ErrNoFrame is returned by [Session.Frame] when no camera frame has arrived
// yet. Transient; callers should simply retry on their next tick.
var ErrNoFrame = errors.New("capture: no frame available")

// RecordingArtifact is the finalized recording produced by a [Session] when
// recording stops. It is created exactly once and immutable thereafter.
type RecordingArtifact struct {
	// Data is the full encoded container (e.g., WebM).
	Data []byte

	// Size is len(Data) in bytes, kept explicit for logging and upload
	// metadata.
	Size int64

	// MimeType is the container mime type (e.g., "video/webm").
	MimeType string
}

// Frame is a single encoded camera image returned by [Session.Frame].
type Frame struct {
	// Data is the encoded image bytes.
	Data []byte

	// MimeType describes the encoding (e.g., "image/jpeg").
	MimeType string
}

// DeviceConfig selects and configures the camera device for [Platform.Open].
type DeviceConfig struct {
	// Device is the platform-specific device identifier (e.g., "/dev/video0").
	Device string

	// MimeType is the requested recording container mime type.
	// Empty selects the platform default.
	MimeType string

	// FrameRate is the requested capture rate in frames per second.
	// Zero selects the platform default.
	FrameRate int

	// VideoSize is the requested capture resolution (e.g., "640x480").
	// Empty selects the platform default.
	VideoSize string
}

// Session represents an active hold on the camera.
//
// A Session is obtained from [Platform.Open] and owns the camera until
// [Session.Close] is called. Exactly one component may own a Session at a
// time; nothing else may release the camera directly.
//
// Implementations must be safe for concurrent use.
type Session interface {
	// Frame returns the most recent camera frame. It returns [ErrNoFrame]
	// before the first frame arrives and after Close.
	Frame(ctx context.Context) (Frame, error)

	// StartRecording begins writing the camera stream into a container.
	// Returns [ErrRecorderUnavailable] when recording cannot start; the
	// session remains usable for Frame in that case. Calling StartRecording
	// twice is an error.
	StartRecording() error

	// StopRecording finalizes the container and returns the artifact.
	// It is idempotent: a second call, or a call when recording never
	// started, returns (nil, nil).
	StopRecording(ctx context.Context) (*RecordingArtifact, error)

	// Close releases the camera device. It implicitly stops an in-progress
	// recording, discarding its artifact. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Platform is the entry point for a camera provider. Implementations wrap
// platform-specific capture mechanisms (ffmpeg/v4l2, test doubles, …) and
// expose a uniform [Session] abstraction.
type Platform interface {
	// Open acquires the camera described by cfg and returns an active
	// [Session]. The supplied ctx governs the acquisition attempt only; once
	// open, the Session remains alive until [Session.Close].
	Open(ctx context.Context, cfg DeviceConfig) (Session, error)
}
