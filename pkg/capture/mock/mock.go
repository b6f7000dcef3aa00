// Package mock provides in-memory mock implementations of [capture.Platform]
// and [capture.Session] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// tests can assert on call counts, and expose exported fields the test can
// set to control return values.
//
// Typical usage:
//
//	sess := &mock.Session{
//	    FrameResult: capture.Frame{Data: []byte("jpeg"), MimeType: "image/jpeg"},
//	    StopResult:  &capture.RecordingArtifact{Data: []byte("webm"), MimeType: "video/webm"},
//	}
//	platform := &mock.Platform{OpenResult: sess}
package mock

import (
	"context"
	"sync"

	"github.com/visagelab/facetrial/pkg/capture"
)

// ─── Session ─────────────────────────────────────────────────────────────────

// Session is a mock implementation of [capture.Session].
// Set the exported Result fields before use; inspect the Call* fields after.
type Session struct {
	mu sync.Mutex

	// FrameResult is returned by Frame when FrameError is nil.
	FrameResult capture.Frame

	// FrameError is returned by Frame. Set to capture.ErrNoFrame to model a
	// camera that has not produced a frame yet.
	FrameError error

	// StartError is returned by StartRecording. Set to
	// capture.ErrRecorderUnavailable to exercise degraded mode.
	StartError error

	// StopResult is the artifact returned by the first effective
	// StopRecording call.
	StopResult *capture.RecordingArtifact

	// StopError is returned by StopRecording.
	StopError error

	// CloseError is returned by the first Close call.
	CloseError error

	// CallCountFrame records how many times Frame was called.
	CallCountFrame int

	// CallCountStart records how many times StartRecording was called.
	CallCountStart int

	// CallCountStop records how many times StopRecording was called.
	CallCountStop int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	recording bool
	stopped   bool
	closed    bool
}

// Frame implements [capture.Session].
func (s *Session) Frame(_ context.Context) (capture.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountFrame++
	if s.closed {
		return capture.Frame{}, capture.ErrNoFrame
	}
	if s.FrameError != nil {
		return capture.Frame{}, s.FrameError
	}
	return s.FrameResult, nil
}

// StartRecording implements [capture.Session]. Returns StartError.
func (s *Session) StartRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartError != nil {
		return s.StartError
	}
	s.recording = true
	return nil
}

// StopRecording implements [capture.Session]. The first call after a
// successful StartRecording returns StopResult; all other calls are no-ops
// returning (nil, nil), matching the idempotence contract.
func (s *Session) StopRecording(_ context.Context) (*capture.RecordingArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	if !s.recording || s.stopped {
		return nil, nil
	}
	s.stopped = true
	return s.StopResult, s.StopError
}

// Close implements [capture.Session]. Only the first call returns CloseError.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.closed {
		return nil
	}
	s.closed = true
	return s.CloseError
}

// Closed reports whether Close has been called at least once.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Platform ────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Platform.Open] invocation.
type OpenCall struct {
	// Config is the device config passed to Open.
	Config capture.DeviceConfig
}

// Platform is a mock implementation of [capture.Platform].
type Platform struct {
	mu sync.Mutex

	// OpenResult is the [capture.Session] returned by Open.
	OpenResult capture.Session

	// OpenError is the error returned by Open.
	OpenError error

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall
}

// Open implements [capture.Platform]. Records the call and returns
// OpenResult / OpenError.
func (p *Platform) Open(_ context.Context, cfg capture.DeviceConfig) (capture.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OpenCalls = append(p.OpenCalls, OpenCall{Config: cfg})
	return p.OpenResult, p.OpenError
}
