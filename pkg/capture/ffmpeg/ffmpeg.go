// Package ffmpeg implements [capture.Platform] on top of an external ffmpeg
// process reading a V4L2 camera device.
//
// One process serves both needs of a session: it muxes the camera stream into
// the recording container on disk and simultaneously emits an MJPEG stream on
// stdout, from which the adapter keeps the most recent complete JPEG for
// [capture.Session.Frame]. When the requested container mime type has no
// known muxer, the process runs frame-only and StartRecording reports
// [capture.ErrRecorderUnavailable], the degraded mode the session controller
// expects.
//
// Stopping a recording sends SIGINT so ffmpeg finalizes the container before
// exiting; the finished file is read back as the [capture.RecordingArtifact].
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/visagelab/facetrial/pkg/capture"
)

// stopTimeout bounds how long StopRecording waits for ffmpeg to finalize the
// container after SIGINT before escalating to SIGKILL.
const stopTimeout = 10 * time.Second

// muxers maps recording mime types to ffmpeg format names.
var muxers = map[string]string{
	"video/webm":       "webm",
	"video/mp4":        "mp4",
	"video/x-matroska": "matroska",
}

// Platform opens camera sessions backed by the ffmpeg binary.
type Platform struct {
	// Binary is the ffmpeg executable. Empty means "ffmpeg" on PATH.
	Binary string

	// WorkDir is where recording containers are staged. Empty means the
	// system temp directory.
	WorkDir string
}

// New returns a Platform using the ffmpeg binary found on PATH.
func New() *Platform {
	return &Platform{}
}

// Open implements [capture.Platform]. It starts the ffmpeg process and waits
// for it to come up; frames become available shortly after.
func (p *Platform) Open(ctx context.Context, cfg capture.DeviceConfig) (capture.Session, error) {
	binary := p.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	device := cfg.Device
	if device == "" {
		device = "/dev/video0"
	}
	mimeType := cfg.MimeType
	if mimeType == "" {
		mimeType = "video/webm"
	}

	workDir := p.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}

	format, recordable := muxers[mimeType]

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "v4l2",
	}
	if cfg.FrameRate > 0 {
		args = append(args, "-framerate", strconv.Itoa(cfg.FrameRate))
	}
	if cfg.VideoSize != "" {
		args = append(args, "-video_size", cfg.VideoSize)
	}
	args = append(args, "-i", device)

	var outPath string
	if recordable {
		f, err := os.CreateTemp(workDir, "facetrial-capture-*"+extFor(format))
		if err != nil {
			return nil, fmt.Errorf("ffmpeg: create staging file: %w", err)
		}
		outPath = f.Name()
		f.Close()
		args = append(args, "-map", "0:v", "-f", format, "-y", outPath)
	} else {
		slog.Warn("ffmpeg: no muxer for requested mime type, recording unavailable", "mime_type", mimeType)
	}

	// Frame tap: low-rate MJPEG on stdout.
	args = append(args, "-map", "0:v", "-vf", "fps=4", "-f", "mjpeg", "-q:v", "5", "pipe:1")

	cmd := exec.Command(binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		removeIfSet(outPath)
		return nil, fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		removeIfSet(outPath)
		return nil, fmt.Errorf("ffmpeg: start %q on %s: %w", binary, device, err)
	}

	s := &session{
		cmd:        cmd,
		stderr:     &stderr,
		outPath:    outPath,
		mimeType:   mimeType,
		recordable: recordable && outPath != "",
		exited:     make(chan struct{}),
	}
	go s.scanFrames(stdout)
	go func() {
		s.waitErr = cmd.Wait()
		close(s.exited)
	}()

	// Fail fast if the device could not be opened at all.
	select {
	case <-s.exited:
		removeIfSet(outPath)
		return nil, fmt.Errorf("ffmpeg: exited immediately: %v: %s", s.waitErr, bytes.TrimSpace(stderr.Bytes()))
	case <-ctx.Done():
		_ = s.Close()
		return nil, ctx.Err()
	case <-time.After(200 * time.Millisecond):
	}

	slog.Info("camera session opened", "device", device, "mime_type", mimeType, "recordable", s.recordable)
	return s, nil
}

// session is an active ffmpeg-backed camera hold.
type session struct {
	cmd        *exec.Cmd
	stderr     *bytes.Buffer
	outPath    string
	mimeType   string
	recordable bool

	exited  chan struct{}
	waitErr error

	mu        sync.Mutex
	lastFrame []byte
	recording bool
	stopped   bool
	closed    bool
	artifact  *capture.RecordingArtifact
}

// scanFrames reads the MJPEG stream and retains the latest complete JPEG.
// JPEG images are delimited by the SOI (FFD8) and EOI (FFD9) markers.
func (s *session) scanFrames(r io.Reader) {
	var buf []byte
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				start := bytes.Index(buf, []byte{0xFF, 0xD8})
				if start < 0 {
					// Keep at most one trailing byte in case a marker is split.
					if len(buf) > 1 {
						buf = buf[len(buf)-1:]
					}
					break
				}
				end := bytes.Index(buf[start+2:], []byte{0xFF, 0xD9})
				if end < 0 {
					buf = buf[start:]
					break
				}
				frame := make([]byte, end+4)
				copy(frame, buf[start:start+end+4])
				buf = buf[start+end+4:]

				s.mu.Lock()
				s.lastFrame = frame
				s.mu.Unlock()
			}
		}
		if err != nil {
			return
		}
	}
}

// Frame implements [capture.Session].
func (s *session) Frame(_ context.Context) (capture.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.lastFrame == nil {
		return capture.Frame{}, capture.ErrNoFrame
	}
	return capture.Frame{Data: s.lastFrame, MimeType: "image/jpeg"}, nil
}

// StartRecording implements [capture.Session]. The container has been
// written since Open; this call marks it as wanted so StopRecording keeps it
// instead of discarding it.
func (s *session) StartRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("ffmpeg: session closed")
	}
	if !s.recordable {
		return capture.ErrRecorderUnavailable
	}
	if s.recording {
		return fmt.Errorf("ffmpeg: recording already started")
	}
	s.recording = true
	return nil
}

// StopRecording implements [capture.Session]. It stops the ffmpeg process
// (finalizing the container), reads the staged file, and returns the
// artifact. Idempotent; (nil, nil) when recording never started.
func (s *session) StopRecording(ctx context.Context) (*capture.RecordingArtifact, error) {
	s.mu.Lock()
	if !s.recording || s.closed {
		s.mu.Unlock()
		return nil, nil
	}
	if s.stopped {
		art := s.artifact
		s.mu.Unlock()
		return art, nil
	}
	s.stopped = true
	s.mu.Unlock()

	if err := s.terminate(ctx); err != nil {
		return nil, fmt.Errorf("ffmpeg: stop recording: %w", err)
	}

	data, err := os.ReadFile(s.outPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: read recording: %w", err)
	}
	_ = os.Remove(s.outPath)

	art := &capture.RecordingArtifact{
		Data:     data,
		Size:     int64(len(data)),
		MimeType: s.mimeType,
	}
	s.mu.Lock()
	s.artifact = art
	s.mu.Unlock()
	return art, nil
}

// terminate asks ffmpeg to exit cleanly and waits for it, escalating to
// SIGKILL after stopTimeout.
func (s *session) terminate(ctx context.Context) error {
	select {
	case <-s.exited:
		return nil
	default:
	}
	if err := s.cmd.Process.Signal(syscall.SIGINT); err != nil {
		return err
	}

	timer := time.NewTimer(stopTimeout)
	defer timer.Stop()
	select {
	case <-s.exited:
		return nil
	case <-ctx.Done():
		_ = s.cmd.Process.Kill()
		<-s.exited
		return ctx.Err()
	case <-timer.C:
		slog.Warn("ffmpeg did not exit after SIGINT, killing", "stderr", s.stderr.String())
		_ = s.cmd.Process.Kill()
		<-s.exited
		return nil
	}
}

// Close implements [capture.Session]. Releases the camera and discards any
// unfinalized recording.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	err := s.terminate(ctx)

	removeIfSet(s.outPath)
	return err
}

// extFor returns a file extension for an ffmpeg format name.
func extFor(format string) string {
	switch format {
	case "webm":
		return ".webm"
	case "mp4":
		return ".mp4"
	default:
		return ".mkv"
	}
}

// removeIfSet deletes path when non-empty, ignoring errors.
func removeIfSet(path string) {
	if path != "" {
		_ = os.Remove(filepath.Clean(path))
	}
}
