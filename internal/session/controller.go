// Package session implements the experiment session controller: the state
// machine that keeps stimulus playback, webcam capture, expression sampling,
// and persistence consistent under asynchronous completion, partial failure,
// and unpredictable teardown ordering.
//
// The central correctness rule lives in the Recording→Finalizing transition:
// the sample scheduler is stopped and the sample buffer snapshotted in one
// synchronous step, before any further asynchronous call is issued. All
// downstream work (recorder stop, upload, submission, the completion
// callback) operates on that snapshot, never on the live buffer, so no
// interleaved teardown can lose already-collected samples.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/visagelab/facetrial/internal/observe"
	"github.com/visagelab/facetrial/pkg/capture"
	"github.com/visagelab/facetrial/pkg/classifier"
	"github.com/visagelab/facetrial/pkg/stimulus"
)

// Persister is the client side of the persistence gateway as the controller
// sees it. Both methods are best-effort from the controller's point of view:
// their errors are logged and never block completion.
type Persister interface {
	// UploadCapture stores the finished recording and returns its durable
	// capture ID.
	UploadCapture(ctx context.Context, in UploadInput) (captureID string, err error)

	// SubmitSamples stores the sample snapshot. An empty captureID asks the
	// receiving side to link the samples to the participant's most recent
	// capture on a best-effort basis.
	SubmitSamples(ctx context.Context, userID, captureID string, samples []Sample) error
}

// UploadInput carries the recording artifact and its metadata to
// [Persister.UploadCapture].
type UploadInput struct {
	Video           []byte
	MimeType        string
	UserID          string
	ExperimentID    string
	DurationSeconds float64
}

// CompletionFunc receives the snapshotted samples and the durable capture ID
// (empty when storage failed or recording was unavailable). It is invoked
// exactly once per session, and only from the Completed state.
type CompletionFunc func(samples []Sample, captureID string)

// FailureFunc receives the unrecoverable session error. Invoked at most once,
// mutually exclusive with the completion callback.
type FailureFunc func(err error)

// Config holds the collaborators and parameters for a [Controller].
type Config struct {
	// Classifier performs per-frame expression detection. Required.
	Classifier classifier.Provider

	// Camera acquires the participant's webcam. Required.
	Camera capture.Platform

	// Player drives the stimulus video. Required. The controller pauses the
	// player on finalize but does not close it; the player belongs to the
	// caller.
	Player stimulus.Player

	// Persister hands the finished measurement to durable storage. Optional;
	// nil disables persistence (samples are still delivered to OnComplete).
	Persister Persister

	// Media is the stimulus to cue.
	Media stimulus.Media

	// Device selects and configures the camera.
	Device capture.DeviceConfig

	// UserID identifies the participant.
	UserID string

	// ExperimentID identifies the experiment. Optional.
	ExperimentID string

	// SampleInterval is the scheduler cadence. Zero selects
	// [DefaultSampleInterval].
	SampleInterval time.Duration

	// BufferCapacity bounds the sample buffer. Zero selects
	// [DefaultBufferCapacity].
	BufferCapacity int

	// Metrics records session telemetry. Optional.
	Metrics *observe.Metrics

	// OnComplete is the completion callback. Optional but pointless to omit.
	OnComplete CompletionFunc

	// OnFailure reports unrecoverable failures. Optional.
	OnFailure FailureFunc
}

// Controller owns one experiment run. Exactly one Controller exists per run;
// Start may be called once. All exported methods are safe for concurrent use.
type Controller struct {
	cfg    Config
	buffer *SampleBuffer

	mu        sync.Mutex
	state     State
	sched     *Scheduler
	camera    capture.Session
	degraded  bool // recorder unavailable, video-only session
	aborted   bool // Close ran before Recording; run must not proceed
	listeners []func(State)

	// terminalOnce guards the single terminal notification (completion or
	// failure); releaseOnce guards camera/classifier teardown so every exit
	// path releases exactly once.
	terminalOnce sync.Once
	releaseOnce  sync.Once
}

// New creates a Controller in the Idle state.
func New(cfg Config) (*Controller, error) {
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("session: classifier is required")
	}
	if cfg.Camera == nil {
		return nil, fmt.Errorf("session: camera platform is required")
	}
	if cfg.Player == nil {
		return nil, fmt.Errorf("session: stimulus player is required")
	}
	return &Controller{
		cfg:    cfg,
		buffer: NewSampleBuffer(cfg.BufferCapacity),
		state:  StateIdle,
	}, nil
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SampleCount returns the number of samples collected so far.
func (c *Controller) SampleCount() int {
	return c.buffer.Len()
}

// Degraded reports whether the session is running video-only because the
// recorder could not start.
func (c *Controller) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// OnStateChange registers a listener invoked after every state transition.
// Listeners run on controller goroutines and must not block.
func (c *Controller) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Start begins the session: Idle → Loading, then asynchronously loads the
// classifier, cues the stimulus, acquires the camera (Armed), and starts
// playback, recording, and sampling (Recording). It returns immediately;
// progress is observable via State, OnStateChange, and the terminal
// callbacks. Returns an error if the controller has already been started.
//
// ctx governs the startup sequence and the sampling loop. There is no
// internal timeout: a stuck model load leaves the session in Loading until
// the caller cancels ctx.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("session: already started (state %s)", st)
	}
	c.state = StateLoading
	c.mu.Unlock()
	c.notify(StateLoading)

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	}

	go c.run(ctx)
	return nil
}

// run executes Loading → Armed → Recording. Any error on this path is fatal.
// After every suspension point the aborted flag is re-checked: Close may have
// torn the session down while a slow call was still in flight, and run must
// then stop instead of marching a dead session forward.
func (c *Controller) run(ctx context.Context) {
	// Loading: classifier model load. The only unrecoverable failure class
	// besides camera acquisition.
	if err := c.cfg.Classifier.Load(ctx); err != nil {
		c.fail(fmt.Errorf("session: load classifier model: %w", err))
		return
	}
	if c.abortRequested() {
		return
	}

	// Armed: cue the stimulus, register end-of-stimulus, acquire the camera.
	if err := c.cfg.Player.Cue(ctx, c.cfg.Media); err != nil {
		c.fail(fmt.Errorf("session: cue stimulus %q: %w", c.cfg.Media.Ref, err))
		return
	}
	c.cfg.Player.OnEnded(func() { c.finalize("stimulus ended") })

	cam, err := c.cfg.Camera.Open(ctx, c.cfg.Device)
	if err != nil {
		c.fail(fmt.Errorf("session: acquire camera: %w", err))
		return
	}

	c.mu.Lock()
	if c.aborted {
		// Teardown won the race while the camera was being acquired. The
		// regular release path has already run, so close this late
		// acquisition directly or the device stays busy forever.
		c.mu.Unlock()
		if err := cam.Close(); err != nil {
			slog.Warn("camera release error", "err", err)
		}
		return
	}
	c.camera = cam
	c.state = StateArmed
	c.mu.Unlock()
	c.notify(StateArmed)

	// Recording. The state flips before Play so a stimulus that ends
	// instantly still finds the controller in Recording.
	c.mu.Lock()
	if c.aborted {
		c.mu.Unlock()
		return
	}
	c.state = StateRecording
	c.sched = NewScheduler(c.cfg.SampleInterval, c.tick)
	sched := c.sched
	c.mu.Unlock()
	c.notify(StateRecording)

	if err := c.cfg.Player.Play(); err != nil {
		c.fail(fmt.Errorf("session: start stimulus playback: %w", err))
		return
	}

	// Recorder start failure is a degradation, not a fatal error: frame
	// grabs keep working, so sampling continues video-only.
	if err := cam.StartRecording(); err != nil {
		c.mu.Lock()
		c.degraded = true
		c.mu.Unlock()
		slog.Warn("recorder unavailable, continuing video-only", "user_id", c.cfg.UserID, "err", err)
	}

	sched.Start(ctx)
	slog.Info("session recording",
		"user_id", c.cfg.UserID,
		"experiment_id", c.cfg.ExperimentID,
		"stimulus", c.cfg.Media.Ref,
		"degraded", c.Degraded(),
	)
}

// tick runs once per scheduler interval: grab the current frame, detect, and
// append one sample at the current stimulus position. A missed detection (no
// face, no frame yet, model hiccup) is expected and appends nothing.
func (c *Controller) tick(ctx context.Context) {
	c.mu.Lock()
	cam := c.camera
	c.mu.Unlock()
	if cam == nil {
		return
	}

	frame, err := cam.Frame(ctx)
	if err != nil {
		c.countDetection(ctx, "miss")
		return
	}

	start := time.Now()
	det, err := c.cfg.Classifier.Detect(ctx, classifier.Frame{Data: frame.Data, MimeType: frame.MimeType})
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.DetectDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		slog.Debug("detection error", "err", err)
		c.countDetection(ctx, "error")
		return
	}
	if det == nil {
		c.countDetection(ctx, "miss")
		return
	}

	sample := Sample{
		Timestamp:   c.cfg.Player.Position().Seconds(),
		Expressions: det.Expressions,
	}
	evicted := c.buffer.Append(sample)

	c.countDetection(ctx, "ok")
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.SamplesAppended.Add(ctx, 1)
		if evicted > 0 {
			c.cfg.Metrics.SamplesEvicted.Add(ctx, int64(evicted))
		}
	}
}

// RequestStop terminates the session early, exactly as if the stimulus had
// ended. It is idempotent: repeated or late calls have no additional effect.
func (c *Controller) RequestStop() {
	c.finalize("stop requested")
}

// finalize performs the Recording → Finalizing transition. The scheduler
// stop and buffer snapshot happen synchronously, in this order, before any
// asynchronous work is issued. Everything downstream operates on the
// snapshot, never the live buffer.
func (c *Controller) finalize(reason string) {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return
	}
	c.state = StateFinalizing
	sched := c.sched
	c.mu.Unlock()
	c.notify(StateFinalizing)

	// (a) Stop the scheduler. Stop blocks until any in-flight tick has
	// finished, so no append can land after the snapshot below.
	sched.Stop()

	// (b) Snapshot before issuing any further asynchronous call.
	snapshot := c.buffer.Snapshot()
	position := c.cfg.Player.Position()
	_ = c.cfg.Player.Pause()

	slog.Info("session finalizing", "reason", reason, "samples", len(snapshot), "position", position)

	// (c) Recorder stop, persistence, and completion work off the copy.
	go c.persistAndComplete(snapshot, position)
}

// persistAndComplete stops the recorder, drives the two-step persistence
// handoff, and fires the completion callback. Persistence failures are
// logged, never propagated: the participant-facing flow must not hang or
// fail because of a backend outage.
func (c *Controller) persistAndComplete(snapshot []Sample, position time.Duration) {
	ctx := context.Background()

	var artifact *capture.RecordingArtifact
	c.mu.Lock()
	cam := c.camera
	c.mu.Unlock()
	if cam != nil {
		art, err := cam.StopRecording(ctx)
		if err != nil {
			slog.Warn("recorder stop failed, continuing without artifact", "err", err)
		} else {
			artifact = art
		}
	}

	var captureID string
	if c.cfg.Persister != nil {
		if artifact != nil {
			start := time.Now()
			id, err := c.cfg.Persister.UploadCapture(ctx, UploadInput{
				Video:           artifact.Data,
				MimeType:        artifact.MimeType,
				UserID:          c.cfg.UserID,
				ExperimentID:    c.cfg.ExperimentID,
				DurationSeconds: position.Seconds(),
			})
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.UploadDuration.Record(ctx, time.Since(start).Seconds())
			}
			if err != nil {
				slog.Error("capture upload failed, samples will be submitted unlinked", "user_id", c.cfg.UserID, "err", err)
				c.countPersistenceError(ctx, "upload")
			} else {
				captureID = id
			}
		}

		if err := c.cfg.Persister.SubmitSamples(ctx, c.cfg.UserID, captureID, snapshot); err != nil {
			slog.Error("sample submission failed, snapshot delivered in-memory only", "user_id", c.cfg.UserID, "err", err)
			c.countPersistenceError(ctx, "submit")
		}
	}

	c.complete(snapshot, captureID)
}

// complete moves the controller into Completed and fires the completion
// callback exactly once, with resources already released.
func (c *Controller) complete(snapshot []Sample, captureID string) {
	c.terminalOnce.Do(func() {
		c.release()
		c.mu.Lock()
		c.state = StateCompleted
		c.mu.Unlock()
		c.notify(StateCompleted)

		slog.Info("session completed", "user_id", c.cfg.UserID, "samples", len(snapshot), "capture_id", captureID)
		if c.cfg.OnComplete != nil {
			c.cfg.OnComplete(snapshot, captureID)
		}
	})
}

// fail moves the controller into Failed and reports the error exactly once,
// with resources already released. No samples are produced.
func (c *Controller) fail(err error) {
	c.terminalOnce.Do(func() {
		c.release()
		c.mu.Lock()
		c.state = StateFailed
		c.mu.Unlock()
		c.notify(StateFailed)

		slog.Error("session failed", "user_id", c.cfg.UserID, "err", err)
		if c.cfg.OnFailure != nil {
			c.cfg.OnFailure(err)
		}
	})
}

// Close force-tears the session down, e.g. when the hosting process exits
// mid-session. A Recording session finalizes normally (the snapshot rule
// protects collected samples); any earlier state aborts the startup sequence,
// releases resources, and lands in Failed without firing the terminal
// callbacks. Idempotent.
func (c *Controller) Close() error {
	// The state read and the abort mark share one critical section so run
	// cannot advance past its abort checks in between.
	c.mu.Lock()
	st := c.state
	aborting := st != StateRecording && st != StateFinalizing && !st.Terminal()
	if aborting {
		c.aborted = true
	}
	c.mu.Unlock()

	if st == StateRecording {
		c.finalize("teardown")
		return nil
	}
	if aborting {
		c.terminalOnce.Do(func() {
			c.release()
			c.mu.Lock()
			c.state = StateFailed
			c.mu.Unlock()
			c.notify(StateFailed)
			slog.Info("session closed before recording", "user_id", c.cfg.UserID, "state", st.String())
		})
	}
	return nil
}

// abortRequested reports whether Close tore the session down while run was
// parked in a blocking call.
func (c *Controller) abortRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// release frees the camera and classifier exactly once, regardless of which
// exit path triggered it.
func (c *Controller) release() {
	c.releaseOnce.Do(func() {
		c.mu.Lock()
		cam := c.camera
		sched := c.sched
		c.mu.Unlock()

		if sched != nil {
			sched.Stop()
		}
		if cam != nil {
			if err := cam.Close(); err != nil {
				slog.Warn("camera release error", "err", err)
			}
		}
		if err := c.cfg.Classifier.Close(); err != nil {
			slog.Warn("classifier close error", "err", err)
		}
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
		}
	})
}

// notify invokes state listeners outside the controller lock.
func (c *Controller) notify(s State) {
	c.mu.Lock()
	ls := make([]func(State), len(c.listeners))
	copy(ls, c.listeners)
	c.mu.Unlock()

	slog.Debug("session state", "state", s)
	for _, fn := range ls {
		fn(s)
	}
}

func (c *Controller) countDetection(ctx context.Context, status string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.Detections.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func (c *Controller) countPersistenceError(ctx context.Context, step string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.PersistenceErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
	}
}
