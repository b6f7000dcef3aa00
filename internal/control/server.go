// Package control exposes the runner's local HTTP API: starting and stopping
// the experiment session, polling its state, and streaming state transitions
// over a websocket. The API is what the kiosk frontend drives.
package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/visagelab/facetrial/internal/health"
	"github.com/visagelab/facetrial/internal/observe"
	"github.com/visagelab/facetrial/internal/session"
)

// Factory builds a fresh controller for one experiment run. The server owns
// the terminal callbacks so it can publish the outcome to API clients.
type Factory func(onComplete session.CompletionFunc, onFailure session.FailureFunc) (*session.Controller, error)

// Event is one message on the websocket event stream.
type Event struct {
	Type      string `json:"type"` // "state", "completed" or "failed"
	State     string `json:"state,omitempty"`
	Samples   int    `json:"samples"`
	CaptureID string `json:"captureId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// statusResponse is the body of GET /api/session.
type statusResponse struct {
	State     string `json:"state"`
	Samples   int    `json:"samples"`
	Degraded  bool   `json:"degraded"`
	CaptureID string `json:"captureId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// outcome records the terminal result of the most recent run.
type outcome struct {
	samples   int
	captureID string
	err       string
}

// Server is the control API. One session runs at a time; starting a new one
// while a previous run is still active is rejected.
type Server struct {
	factory Factory
	log     *slog.Logger
	health  *health.Handler
	metrics *observe.Metrics

	mu       sync.Mutex
	ctrl     *session.Controller
	cancel   context.CancelFunc
	outcome  *outcome
	starting bool
	subs     map[chan Event]struct{}
}

// NewServer creates a control server around the given controller factory.
func NewServer(factory Factory, hh *health.Handler, metrics *observe.Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		factory: factory,
		log:     log.With("component", "control"),
		health:  hh,
		metrics: metrics,
		subs:    make(map[chan Event]struct{}),
	}
}

// Routes returns the control API handler, including health and metrics
// endpoints.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if s.metrics != nil {
		r.Use(observe.Middleware(s.metrics))
	}

	if s.health != nil {
		r.Get("/healthz", s.health.Healthz)
		r.Get("/readyz", s.health.Readyz)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/session", func(r chi.Router) {
		r.Post("/start", s.handleStart)
		r.Post("/stop", s.handleStop)
		r.Get("/", s.handleStatus)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// Close tears down any active session.
func (s *Server) Close() error {
	s.mu.Lock()
	ctrl := s.ctrl
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ctrl != nil {
		return ctrl.Close()
	}
	return nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.starting || (s.ctrl != nil && !s.ctrl.State().Terminal()) {
		var st session.State
		if s.ctrl != nil {
			st = s.ctrl.State()
		}
		s.mu.Unlock()
		s.writeJSON(w, http.StatusConflict, statusResponse{State: st.String()})
		return
	}
	s.starting = true
	s.mu.Unlock()

	ctrl, err := s.factory(s.onComplete, s.onFailure)
	if err != nil {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
		s.log.Error("controller construction failed", "err", err)
		http.Error(w, "session setup failed", http.StatusInternalServerError)
		return
	}
	ctrl.OnStateChange(func(st session.State) {
		s.broadcast(Event{Type: "state", State: st.String(), Samples: ctrl.SampleCount()})
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.ctrl = ctrl
	s.cancel = cancel
	s.outcome = nil
	s.starting = false
	s.mu.Unlock()

	if err := ctrl.Start(ctx); err != nil {
		cancel()
		s.log.Error("session start rejected", "err", err)
		http.Error(w, "session already started", http.StatusConflict)
		return
	}

	s.log.Info("session started")
	s.writeJSON(w, http.StatusAccepted, statusResponse{State: ctrl.State().String()})
}

// handleStop is idempotent: stopping a finished or never-started session
// succeeds with the current state.
func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	ctrl := s.ctrl
	s.mu.Unlock()

	if ctrl == nil {
		s.writeJSON(w, http.StatusOK, statusResponse{State: session.StateIdle.String()})
		return
	}
	ctrl.RequestStop()
	s.writeJSON(w, http.StatusOK, statusResponse{State: ctrl.State().String()})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	ctrl := s.ctrl
	out := s.outcome
	s.mu.Unlock()

	if ctrl == nil {
		s.writeJSON(w, http.StatusOK, statusResponse{State: session.StateIdle.String()})
		return
	}

	resp := statusResponse{
		State:    ctrl.State().String(),
		Samples:  ctrl.SampleCount(),
		Degraded: ctrl.Degraded(),
	}
	if out != nil {
		resp.Samples = out.samples
		resp.CaptureID = out.captureID
		resp.Error = out.err
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleEvents upgrades to a websocket and streams session events until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // same-host kiosk frontend
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	events := s.subscribe()
	defer s.unsubscribe(events)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) onComplete(samples []session.Sample, captureID string) {
	s.mu.Lock()
	s.outcome = &outcome{samples: len(samples), captureID: captureID}
	s.mu.Unlock()
	s.broadcast(Event{Type: "completed", Samples: len(samples), CaptureID: captureID})
}

func (s *Server) onFailure(err error) {
	s.mu.Lock()
	s.outcome = &outcome{err: err.Error()}
	s.mu.Unlock()
	s.broadcast(Event{Type: "failed", Error: err.Error()})
}

func (s *Server) subscribe() chan Event {
	ch := make(chan Event, 16)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan Event) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}

// broadcast delivers an event to every subscriber without blocking; slow
// consumers drop events rather than stalling the session.
func (s *Server) broadcast(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
