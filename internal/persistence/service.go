// Package persistence implements the HTTP service that stores webcam
// captures and sentiment sample batches on behalf of the runner.
//
// The service accepts two writes: a multipart capture upload and a JSON
// sentiment submission. Submissions without a capture id are linked to the
// participant's most recent capture on a best-effort basis, and stored
// unlinked when the participant has no captures yet.
package persistence

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/visagelab/facetrial/internal/capturestore"
	"github.com/visagelab/facetrial/internal/observe"
)

const (
	// maxUploadBytes bounds one capture upload. Recordings are short
	// stimulus-length clips, so 256 MiB is already generous.
	maxUploadBytes = 256 << 20

	minDurationSeconds = 0.1
	maxDurationSeconds = 3600.0
)

// Service handles capture and sentiment persistence requests.
type Service struct {
	store *capturestore.Store
	log   *slog.Logger
}

// NewService creates a persistence service on top of the given store.
func NewService(store *capturestore.Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log.With("component", "persistence")}
}

// Routes returns the service's HTTP handler.
func (s *Service) Routes(metrics *observe.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if metrics != nil {
		r.Use(observe.Middleware(metrics))
	}

	r.Post("/upload-webcam", s.handleUpload)
	r.Post("/sentiment", s.handleSentiment)
	return r
}

// uploadResponse is the body of a successful capture upload.
type uploadResponse struct {
	CaptureID    string `json:"captureId"`
	ExperimentID string `json:"experimentId,omitempty"`
}

// sentimentSample mirrors the runner's sample shape on the wire.
type sentimentSample struct {
	Timestamp   float64            `json:"timestamp"`
	Expressions map[string]float64 `json:"expressions"`
}

// sentimentRequest is the body of a sentiment submission.
type sentimentRequest struct {
	UserID        string            `json:"userId"`
	CaptureID     string            `json:"captureId"`
	SentimentData []sentimentSample `json:"sentimentData"`
}

// sentimentResponse is the body of a successful sentiment submission.
type sentimentResponse struct {
	Success   bool   `json:"success"`
	CaptureID string `json:"captureId,omitempty"`
	Linked    bool   `json:"linked"`
}

func (s *Service) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart form", err)
		return
	}

	userID := r.FormValue("userId")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "userId is required", nil)
		return
	}

	var (
		blob     []byte
		mimeType string
	)
	file, header, err := r.FormFile("video")
	switch {
	case err == nil:
		defer file.Close()
		blob, err = io.ReadAll(file)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "read video part", err)
			return
		}
		mimeType = header.Header.Get("Content-Type")
	case errors.Is(err, http.ErrMissingFile):
		// Degraded sessions may upload metadata only.
	default:
		s.writeError(w, http.StatusBadRequest, "video part", err)
		return
	}

	duration := normalizeDuration(r.FormValue("duration"))

	saved, err := s.store.SaveCapture(r.Context(), capturestore.Capture{
		UserID:       userID,
		ExperimentID: r.FormValue("experimentId"),
		MimeType:     mimeType,
		Duration:     duration,
	}, blob)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "store capture", err)
		return
	}

	s.log.Info("capture stored",
		"capture_id", saved.ID,
		"user_id", saved.UserID,
		"size", saved.Size,
		"duration", saved.Duration)
	writeJSON(w, http.StatusOK, uploadResponse{
		CaptureID:    saved.ID,
		ExperimentID: saved.ExperimentID,
	})
}

func (s *Service) handleSentiment(w http.ResponseWriter, r *http.Request) {
	var req sentimentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid sentiment payload", err)
		return
	}
	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "userId is required", nil)
		return
	}

	captureID := req.CaptureID
	if captureID == "" {
		recent, err := s.store.MostRecentCapture(r.Context(), req.UserID)
		switch {
		case err == nil:
			captureID = recent.ID
		case errors.Is(err, capturestore.ErrNotFound):
			// No prior captures. Store the samples unlinked rather than
			// rejecting the submission.
		default:
			s.writeError(w, http.StatusInternalServerError, "resolve capture", err)
			return
		}
	}

	records := make([]capturestore.SampleRecord, 0, len(req.SentimentData))
	for _, sample := range req.SentimentData {
		records = append(records, capturestore.SampleRecord{
			CaptureID:   captureID,
			UserID:      req.UserID,
			Timestamp:   sample.Timestamp,
			Expressions: sample.Expressions,
		})
	}
	if err := s.store.SaveSamples(r.Context(), records); err != nil {
		s.writeError(w, http.StatusInternalServerError, "store samples", err)
		return
	}

	s.log.Info("sentiment stored",
		"user_id", req.UserID,
		"capture_id", captureID,
		"samples", len(records),
		"linked", captureID != "")
	writeJSON(w, http.StatusOK, sentimentResponse{
		Success:   true,
		CaptureID: captureID,
		Linked:    captureID != "",
	})
}

// normalizeDuration parses the submitted duration field, substitutes a
// floor value when it is missing or not numeric, clamps it to a sane range
// and rounds it to millisecond precision.
func normalizeDuration(raw string) float64 {
	duration, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(duration) || math.IsInf(duration, 0) {
		duration = minDurationSeconds
	}
	duration = math.Min(math.Max(duration, minDurationSeconds), maxDurationSeconds)
	return math.Round(duration*1000) / 1000
}

func (s *Service) writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		s.log.Warn("request failed", "error", err, "reason", msg)
	} else {
		s.log.Warn("request failed", "reason", msg)
	}
	http.Error(w, msg, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
