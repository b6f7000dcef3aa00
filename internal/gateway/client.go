// Package gateway implements the client side of the persistence service: the
// two-step handoff that uploads the finished webcam capture and then submits
// the sentiment sample snapshot.
//
// The session controller treats both steps as best-effort. Errors returned
// here are logged by the caller and never block session completion; the
// participant-facing flow must not hang or fail visibly because of a backend
// outage.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/visagelab/facetrial/internal/session"
)

// defaultTimeout bounds one round trip to the persistence service. Uploads
// carry a whole recording, so this is deliberately generous.
const defaultTimeout = 60 * time.Second

// Client talks to the persistence service over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Client) { g.client = c }
}

// New creates a Client for the persistence service at baseURL. A trailing
// slash is trimmed.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// uploadResponse is the body of a successful POST /upload-webcam.
type uploadResponse struct {
	CaptureID    string `json:"captureId"`
	ExperimentID string `json:"experimentId,omitempty"`
}

// submitRequest is the body of POST /sentiment.
type submitRequest struct {
	UserID        string           `json:"userId"`
	CaptureID     string           `json:"captureId,omitempty"`
	SentimentData []session.Sample `json:"sentimentData"`
}

// submitResponse is the body of a successful POST /sentiment.
type submitResponse struct {
	Success   bool   `json:"success"`
	CaptureID string `json:"captureId,omitempty"`
}

// UploadCapture implements [session.Persister]. It posts the recording as a
// multipart form with the participant identifiers and a formatted duration,
// and returns the durable capture ID assigned by the service.
func (c *Client) UploadCapture(ctx context.Context, in session.UploadInput) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField("userId", in.UserID); err != nil {
		return "", fmt.Errorf("gateway: write userId field: %w", err)
	}
	if in.ExperimentID != "" {
		if err := mw.WriteField("experimentId", in.ExperimentID); err != nil {
			return "", fmt.Errorf("gateway: write experimentId field: %w", err)
		}
	}
	if err := mw.WriteField("duration", fmt.Sprintf("%.3f", in.DurationSeconds)); err != nil {
		return "", fmt.Errorf("gateway: write duration field: %w", err)
	}

	if len(in.Video) > 0 {
		part, err := mw.CreatePart(videoPartHeader(in.MimeType))
		if err != nil {
			return "", fmt.Errorf("gateway: create video part: %w", err)
		}
		if _, err := part.Write(in.Video); err != nil {
			return "", fmt.Errorf("gateway: write video part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("gateway: finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload-webcam", &body)
	if err != nil {
		return "", fmt.Errorf("gateway: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway: upload capture: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("gateway: upload capture: %s", readError(resp))
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gateway: decode upload response: %w", err)
	}
	if out.CaptureID == "" {
		return "", fmt.Errorf("gateway: upload response carried no capture id")
	}
	return out.CaptureID, nil
}

// SubmitSamples implements [session.Persister]. An empty captureID is
// omitted from the body; the service then links the samples to the
// participant's most recent capture on a best-effort basis.
func (c *Client) SubmitSamples(ctx context.Context, userID, captureID string, samples []session.Sample) error {
	payload, err := json.Marshal(submitRequest{
		UserID:        userID,
		CaptureID:     captureID,
		SentimentData: samples,
	})
	if err != nil {
		return fmt.Errorf("gateway: encode sentiment payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sentiment", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("gateway: build sentiment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: submit samples: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("gateway: submit samples: %s", readError(resp))
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("gateway: decode sentiment response: %w", err)
	}
	if !out.Success {
		return fmt.Errorf("gateway: service rejected sentiment submission")
	}
	return nil
}

// videoPartHeader builds the multipart header for the video file part,
// carrying the artifact's real mime type instead of octet-stream.
func videoPartHeader(mimeType string) textproto.MIMEHeader {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="video"; filename="capture.webm"`)
	h.Set("Content-Type", mimeType)
	return h
}

// readError extracts a short error description from a non-2xx response.
func readError(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return resp.Status
	}
	return resp.Status + ": " + msg
}
