// Package remote implements [classifier.Provider] against an HTTP inference
// sidecar.
//
// The sidecar contract is small: POST /detect with the encoded frame in the
// request body returns either a JSON object with per-label expression
// probabilities (200) or no content when no face was found (204). GET /model
// reports readiness and is used by Load to warm the model before the first
// detection.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/visagelab/facetrial/pkg/classifier"
)

// defaultTimeout bounds a single HTTP round trip to the sidecar. Detections
// happen on a 500 ms cadence, so anything slower than this is a lost tick
// anyway.
const defaultTimeout = 10 * time.Second

// Provider talks to an expression-inference sidecar over HTTP.
type Provider struct {
	baseURL string
	client  *http.Client
}

// Option configures a [Provider].
type Option func(*Provider)

// WithHTTPClient replaces the default HTTP client. Useful for tests and for
// callers that need custom transport settings.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New creates a Provider for the sidecar at baseURL (e.g.,
// "http://127.0.0.1:5005"). A trailing slash is trimmed.
func New(baseURL string, opts ...Option) *Provider {
	p := &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// detectResponse is the sidecar's JSON body for a successful detection.
type detectResponse struct {
	Expressions map[string]float64 `json:"expressions"`
}

// Load warms the sidecar model via GET /model. The sidecar loads weights
// lazily; this call blocks until the model is resident or ctx is cancelled.
func (p *Provider) Load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/model", nil)
	if err != nil {
		return fmt.Errorf("classifier: build model request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("classifier: load model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("classifier: load model: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

// Detect implements [classifier.Provider]. A 204 response maps to a
// detection miss (nil, nil).
func (p *Provider) Detect(ctx context.Context, frame classifier.Frame) (*classifier.Detection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/detect", bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("classifier: build detect request: %w", err)
	}
	contentType := frame.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classifier: detect: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
		var out detectResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("classifier: decode detect response: %w", err)
		}
		return &classifier.Detection{Expressions: out.Expressions}, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("classifier: detect: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
}

// Close implements [classifier.Provider]. The provider holds no persistent
// connections beyond the HTTP client's idle pool.
func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
