// Package classifier defines the Provider interface for facial-expression
// classification backends.
//
// A classifier provider wraps an expression-recognition model (e.g., a local
// inference sidecar or a hosted vision API) and exposes a uniform single-frame
// detection interface. The session controller treats the classifier as an
// opaque collaborator: it loads the model once at session start and then asks
// for one detection per scheduler tick.
//
// A detection miss (no face found in the frame) is an expected outcome, not
// an error. Detect returns a nil *Detection and a nil error in that case so
// callers can distinguish "no face" from a real inference failure.
//
// Implementations must be safe for concurrent use.
package classifier

import "context"

// Detection is the result of classifying a single camera frame.
// Expressions maps each label of the model's fixed label set to a probability
// in [0, 1]. The map is owned by the caller once returned.
type Detection struct {
	Expressions map[string]float64
}

// Frame is a single encoded camera image handed to Detect.
type Frame struct {
	// Data is the encoded image bytes.
	Data []byte

	// MimeType describes the encoding (e.g., "image/jpeg").
	MimeType string
}

// Provider is the abstraction over any expression-classification backend.
type Provider interface {
	// Load prepares the model for inference (downloading weights, warming the
	// remote endpoint, …). It must be called once before Detect. A failed
	// Load is fatal for the session that requested it.
	Load(ctx context.Context) error

	// Detect classifies the given frame. It returns (nil, nil) when no face
	// is found: a miss, not an error. A non-nil error indicates the
	// inference itself failed.
	Detect(ctx context.Context, frame Frame) (*Detection, error)

	// Close releases model resources. Calling Close more than once is safe.
	Close() error
}
