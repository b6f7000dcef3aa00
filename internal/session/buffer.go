package session

import "sync"

// DefaultBufferCapacity bounds the sample buffer when the config does not
// override it. At the default 500 ms cadence this covers a stimulus of a bit
// over eight minutes before eviction starts.
const DefaultBufferCapacity = 1000

// Sample is one timestamped emotion-probability reading. Timestamp is the
// stimulus player's playback position in seconds, not wall-clock time, so
// samples stay meaningful under pause and seek. A Sample is immutable once
// created.
type Sample struct {
	// Timestamp is the stimulus playback position in seconds, ≥ 0.
	Timestamp float64 `json:"timestamp"`

	// Expressions maps emotion labels to probabilities in [0, 1].
	Expressions map[string]float64 `json:"expressions"`
}

// SampleBuffer is a capacity-bounded FIFO of samples. The scheduler is its
// only writer (via the controller's append path) and the controller its only
// reader, strictly through [SampleBuffer.Snapshot]: downstream work never
// touches the live slice, which is what makes the buffer survive teardown
// races.
type SampleBuffer struct {
	mu       sync.Mutex
	samples  []Sample
	capacity int
}

// NewSampleBuffer creates a buffer holding at most capacity samples.
// A non-positive capacity selects [DefaultBufferCapacity].
func NewSampleBuffer(capacity int) *SampleBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &SampleBuffer{
		samples:  make([]Sample, 0, capacity),
		capacity: capacity,
	}
}

// Append adds s and evicts from the front once the buffer exceeds capacity.
// It returns the number of evicted samples (0 or 1).
func (b *SampleBuffer) Append(s Sample) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = append(b.samples, s)
	if len(b.samples) <= b.capacity {
		return 0
	}

	evicted := len(b.samples) - b.capacity
	keep := b.samples[evicted:]

	// Copy to a fresh slice so evicted samples do not pin the old backing
	// array for the rest of the session.
	fresh := make([]Sample, len(keep), b.capacity)
	copy(fresh, keep)
	b.samples = fresh
	return evicted
}

// Len returns the current number of buffered samples.
func (b *SampleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Snapshot returns an immutable copy of the buffer contents in append order.
// The copy shares nothing with the live buffer; later appends or teardown
// cannot affect it.
func (b *SampleBuffer) Snapshot() []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Sample, len(b.samples))
	copy(out, b.samples)
	return out
}
