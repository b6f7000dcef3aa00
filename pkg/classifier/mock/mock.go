// Package mock provides an in-memory mock implementation of
// [classifier.Provider] for use in unit tests.
//
// The mock is safe for concurrent use. It records every method call so tests
// can assert on call counts and arguments, and exposes exported fields the
// test can set to control return values. DetectFunc, when non-nil, takes
// precedence over the static Result fields and receives the zero-based call
// index, which makes scripted tick sequences easy to express.
package mock

import (
	"context"
	"sync"

	"github.com/visagelab/facetrial/pkg/classifier"
)

// DetectCall records the arguments of a single [Provider.Detect] invocation.
type DetectCall struct {
	// Frame is the frame passed to Detect.
	Frame classifier.Frame
}

// Provider is a mock implementation of [classifier.Provider].
// Set the exported Result fields (or DetectFunc) before use; inspect the
// Call* fields after.
type Provider struct {
	mu sync.Mutex

	// LoadError is returned by Load.
	LoadError error

	// LoadDelay, when non-nil, is closed by the test to release a blocked
	// Load call. Leave nil for Load to return immediately.
	LoadDelay chan struct{}

	// DetectResult is returned by Detect when DetectFunc is nil.
	// A nil DetectResult models a detection miss.
	DetectResult *classifier.Detection

	// DetectError is returned by Detect when DetectFunc is nil.
	DetectError error

	// DetectFunc, when non-nil, is invoked by Detect with the zero-based
	// call index and the frame. It overrides DetectResult/DetectError.
	DetectFunc func(call int, frame classifier.Frame) (*classifier.Detection, error)

	// CloseError is returned by Close.
	CloseError error

	// CallCountLoad records how many times Load was called.
	CallCountLoad int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// DetectCalls records all Detect invocations.
	DetectCalls []DetectCall
}

// Load implements [classifier.Provider]. Blocks on LoadDelay when set, then
// returns LoadError.
func (p *Provider) Load(ctx context.Context) error {
	p.mu.Lock()
	p.CallCountLoad++
	delay := p.LoadDelay
	err := p.LoadError
	p.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Detect implements [classifier.Provider]. Records the call and returns the
// scripted result.
func (p *Provider) Detect(_ context.Context, frame classifier.Frame) (*classifier.Detection, error) {
	p.mu.Lock()
	call := len(p.DetectCalls)
	p.DetectCalls = append(p.DetectCalls, DetectCall{Frame: frame})
	fn := p.DetectFunc
	res, err := p.DetectResult, p.DetectError
	p.mu.Unlock()

	if fn != nil {
		return fn(call, frame)
	}
	return res, err
}

// Close implements [classifier.Provider]. Returns CloseError.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountClose++
	return p.CloseError
}

// CallCountDetect returns how many times Detect was called.
func (p *Provider) CallCountDetect() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.DetectCalls)
}
