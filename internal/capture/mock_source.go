package capture

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockSource is a FrameSource driven by the test: frames are pushed with Emit
// on the caller's goroutine.
type MockSource struct {
	src Source

	mu      sync.Mutex
	handler Handler
	starts  int
	stops   int
}

// NewMockSource creates a stopped MockSource for src.
func NewMockSource(src Source) *MockSource {
	return &MockSource{src: src}
}

func (m *MockSource) Source() Source { return m.src }

func (m *MockSource) Start(h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handler != nil {
		return ErrSourceRunning
	}
	m.handler = h
	m.starts++
	return nil
}

func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handler != nil {
		m.stops++
	}
	m.handler = nil
	return nil
}

// Running reports whether Start has been called without a matching Stop.
func (m *MockSource) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler != nil
}

// Starts returns how many times the source was started.
func (m *MockSource) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

// Emit pushes a blank frame of the given size with timestamp ts. It returns
// false when the source is not running, in which case nothing is allocated.
func (m *MockSource) Emit(width, height int, ts int64) bool {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()

	if h == nil {
		return false
	}

	img := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	h(&Frame{Source: m.src, Image: &img, Timestamp: ts})
	return true
}
