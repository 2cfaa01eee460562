package detector

import (
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/duocam/internal/capture"
)

// MockLandmarker is a test implementation of the HandLandmarker interface.
// It allows tests to control the landmark results.
type MockLandmarker struct {
	mu    sync.Mutex
	hands []HandLandmarks
	err   error
}

// NewMockLandmarker creates a new MockLandmarker instance.
func NewMockLandmarker() *MockLandmarker {
	return &MockLandmarker{}
}

// SetHands sets the hands that will be returned by Landmarks.
func (m *MockLandmarker) SetHands(hands []HandLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hands = hands
}

// SetError sets the error that will be returned by Landmarks.
func (m *MockLandmarker) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Landmarks returns the pre-configured hands or error.
func (m *MockLandmarker) Landmarks(frame *gocv.Mat) ([]HandLandmarks, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.hands, nil
}

// Close is a no-op for the mock landmarker.
func (m *MockLandmarker) Close() error {
	return nil
}

// MockFaceFinder returns preset face rectangles.
type MockFaceFinder struct {
	mu    sync.Mutex
	faces []image.Rectangle
	calls int
}

// NewMockFaceFinder creates a MockFaceFinder returning faces.
func NewMockFaceFinder(faces ...image.Rectangle) *MockFaceFinder {
	return &MockFaceFinder{faces: faces}
}

// SetFaces replaces the rectangles returned by Faces.
func (m *MockFaceFinder) SetFaces(faces ...image.Rectangle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faces = faces
}

// Faces returns the preset rectangles.
func (m *MockFaceFinder) Faces(img *gocv.Mat) []image.Rectangle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return append([]image.Rectangle(nil), m.faces...)
}

// Calls returns how many times Faces ran.
func (m *MockFaceFinder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockFaceFinder) Close() error { return nil }

// MockDetector is a synchronous Detector whose output the test controls.
// When a gate is installed, Detect blocks until the test releases it.
type MockDetector struct {
	mu        sync.Mutex
	detection Detection
	err       error
	calls     int
	gate      chan struct{}
	entered   chan struct{}
	closed    bool
}

// NewMockDetector creates a MockDetector returning an empty detection.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetDetection sets what Detect returns.
func (m *MockDetector) SetDetection(d Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detection = d
}

// SetError makes Detect fail with err.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Hold makes subsequent Detect calls block until the returned release
// function is called. entered receives one value per call that is blocked.
func (m *MockDetector) Hold() (entered <-chan struct{}, release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gate := make(chan struct{})
	m.gate = gate
	m.entered = make(chan struct{}, 16)
	var once sync.Once
	return m.entered, func() { once.Do(func() { close(gate) }) }
}

// Detect records the call and returns the configured outcome.
func (m *MockDetector) Detect(frame *capture.Frame) (Detection, error) {
	m.mu.Lock()
	m.calls++
	gate, entered := m.gate, m.entered
	m.mu.Unlock()

	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Detection{}, m.err
	}
	return Detection{
		Points:  append([]LandmarkPoint(nil), m.detection.Points...),
		Regions: append([]Region(nil), m.detection.Regions...),
	}, nil
}

// Calls returns how many times Detect was invoked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Close marks the detector closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// TipSpread is where HandAt puts each fingertip relative to the hand centre,
// in image-normalized units, thumb first.
var TipSpread = [5]Point3D{
	{X: -0.10, Y: 0.02},
	{X: -0.05, Y: -0.12},
	{X: 0.00, Y: -0.14},
	{X: 0.05, Y: -0.12},
	{X: 0.09, Y: -0.08},
}

// HandAt returns a full-confidence hand centred on (cx, cy) in image space.
// Fingertips sit at the centre plus TipSpread; the other joints of each
// finger lie evenly between the wrist and its tip.
func HandAt(handedness string, cx, cy float64) HandLandmarks {
	h := HandLandmarks{Handedness: handedness, Score: 1}
	wrist := Point3D{X: cx, Y: cy + 0.10}
	h.Points[Wrist] = wrist

	for f, tip := range Fingertips {
		end := Point3D{X: cx + TipSpread[f].X, Y: cy + TipSpread[f].Y}
		for j := 0; j < 4; j++ {
			t := float64(j+1) / 4
			h.Points[tip-3+j] = Point3D{
				X: wrist.X + (end.X-wrist.X)*t,
				Y: wrist.Y + (end.Y-wrist.Y)*t,
			}
		}
	}
	return h
}

// TwoHands returns a left hand centred at (0.3, 0.5) and a right hand at
// (0.7, 0.5), both at full confidence.
func TwoHands() []HandLandmarks {
	return []HandLandmarks{HandAt("Left", 0.3, 0.5), HandAt("Right", 0.7, 0.5)}
}
