package detector

import (
	"errors"

	"github.com/ayusman/duocam/internal/capture"
)

// Detection errors.
var (
	// ErrDetectionTimeout is returned when a callback-based detector does
	// not answer within its latency bound.
	ErrDetectionTimeout = errors.New("detection timed out")
	// ErrDetectorBusy is returned when a detector cannot accept more work.
	ErrDetectorBusy = errors.New("detector busy")
	// ErrEmptyFrame is returned for a frame without image data.
	ErrEmptyFrame = errors.New("empty frame")
)

// Detector is a synchronous landmark detector for one stream.
//
// Implementations return points in detector-normalized space: both axes in
// [0,1] with the origin at the bottom-left of the frame. A Detection with no
// points and no regions means nothing was found.
type Detector interface {
	// Detect analyzes a frame. The caller keeps ownership of frame.
	Detect(frame *capture.Frame) (Detection, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Callback receives the outcome of an asynchronous detection.
type Callback func(Detection, error)

// CallbackDetector delivers its results through a callback on a context of
// its own choosing.
type CallbackDetector interface {
	// DetectAsync takes ownership of frame, closes it when done with it, and
	// invokes cb exactly once.
	DetectAsync(frame *capture.Frame, cb Callback)

	Close() error
}

// Config holds configuration options for the detectors.
type Config struct {
	// MaxHands is the maximum number of hands to report (default: 2).
	MaxHands int

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConf float64

	// ScriptPath is the MediaPipe service script. Empty searches the usual
	// install locations.
	ScriptPath string
	// PythonPath is the interpreter running the script. Empty prefers a
	// virtualenv and falls back to python3.
	PythonPath string
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MaxHands:        2,
		MinConfidence:   0.5,
		MinTrackingConf: 0.5,
	}
}
