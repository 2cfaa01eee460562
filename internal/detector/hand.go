package detector

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/ayusman/duocam/internal/capture"
)

// HandLandmarker produces full 21-point hand landmarks for an image.
type HandLandmarker interface {
	// Landmarks returns detected hands in image-normalized space. Returns
	// an empty slice if no hands are detected.
	Landmarks(img *gocv.Mat) ([]HandLandmarks, error)

	// Close releases any resources held by the landmarker.
	Close() error
}

// HandPoseDetector reduces hand landmarks to fingertip points: up to
// MaxHands hands times five tips, confidence > 0.
type HandPoseDetector struct {
	landmarker HandLandmarker
	maxHands   int
}

// NewHandPoseDetector wraps lm. A non-positive cfg.MaxHands means 2.
func NewHandPoseDetector(lm HandLandmarker, cfg Config) *HandPoseDetector {
	maxHands := cfg.MaxHands
	if maxHands <= 0 {
		maxHands = 2
	}
	return &HandPoseDetector{landmarker: lm, maxHands: maxHands}
}

// Detect runs the landmarker and keeps the fingertips of the first MaxHands hands.
func (d *HandPoseDetector) Detect(frame *capture.Frame) (Detection, error) {
	if frame == nil || frame.Image == nil || frame.Image.Empty() {
		return Detection{}, fmt.Errorf("hand pose: %w", ErrEmptyFrame)
	}

	hands, err := d.landmarker.Landmarks(frame.Image)
	if err != nil {
		return Detection{}, fmt.Errorf("hand pose: %w", err)
	}

	return fingertipDetection(hands, d.maxHands), nil
}

// Close closes the underlying landmarker.
func (d *HandPoseDetector) Close() error {
	return d.landmarker.Close()
}

func fingertipDetection(hands []HandLandmarks, maxHands int) Detection {
	if len(hands) > maxHands {
		hands = hands[:maxHands]
	}

	var det Detection
	for i := range hands {
		for _, p := range hands[i].FingertipPoints() {
			if p.Confidence > 0 {
				det.Points = append(det.Points, p)
			}
		}
	}
	return det
}
