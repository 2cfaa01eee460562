package detector

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// Fingertips lists the tip landmarks reported per hand, thumb to little finger.
var Fingertips = [5]int{ThumbTip, IndexTip, MiddleTip, RingTip, PinkyTip}

// Point3D represents a 3D point in image-normalized space (origin top-left).
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// HandLandmarks represents the 21 hand landmarks detected by MediaPipe.
type HandLandmarks struct {
	Points     [NumLandmarks]Point3D `json:"points"`
	Handedness string                `json:"handedness"` // "Left" or "Right"
	Score      float64               `json:"score"`
}

// FingertipPoints returns the five fingertips in detector-normalized space
// (origin bottom-left), each carrying the hand score as its confidence.
// A hand with a non-positive score yields nothing.
func (h *HandLandmarks) FingertipPoints() []LandmarkPoint {
	if h == nil || h.Score <= 0 {
		return nil
	}

	points := make([]LandmarkPoint, 0, len(Fingertips))
	for _, idx := range Fingertips {
		p := h.Points[idx]
		points = append(points, LandmarkPoint{
			X:          p.X,
			Y:          1 - p.Y,
			Confidence: clamp01(h.Score),
		})
	}
	return points
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
