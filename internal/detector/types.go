// Package detector provides the landmark detectors bound to each duocam stream.
package detector

import "github.com/ayusman/duocam/internal/capture"

// LandmarkPoint is a normalized 2D coordinate with a confidence in [0,1].
type LandmarkPoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

// Region is an axis-aligned box given by two opposite corners. Both corners
// carry the region's confidence.
type Region struct {
	Min LandmarkPoint `json:"min"`
	Max LandmarkPoint `json:"max"`
}

// Confidence returns the region confidence.
func (r Region) Confidence() float64 {
	return r.Min.Confidence
}

// Detection is the raw output of one detector call.
type Detection struct {
	Points  []LandmarkPoint
	Regions []Region
}

// Empty reports whether nothing was detected.
func (d Detection) Empty() bool {
	return len(d.Points) == 0 && len(d.Regions) == 0
}

// Result is a detection attributed to a stream and the capture tick of the
// frame it was computed from.
type Result struct {
	Source     capture.Source  `json:"source"`
	Points     []LandmarkPoint `json:"points"`
	Regions    []Region        `json:"regions"`
	ProducedAt int64           `json:"produced_at"`
}

// Clone returns a deep copy so readers never share slices with writers.
func (r Result) Clone() Result {
	out := r
	if r.Points != nil {
		out.Points = append([]LandmarkPoint(nil), r.Points...)
	}
	if r.Regions != nil {
		out.Regions = append([]Region(nil), r.Regions...)
	}
	return out
}
