// Package geometry maps detector-normalized landmarks into viewport pixels.
package geometry

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/ayusman/duocam/internal/detector"
)

// ErrInvalidViewport is returned for a viewport with a non-positive size.
var ErrInvalidViewport = errors.New("viewport size must be positive")

// Point is a position in viewport pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a viewport extent in pixels.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Orientation is how the preview surface is rotated relative to the capture.
type Orientation int

const (
	Portrait Orientation = iota
	PortraitUpsideDown
	// LandscapeRight is the capture rotated 90° clockwise.
	LandscapeRight
	// LandscapeLeft is the capture rotated 90° counter-clockwise.
	LandscapeLeft
)

func (o Orientation) String() string {
	switch o {
	case Portrait:
		return "portrait"
	case PortraitUpsideDown:
		return "portrait-upside-down"
	case LandscapeRight:
		return "landscape-right"
	case LandscapeLeft:
		return "landscape-left"
	default:
		return fmt.Sprintf("orientation(%d)", int(o))
	}
}

// ParseOrientation converts a name produced by String back into an Orientation.
func ParseOrientation(name string) (Orientation, error) {
	for o := Portrait; o <= LandscapeLeft; o++ {
		if o.String() == name {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown orientation %q", name)
}

// Viewport describes the on-screen rectangle a stream is drawn into.
type Viewport struct {
	Origin      Point       `json:"origin"`
	Size        Size        `json:"size"`
	Orientation Orientation `json:"orientation"`
}

// Validate checks that the viewport can be projected onto.
func (v Viewport) Validate() error {
	if !(v.Size.Width > 0) || !(v.Size.Height > 0) || math.IsInf(v.Size.Width, 0) || math.IsInf(v.Size.Height, 0) {
		return ErrInvalidViewport
	}
	if !finite(v.Origin.X) || !finite(v.Origin.Y) {
		return ErrInvalidViewport
	}
	if v.Orientation < Portrait || v.Orientation > LandscapeLeft {
		return fmt.Errorf("invalid orientation %d", int(v.Orientation))
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// rotate maps display-normalized coordinates through the orientation.
func (o Orientation) rotate(x, y float64) (float64, float64) {
	switch o {
	case PortraitUpsideDown:
		return 1 - x, 1 - y
	case LandscapeRight:
		return 1 - y, x
	case LandscapeLeft:
		return y, 1 - x
	default:
		return x, y
	}
}

// inverse returns the orientation that undoes o.
func (o Orientation) inverse() Orientation {
	switch o {
	case LandscapeRight:
		return LandscapeLeft
	case LandscapeLeft:
		return LandscapeRight
	default:
		return o
	}
}

// Transformer converts one stream's detector output into its viewport's
// pixel space. The viewport can be replaced at any time by the presentation
// layer; each conversion uses a single consistent snapshot.
type Transformer struct {
	mirrored bool
	viewport atomic.Pointer[Viewport]
}

// NewTransformer creates a Transformer. mirrored is true for streams whose
// preview is horizontally flipped, such as a front camera.
func NewTransformer(mirrored bool, vp Viewport) (*Transformer, error) {
	t := &Transformer{mirrored: mirrored}
	if err := t.SetViewport(vp); err != nil {
		return nil, err
	}
	return t, nil
}

// Mirrored reports whether x is flipped before projection.
func (t *Transformer) Mirrored() bool {
	return t.mirrored
}

// SetViewport replaces the target viewport.
func (t *Transformer) SetViewport(vp Viewport) error {
	if err := vp.Validate(); err != nil {
		return err
	}
	t.viewport.Store(&vp)
	return nil
}

// Viewport returns the current target viewport.
func (t *Transformer) Viewport() Viewport {
	return *t.viewport.Load()
}

// Transform filters out points and regions with confidence ≤ 0 and maps the
// rest into viewport pixels. Order is preserved.
func (t *Transformer) Transform(det detector.Detection) detector.Detection {
	vp := t.Viewport()

	var out detector.Detection
	for _, p := range det.Points {
		if p.Confidence <= 0 {
			continue
		}
		out.Points = append(out.Points, t.project(vp, p))
	}
	for _, r := range det.Regions {
		if r.Confidence() <= 0 {
			continue
		}
		out.Regions = append(out.Regions, t.projectRegion(vp, r))
	}
	return out
}

// Point maps a single point. ok is false when the point has no confidence.
func (t *Transformer) Point(p detector.LandmarkPoint) (detector.LandmarkPoint, bool) {
	if p.Confidence <= 0 {
		return detector.LandmarkPoint{}, false
	}
	return t.project(t.Viewport(), p), true
}

// Inverse maps a viewport pixel point back into detector-normalized space.
func (t *Transformer) Inverse(p detector.LandmarkPoint) detector.LandmarkPoint {
	vp := t.Viewport()

	x := (p.X - vp.Origin.X) / vp.Size.Width
	y := (p.Y - vp.Origin.Y) / vp.Size.Height
	x, y = vp.Orientation.inverse().rotate(x, y)
	if t.mirrored {
		x = 1 - x
	}
	y = 1 - y

	return detector.LandmarkPoint{X: x, Y: y, Confidence: p.Confidence}
}

func (t *Transformer) project(vp Viewport, p detector.LandmarkPoint) detector.LandmarkPoint {
	// Detector origin is bottom-left; display origin is top-left.
	x, y := p.X, 1-p.Y
	if t.mirrored {
		x = 1 - x
	}
	x, y = vp.Orientation.rotate(x, y)

	return detector.LandmarkPoint{
		X:          vp.Origin.X + x*vp.Size.Width,
		Y:          vp.Origin.Y + y*vp.Size.Height,
		Confidence: p.Confidence,
	}
}

func (t *Transformer) projectRegion(vp Viewport, r detector.Region) detector.Region {
	a := t.project(vp, r.Min)
	b := t.project(vp, r.Max)

	return detector.Region{
		Min: detector.LandmarkPoint{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y), Confidence: r.Min.Confidence},
		Max: detector.LandmarkPoint{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y), Confidence: r.Max.Confidence},
	}
}
