package geometry

import (
	"errors"
	"math"
	"testing"

	"github.com/ayusman/duocam/internal/detector"
)

const tolerance = 1e-9

func near(a, b float64) bool {
	return math.Abs(a-b) < tolerance
}

func mustTransformer(t *testing.T, mirrored bool, vp Viewport) *Transformer {
	t.Helper()
	tr, err := NewTransformer(mirrored, vp)
	if err != nil {
		t.Fatalf("NewTransformer() error = %v", err)
	}
	return tr
}

func TestTransformer_Project(t *testing.T) {
	vp := Viewport{Origin: Point{X: 10, Y: 20}, Size: Size{Width: 200, Height: 100}}

	tests := []struct {
		name     string
		mirrored bool
		vp       Viewport
		in       detector.LandmarkPoint
		wantX    float64
		wantY    float64
	}{
		{name: "bottom-left maps to viewport bottom-left", vp: vp, in: detector.LandmarkPoint{X: 0, Y: 0, Confidence: 1}, wantX: 10, wantY: 120},
		{name: "top-right maps to viewport top-right", vp: vp, in: detector.LandmarkPoint{X: 1, Y: 1, Confidence: 1}, wantX: 210, wantY: 20},
		{name: "vertical flip", vp: vp, in: detector.LandmarkPoint{X: 0.25, Y: 0.75, Confidence: 1}, wantX: 60, wantY: 45},
		{name: "mirrored flips x", mirrored: true, vp: vp, in: detector.LandmarkPoint{X: 0.25, Y: 0.75, Confidence: 1}, wantX: 160, wantY: 45},
		{
			name:  "landscape right rotates",
			vp:    Viewport{Size: Size{Width: 100, Height: 100}, Orientation: LandscapeRight},
			in:    detector.LandmarkPoint{X: 0.2, Y: 0.9, Confidence: 1},
			wantX: 90, // display (0.2, 0.1) -> (1-0.1, 0.2)
			wantY: 20,
		},
		{
			name:  "upside down",
			vp:    Viewport{Size: Size{Width: 100, Height: 100}, Orientation: PortraitUpsideDown},
			in:    detector.LandmarkPoint{X: 0.2, Y: 0.9, Confidence: 1},
			wantX: 80,
			wantY: 90,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := mustTransformer(t, tt.mirrored, tt.vp)
			got, ok := tr.Point(tt.in)
			if !ok {
				t.Fatal("point with confidence should be kept")
			}
			if !near(got.X, tt.wantX) || !near(got.Y, tt.wantY) {
				t.Errorf("Point() = (%f, %f), want (%f, %f)", got.X, got.Y, tt.wantX, tt.wantY)
			}
			if got.Confidence != tt.in.Confidence {
				t.Errorf("confidence = %f, want %f", got.Confidence, tt.in.Confidence)
			}
		})
	}
}

func TestTransformer_RoundTrip(t *testing.T) {
	points := []detector.LandmarkPoint{
		{X: 0, Y: 0, Confidence: 1},
		{X: 1, Y: 1, Confidence: 0.5},
		{X: 0.123, Y: 0.877, Confidence: 0.9},
		{X: 0.5, Y: 0.5, Confidence: 0.01},
		{X: 0.999, Y: 0.001, Confidence: 0.3},
	}

	for _, mirrored := range []bool{false, true} {
		for o := Portrait; o <= LandscapeLeft; o++ {
			vp := Viewport{Origin: Point{X: -7.5, Y: 33}, Size: Size{Width: 390, Height: 422}, Orientation: o}
			tr := mustTransformer(t, mirrored, vp)

			for _, p := range points {
				px, ok := tr.Point(p)
				if !ok {
					t.Fatalf("point %+v dropped", p)
				}
				back := tr.Inverse(px)
				if !near(back.X, p.X) || !near(back.Y, p.Y) || back.Confidence != p.Confidence {
					t.Errorf("mirrored=%v %v: round trip %+v -> %+v -> %+v", mirrored, o, p, px, back)
				}
			}
		}
	}
}

func TestTransformer_FiltersNonPositiveConfidence(t *testing.T) {
	tr := mustTransformer(t, false, Viewport{Size: Size{Width: 10, Height: 10}})

	det := detector.Detection{
		Points: []detector.LandmarkPoint{
			{X: 0.1, Y: 0.1, Confidence: 0},
			{X: 0.2, Y: 0.2, Confidence: 0.4},
			{X: 0.3, Y: 0.3, Confidence: -1},
		},
		Regions: []detector.Region{
			{Min: detector.LandmarkPoint{Confidence: 0}, Max: detector.LandmarkPoint{X: 1, Y: 1, Confidence: 0}},
		},
	}

	out := tr.Transform(det)
	if len(out.Points) != 1 {
		t.Fatalf("points = %d, want 1", len(out.Points))
	}
	if out.Points[0].Confidence != 0.4 {
		t.Errorf("kept wrong point: %+v", out.Points[0])
	}
	if len(out.Regions) != 0 {
		t.Errorf("regions = %d, want 0", len(out.Regions))
	}

	if _, ok := tr.Point(detector.LandmarkPoint{X: 0.5, Y: 0.5}); ok {
		t.Error("Point() should reject zero confidence")
	}
}

func TestTransformer_MirroredRegionStaysOrdered(t *testing.T) {
	tr := mustTransformer(t, true, Viewport{Size: Size{Width: 100, Height: 200}})

	region := detector.Region{
		Min: detector.LandmarkPoint{X: 0.1, Y: 0.2, Confidence: 1},
		Max: detector.LandmarkPoint{X: 0.4, Y: 0.6, Confidence: 1},
	}
	out := tr.Transform(detector.Detection{Regions: []detector.Region{region}})
	if len(out.Regions) != 1 {
		t.Fatalf("regions = %d, want 1", len(out.Regions))
	}

	r := out.Regions[0]
	if r.Min.X > r.Max.X || r.Min.Y > r.Max.Y {
		t.Errorf("region corners out of order: %+v", r)
	}
	// x: mirrored 1-0.4=0.6 .. 1-0.1=0.9; y: flipped 1-0.6=0.4 .. 1-0.2=0.8
	if !near(r.Min.X, 60) || !near(r.Max.X, 90) || !near(r.Min.Y, 80) || !near(r.Max.Y, 160) {
		t.Errorf("region = %+v", r)
	}
}

func TestTransformer_SetViewport(t *testing.T) {
	tr := mustTransformer(t, false, Viewport{Size: Size{Width: 10, Height: 10}})

	if err := tr.SetViewport(Viewport{Size: Size{Width: 0, Height: 5}}); !errors.Is(err, ErrInvalidViewport) {
		t.Errorf("SetViewport(zero width) error = %v", err)
	}
	if err := tr.SetViewport(Viewport{Size: Size{Width: 5, Height: 5}, Orientation: Orientation(9)}); err == nil {
		t.Error("SetViewport should reject unknown orientation")
	}
	if tr.Viewport().Size.Width != 10 {
		t.Error("rejected viewport should not replace the current one")
	}

	if err := tr.SetViewport(Viewport{Size: Size{Width: 50, Height: 25}}); err != nil {
		t.Fatalf("SetViewport() error = %v", err)
	}
	got, _ := tr.Point(detector.LandmarkPoint{X: 1, Y: 0, Confidence: 1})
	if !near(got.X, 50) || !near(got.Y, 25) {
		t.Errorf("point after resize = %+v", got)
	}

	if _, err := NewTransformer(false, Viewport{}); err == nil {
		t.Error("NewTransformer should reject an empty viewport")
	}
}

func TestViewport_Validate(t *testing.T) {
	tests := []struct {
		name    string
		vp      Viewport
		wantErr bool
	}{
		{"valid", Viewport{Size: Size{Width: 390, Height: 422}}, false},
		{"offset origin", Viewport{Origin: Point{X: -20, Y: 1000}, Size: Size{Width: 10, Height: 10}}, false},
		{"zero height", Viewport{Size: Size{Width: 10}}, true},
		{"negative width", Viewport{Size: Size{Width: -1, Height: 10}}, true},
		{"NaN width", Viewport{Size: Size{Width: math.NaN(), Height: 10}}, true},
		{"infinite width", Viewport{Size: Size{Width: math.Inf(1), Height: 10}}, true},
		{"infinite height", Viewport{Size: Size{Width: 10, Height: math.Inf(1)}}, true},
		{"infinite origin", Viewport{Origin: Point{X: math.Inf(-1)}, Size: Size{Width: 10, Height: 10}}, true},
		{"NaN origin", Viewport{Origin: Point{Y: math.NaN()}, Size: Size{Width: 10, Height: 10}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.vp.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidViewport) {
				t.Errorf("Validate() error = %v, want ErrInvalidViewport", err)
			}
		})
	}
}

func TestParseOrientation(t *testing.T) {
	for o := Portrait; o <= LandscapeLeft; o++ {
		got, err := ParseOrientation(o.String())
		if err != nil || got != o {
			t.Errorf("ParseOrientation(%q) = %v, %v", o.String(), got, err)
		}
	}
	if _, err := ParseOrientation("diagonal"); err == nil {
		t.Error("expected error for unknown orientation")
	}
}
