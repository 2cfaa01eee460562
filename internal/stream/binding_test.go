package stream

import (
	"errors"
	"testing"

	"github.com/ayusman/duocam/internal/capture"
	"github.com/ayusman/duocam/internal/detector"
	"github.com/ayusman/duocam/internal/geometry"
	"github.com/ayusman/duocam/internal/overlay"
)

var testViewport = geometry.Viewport{Size: geometry.Size{Width: 390, Height: 422}}

func newTestRegistry(t *testing.T) (*Registry, *detector.MockDetector, *detector.MockDetector) {
	t.Helper()
	hand := detector.NewMockDetector()
	face := detector.NewMockDetector()
	reg, err := NewRegistry(overlay.NewSink(), map[Capability]detector.Detector{
		HandPose:    hand,
		FaceRegions: face,
	}, testViewport)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg, hand, face
}

func TestDefaultRoles(t *testing.T) {
	roles := DefaultRoles()

	front := roles[capture.Front]
	if front.Source != capture.Front || front.Capability != FaceRegions || !front.Mirrored {
		t.Errorf("front role = %+v", front)
	}
	rear := roles[capture.Rear]
	if rear.Source != capture.Rear || rear.Capability != HandPose || rear.Mirrored {
		t.Errorf("rear role = %+v", rear)
	}
}

func TestRegistry_Bind(t *testing.T) {
	reg, hand, face := newTestRegistry(t)

	for _, role := range DefaultRoles() {
		b, err := reg.Bind(role)
		if err != nil {
			t.Fatalf("Bind(%v) error = %v", role.Source, err)
		}
		if !b.Valid() {
			t.Fatalf("Bind(%v) returned invalid binding", role.Source)
		}
		if b.Transformer.Mirrored() != role.Mirrored {
			t.Errorf("%v mirrored = %v", role.Source, b.Transformer.Mirrored())
		}
		want := detector.Detector(hand)
		if role.Capability == FaceRegions {
			want = face
		}
		if b.Detector != want {
			t.Errorf("%v bound to the wrong detector", role.Source)
		}
		if b.Sink != reg.Sink() {
			t.Error("binding does not share the registry sink")
		}
	}
}

func TestRegistry_BindMissingDetector(t *testing.T) {
	reg, err := NewRegistry(overlay.NewSink(), map[Capability]detector.Detector{}, testViewport)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	_, err = reg.Bind(Role{Source: capture.Rear, Capability: HandPose})
	if !errors.Is(err, ErrNoDetector) {
		t.Errorf("Bind() error = %v, want ErrNoDetector", err)
	}
	if _, err := reg.Bind(Role{Source: capture.Source(5)}); err == nil {
		t.Error("Bind() should reject an invalid source")
	}
}

func TestRegistry_ViewportSurvivesRebind(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	role := DefaultRoles()[capture.Rear]

	b1, _ := reg.Bind(role)
	vp := geometry.Viewport{Origin: geometry.Point{X: 5}, Size: geometry.Size{Width: 100, Height: 50}}
	if err := reg.SetViewport(capture.Rear, vp); err != nil {
		t.Fatalf("SetViewport() error = %v", err)
	}
	if b1.Transformer.Viewport() != vp {
		t.Error("bound transformer did not pick up the new viewport")
	}

	reg.Unbind(b1)
	b2, _ := reg.Bind(role)
	if b2.Transformer.Viewport() != vp {
		t.Errorf("viewport after rebind = %+v", b2.Transformer.Viewport())
	}
	if reg.Viewport(capture.Rear) != vp {
		t.Error("Viewport() does not report the configured viewport")
	}

	if err := reg.SetViewport(capture.Rear, geometry.Viewport{}); err == nil {
		t.Error("SetViewport should reject an empty viewport")
	}
}

func TestRegistry_UnbindResetsSink(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	b, _ := reg.Bind(DefaultRoles()[capture.Front])

	reg.Sink().Publish(detector.Result{Source: capture.Front, ProducedAt: 10, Points: []detector.LandmarkPoint{{Confidence: 1}}})
	reg.Unbind(b)

	if _, ok := reg.Sink().Snapshot(capture.Front); ok {
		t.Error("Unbind should clear the overlay")
	}
	if !reg.Sink().Publish(detector.Result{Source: capture.Front, ProducedAt: 1}) {
		t.Error("Unbind should drop the watermark")
	}

	late := detector.Result{Source: capture.Front, ProducedAt: 20, Points: []detector.LandmarkPoint{{Confidence: 1}}}
	if reg.Sink().PublishGen(b.Generation, late) {
		t.Error("a result bound before Unbind should be rejected")
	}
	rebound, _ := reg.Bind(DefaultRoles()[capture.Front])
	if rebound.Generation == b.Generation {
		t.Errorf("rebind kept generation %d", b.Generation)
	}
	if !reg.Sink().PublishGen(rebound.Generation, late) {
		t.Error("a result under the new binding should be accepted")
	}
}

func TestRegistry_Close(t *testing.T) {
	reg, hand, face := newTestRegistry(t)
	if err := reg.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !hand.Closed() || !face.Closed() {
		t.Error("Close should close every detector")
	}
}
