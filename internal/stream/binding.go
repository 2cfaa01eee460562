// Package stream describes how each camera feed is bound to a detector, a
// coordinate transformer and an overlay sink.
package stream

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ayusman/duocam/internal/capture"
	"github.com/ayusman/duocam/internal/detector"
	"github.com/ayusman/duocam/internal/geometry"
	"github.com/ayusman/duocam/internal/overlay"
)

// Capability names the kind of detection a stream runs.
type Capability int

const (
	HandPose Capability = iota
	FaceRegions
)

func (c Capability) String() string {
	switch c {
	case HandPose:
		return "hand-pose"
	case FaceRegions:
		return "face-regions"
	default:
		return fmt.Sprintf("capability(%d)", int(c))
	}
}

// Role is the per-source configuration of a stream.
type Role struct {
	Source     capture.Source
	Capability Capability
	Mirrored   bool
}

// DefaultRoles pairs the front camera with face detection (mirrored preview)
// and the rear camera with hand pose.
func DefaultRoles() [capture.NumSources]Role {
	return [capture.NumSources]Role{
		capture.Front: {Source: capture.Front, Capability: FaceRegions, Mirrored: true},
		capture.Rear:  {Source: capture.Rear, Capability: HandPose},
	}
}

// Binding ties one source to the components that process its frames. A
// Binding is created while a session is configuring and never changes until
// teardown.
type Binding struct {
	Source      capture.Source
	Detector    detector.Detector
	Transformer *geometry.Transformer
	Sink        *overlay.Sink
	// Generation is the sink generation of Source when bound. Results are
	// published under it so none survive the Reset at Unbind.
	Generation uint64
}

// Valid reports whether every component is present.
func (b Binding) Valid() bool {
	return b.Source.Valid() && b.Detector != nil && b.Transformer != nil && b.Sink != nil
}

// Binder creates and releases bindings for a session.
type Binder interface {
	Bind(role Role) (Binding, error)
	Unbind(b Binding)
}

// ErrNoDetector is returned when no detector is registered for a capability.
var ErrNoDetector = errors.New("no detector for capability")

// Registry is a Binder over long-lived components: one detector per
// capability, one transformer per source and a shared sink. Viewports set on
// the registry survive session restarts.
type Registry struct {
	sink      *overlay.Sink
	detectors map[Capability]detector.Detector

	mu           sync.Mutex
	viewports    [capture.NumSources]geometry.Viewport
	transformers [capture.NumSources]*geometry.Transformer
}

// NewRegistry creates a Registry. Every source starts with viewport vp.
func NewRegistry(sink *overlay.Sink, detectors map[Capability]detector.Detector, vp geometry.Viewport) (*Registry, error) {
	if err := vp.Validate(); err != nil {
		return nil, err
	}
	r := &Registry{sink: sink, detectors: detectors}
	for _, src := range capture.Sources {
		r.viewports[src] = vp
	}
	return r, nil
}

// Sink returns the shared overlay sink.
func (r *Registry) Sink() *overlay.Sink {
	return r.sink
}

// Bind builds a binding for role, reusing the transformer for the source when
// its mirroring matches.
func (r *Registry) Bind(role Role) (Binding, error) {
	if !role.Source.Valid() {
		return Binding{}, fmt.Errorf("bind: invalid source %v", role.Source)
	}
	det, ok := r.detectors[role.Capability]
	if !ok || det == nil {
		return Binding{}, fmt.Errorf("bind %v: %w: %v", role.Source, ErrNoDetector, role.Capability)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tr := r.transformers[role.Source]
	if tr == nil || tr.Mirrored() != role.Mirrored {
		var err error
		tr, err = geometry.NewTransformer(role.Mirrored, r.viewports[role.Source])
		if err != nil {
			return Binding{}, fmt.Errorf("bind %v: %w", role.Source, err)
		}
		r.transformers[role.Source] = tr
	}

	b := Binding{Source: role.Source, Detector: det, Transformer: tr, Sink: r.sink}
	if r.sink != nil {
		b.Generation = r.sink.Generation(role.Source)
	}
	return b, nil
}

// Unbind forgets the overlay for b's source. Detectors stay open; Close
// releases them.
func (r *Registry) Unbind(b Binding) {
	if r.sink != nil {
		r.sink.Reset(b.Source)
	}
}

// SetViewport changes the viewport for src, taking effect immediately on a
// bound transformer.
func (r *Registry) SetViewport(src capture.Source, vp geometry.Viewport) error {
	if !src.Valid() {
		return fmt.Errorf("set viewport: invalid source %v", src)
	}
	if err := vp.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.viewports[src] = vp
	if tr := r.transformers[src]; tr != nil {
		return tr.SetViewport(vp)
	}
	return nil
}

// Viewport returns the viewport configured for src.
func (r *Registry) Viewport(src capture.Source) geometry.Viewport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewports[src]
}

// Close closes every registered detector.
func (r *Registry) Close() error {
	var errs []error
	for c, det := range r.detectors {
		if det == nil {
			continue
		}
		if err := det.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %v detector: %w", c, err))
		}
	}
	return errors.Join(errs...)
}
