package overlay

import (
	"sync"
	"testing"

	"github.com/ayusman/duocam/internal/capture"
	"github.com/ayusman/duocam/internal/detector"
)

func result(src capture.Source, at int64, n int) detector.Result {
	r := detector.Result{Source: src, ProducedAt: at}
	for i := 0; i < n; i++ {
		r.Points = append(r.Points, detector.LandmarkPoint{X: float64(i), Y: float64(i), Confidence: 1})
	}
	return r
}

func TestSink_MonotonicDiscard(t *testing.T) {
	s := NewSink()

	r1 := result(capture.Rear, 100, 1)
	r2 := result(capture.Rear, 200, 2)

	if !s.Publish(r2) {
		t.Fatal("Publish(r2) should be accepted")
	}
	if s.Publish(r1) {
		t.Error("Publish(r1) after r2 should be discarded")
	}

	got, ok := s.Snapshot(capture.Rear)
	if !ok {
		t.Fatal("expected a stored result")
	}
	if got.ProducedAt != 200 || len(got.Points) != 2 {
		t.Errorf("Snapshot() = %+v, want r2", got)
	}

	if s.Publish(result(capture.Rear, 200, 5)) {
		t.Error("equal timestamp should be discarded")
	}
}

func TestSink_SourcesAreIndependent(t *testing.T) {
	s := NewSink()

	s.Publish(result(capture.Rear, 500, 1))
	if !s.Publish(result(capture.Front, 10, 1)) {
		t.Error("front publish should not be affected by rear watermark")
	}
	if _, ok := s.Snapshot(capture.Front); !ok {
		t.Error("front snapshot missing")
	}
	s.Clear(capture.Front)
	if _, ok := s.Snapshot(capture.Rear); !ok {
		t.Error("clearing front should not clear rear")
	}
}

func TestSink_ClearKeepsWatermark(t *testing.T) {
	s := NewSink()
	s.Publish(result(capture.Front, 300, 1))

	s.Clear(capture.Front)
	if _, ok := s.Snapshot(capture.Front); ok {
		t.Fatal("Snapshot() after Clear should be empty")
	}
	if s.Publish(result(capture.Front, 250, 1)) {
		t.Error("stale result should not reappear after Clear")
	}
	if !s.Publish(result(capture.Front, 301, 1)) {
		t.Error("newer result should be accepted after Clear")
	}
}

func TestSink_ClearAt(t *testing.T) {
	s := NewSink()
	s.Publish(result(capture.Front, 300, 1))

	if s.ClearAt(0, capture.Front, 200) {
		t.Error("ClearAt with an older timestamp should be ignored")
	}
	if _, ok := s.Snapshot(capture.Front); !ok {
		t.Fatal("older clear removed a newer result")
	}

	if !s.ClearAt(0, capture.Front, 400) {
		t.Fatal("ClearAt with a newer timestamp should apply")
	}
	if _, ok := s.Snapshot(capture.Front); ok {
		t.Error("result should be gone after ClearAt")
	}
	if s.Publish(result(capture.Front, 350, 1)) {
		t.Error("result older than the clear should be discarded")
	}
}

func TestSink_ResetStartsGeneration(t *testing.T) {
	s := NewSink()
	gen := s.Generation(capture.Rear)
	if !s.PublishGen(gen, result(capture.Rear, 10, 1)) {
		t.Fatal("PublishGen under the current generation should apply")
	}

	s.Reset(capture.Rear)
	if s.Generation(capture.Rear) != gen+1 {
		t.Errorf("Generation() = %d, want %d", s.Generation(capture.Rear), gen+1)
	}
	if s.Generation(capture.Front) != 0 {
		t.Error("Reset should not touch other sources")
	}

	if s.PublishGen(gen, result(capture.Rear, 20, 1)) {
		t.Error("PublishGen from before Reset should be rejected")
	}
	if s.ClearAt(gen, capture.Rear, 30) {
		t.Error("ClearAt from before Reset should be rejected")
	}
	if _, ok := s.Snapshot(capture.Rear); ok {
		t.Error("stale result reached the overlay after Reset")
	}
	if !s.PublishGen(gen+1, result(capture.Rear, 1, 1)) {
		t.Error("PublishGen under the new generation should apply")
	}
}

func TestSink_ResetDropsWatermark(t *testing.T) {
	s := NewSink()
	s.Publish(result(capture.Rear, 1000, 1))

	s.Reset(capture.Rear)
	if _, ok := s.Snapshot(capture.Rear); ok {
		t.Fatal("Snapshot() after Reset should be empty")
	}
	if !s.Publish(result(capture.Rear, 1, 1)) {
		t.Error("after Reset any timestamp should be accepted")
	}
}

func TestSink_SnapshotIsACopy(t *testing.T) {
	s := NewSink()
	s.Publish(result(capture.Rear, 1, 3))

	a, _ := s.Snapshot(capture.Rear)
	a.Points[0].X = 99

	b, _ := s.Snapshot(capture.Rear)
	if b.Points[0].X == 99 {
		t.Error("mutating a snapshot changed the stored result")
	}
}

func TestSink_Version(t *testing.T) {
	s := NewSink()
	v0 := s.Version()

	s.Publish(result(capture.Rear, 1, 1))
	v1 := s.Version()
	if v1 == v0 {
		t.Error("Publish should bump version")
	}

	s.Publish(result(capture.Rear, 1, 1))
	if s.Version() != v1 {
		t.Error("discarded publish should not bump version")
	}

	s.Clear(capture.Rear)
	v2 := s.Version()
	if v2 == v1 {
		t.Error("Clear of a stored result should bump version")
	}
	s.Clear(capture.Rear)
	if s.Version() != v2 {
		t.Error("Clear of an empty slot should not bump version")
	}
}

func TestSink_InvalidSource(t *testing.T) {
	s := NewSink()
	if s.Publish(result(capture.Source(7), 1, 1)) {
		t.Error("Publish should reject an invalid source")
	}
	if _, ok := s.Snapshot(capture.Source(-1)); ok {
		t.Error("Snapshot should reject an invalid source")
	}
	s.Clear(capture.Source(7))
}

func TestSink_ConcurrentAccess(t *testing.T) {
	s := NewSink()

	var wg sync.WaitGroup
	for _, src := range capture.Sources {
		wg.Add(1)
		go func(src capture.Source) {
			defer wg.Done()
			for i := int64(1); i <= 500; i++ {
				if i%10 == 0 {
					s.Clear(src)
					continue
				}
				s.Publish(result(src, i, 5))
			}
		}(src)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			for _, src := range capture.Sources {
				if r, ok := s.Snapshot(src); ok && r.Source != src {
					t.Errorf("snapshot for %v holds %v", src, r.Source)
				}
			}
		}
	}()
	wg.Wait()

	r, ok := s.Snapshot(capture.Rear)
	if !ok || r.ProducedAt != 499 {
		t.Errorf("final rear snapshot = %+v, %v", r, ok)
	}
}
