// Package overlay holds the latest converted detection per stream for the
// presentation layer to draw.
package overlay

import (
	"sync"
	"sync/atomic"

	"github.com/ayusman/duocam/internal/capture"
	"github.com/ayusman/duocam/internal/detector"
)

type slot struct {
	result    detector.Result
	has       bool
	watermark int64
	seen      bool
	gen       uint64
}

// Sink stores at most one result per source. Results older than or equal to
// the newest one seen for a source are discarded, even after Clear.
type Sink struct {
	mu      sync.RWMutex
	slots   [capture.NumSources]slot
	version atomic.Uint64
}

// NewSink creates an empty sink.
func NewSink() *Sink {
	return &Sink{}
}

// Generation returns the number of times src has been Reset. A binding
// records it when created and publishes under it.
func (s *Sink) Generation(src capture.Source) uint64 {
	if !src.Valid() {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slots[src].gen
}

// Publish stores r as the latest result for r.Source. It returns false when
// r is not newer than what the sink has already seen for that source.
func (s *Sink) Publish(r detector.Result) bool {
	return s.publish(r, func(*slot) bool { return true })
}

// PublishGen is Publish for a result computed under generation gen. It is
// rejected once the source has been Reset since.
func (s *Sink) PublishGen(gen uint64, r detector.Result) bool {
	return s.publish(r, func(sl *slot) bool { return sl.gen == gen })
}

func (s *Sink) publish(r detector.Result, current func(*slot) bool) bool {
	if !r.Source.Valid() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sl := &s.slots[r.Source]
	if !current(sl) {
		return false
	}
	if sl.seen && r.ProducedAt <= sl.watermark {
		return false
	}
	sl.result = r.Clone()
	sl.has = true
	sl.watermark = r.ProducedAt
	sl.seen = true
	s.version.Add(1)
	return true
}

// Clear removes the stored result for src. The watermark is kept, so a late
// result from before the clear cannot bring the overlay back.
func (s *Sink) Clear(src capture.Source) {
	s.clear(src, false)
}

// ClearAt removes the stored result for src on behalf of a detection computed
// at producedAt under generation gen. It returns false, leaving the sink
// unchanged, when a newer result is already stored or src has been Reset
// since gen.
func (s *Sink) ClearAt(gen uint64, src capture.Source, producedAt int64) bool {
	if !src.Valid() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sl := &s.slots[src]
	if sl.gen != gen {
		return false
	}
	if sl.seen && producedAt <= sl.watermark {
		return false
	}
	sl.watermark = producedAt
	sl.seen = true
	if sl.has {
		sl.result = detector.Result{}
		sl.has = false
		s.version.Add(1)
	}
	return true
}

// Reset forgets everything about src, including the watermark, and starts a
// new generation. Results still in flight from the old one are rejected by
// PublishGen and ClearAt.
func (s *Sink) Reset(src capture.Source) {
	s.clear(src, true)
}

func (s *Sink) clear(src capture.Source, watermark bool) {
	if !src.Valid() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sl := &s.slots[src]
	changed := sl.has
	sl.result = detector.Result{}
	sl.has = false
	if watermark {
		sl.watermark = 0
		sl.seen = false
		sl.gen++
	}
	if changed {
		s.version.Add(1)
	}
}

// Snapshot returns a copy of the latest result for src.
func (s *Sink) Snapshot(src capture.Source) (detector.Result, bool) {
	if !src.Valid() {
		return detector.Result{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sl := &s.slots[src]
	if !sl.has {
		return detector.Result{}, false
	}
	return sl.result.Clone(), true
}

// Version increments whenever a snapshot would change. Pollers compare it to
// skip redundant redraws.
func (s *Sink) Version() uint64 {
	return s.version.Load()
}
