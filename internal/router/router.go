// Package router dispatches captured frames to the detector bound to their
// source and publishes the converted results to the overlay sink.
package router

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ayusman/duocam/internal/capture"
	"github.com/ayusman/duocam/internal/detector"
	"github.com/ayusman/duocam/internal/logger"
	"github.com/ayusman/duocam/internal/stream"
)

// BindingProvider hands out the binding for a source while the session is
// running. ok is false in every other state.
type BindingProvider interface {
	Acquire(src capture.Source) (stream.Binding, bool)
}

// ErrorReporter receives detection failures. Implementations must not block.
type ErrorReporter interface {
	ReportDetectionError(err *DetectionError)
}

// DetectionError is a failed detector call for one frame. It is reported and
// the lane moves on to the next frame.
type DetectionError struct {
	Source     capture.Source
	ProducedAt int64
	TraceID    string
	Err        error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("detection on %v stream: %v", e.Source, e.Err)
}

func (e *DetectionError) Unwrap() error {
	return e.Err
}

// Options configures a Router.
type Options struct {
	// MaxDetectFPS caps detections per second on each lane. Zero means no
	// cap beyond the single in-flight frame.
	MaxDetectFPS float64
	Reporter     ErrorReporter
	Logger       logrus.FieldLogger
}

// Router owns one lane per source. Each lane has a single worker goroutine
// and at most one frame in flight; frames arriving while the lane is busy are
// dropped.
type Router struct {
	provider BindingProvider
	reporter ErrorReporter
	log      logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
	quit   chan struct{}
	wg     sync.WaitGroup

	lanes [capture.NumSources]*lane
}

type job struct {
	frame   *capture.Frame
	binding stream.Binding
}

type lane struct {
	src     capture.Source
	busy    atomic.Bool
	work    chan job
	limiter *rate.Limiter
	log     logrus.FieldLogger
	stats   counters
}

// New creates a Router and starts its lane workers.
func New(provider BindingProvider, opts Options) *Router {
	log := logger.OrNop(opts.Logger).WithField("component", "router")
	r := &Router{
		provider: provider,
		reporter: opts.Reporter,
		log:      log,
		quit:     make(chan struct{}),
	}

	for _, src := range capture.Sources {
		l := &lane{
			src:  src,
			work: make(chan job, 1),
			log:  log.WithField("source", src.String()),
		}
		if opts.MaxDetectFPS > 0 {
			l.limiter = rate.NewLimiter(rate.Limit(opts.MaxDetectFPS), 1)
		}
		r.lanes[src] = l

		r.wg.Add(1)
		go r.run(l)
	}

	return r
}

// Dispatch hands frame to the lane for its source and takes ownership of it.
// It never blocks: a frame that cannot be processed right now is closed and
// counted.
func (r *Router) Dispatch(frame *capture.Frame) {
	if frame == nil {
		return
	}
	if !frame.Source.Valid() {
		r.log.WithField("source", frame.Source.String()).Warn("Dropping frame from unknown source")
		frame.Close()
		return
	}

	l := r.lanes[frame.Source]
	l.stats.received.Add(1)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		l.drop(frame, DropInactive)
		return
	}

	b, ok := r.provider.Acquire(frame.Source)
	if !ok || !b.Valid() {
		l.drop(frame, DropInactive)
		return
	}

	if !l.busy.CompareAndSwap(false, true) {
		l.drop(frame, DropBusy)
		return
	}

	if l.limiter != nil && !l.limiter.Allow() {
		l.busy.Store(false)
		l.drop(frame, DropThrottled)
		return
	}

	select {
	case l.work <- job{frame: frame, binding: b}:
	default:
		l.busy.Store(false)
		l.drop(frame, DropBusy)
	}
}

func (l *lane) drop(frame *capture.Frame, reason DropReason) {
	l.stats.drop(reason)
	l.log.WithField("reason", reason.String()).Debug("Frame dropped")
	frame.Close()
}

func (r *Router) run(l *lane) {
	defer r.wg.Done()

	for {
		select {
		case <-r.quit:
			return
		case j := <-l.work:
			r.process(l, j)
			l.busy.Store(false)
		}
	}
}

func (r *Router) process(l *lane, j job) {
	producedAt := j.frame.Timestamp

	det, err := detect(j.binding.Detector, j.frame)
	j.frame.Close()
	l.stats.detected.Add(1)

	if err != nil {
		l.stats.errors.Add(1)
		r.report(l, producedAt, err)
		return
	}

	// The session may have stopped while the detector ran; its sink slot has
	// been reset and must stay empty. A stop landing after this check is
	// caught by the sink generation.
	if _, ok := r.provider.Acquire(l.src); !ok {
		l.stats.discarded.Add(1)
		l.log.Debug("Discarding result from a stopped session")
		return
	}

	out := j.binding.Transformer.Transform(det)
	sink := j.binding.Sink

	if out.Empty() {
		if sink.ClearAt(j.binding.Generation, l.src, producedAt) {
			l.stats.cleared.Add(1)
		} else {
			r.rejected(l, j.binding, producedAt)
		}
		return
	}

	result := detector.Result{
		Source:     l.src,
		Points:     out.Points,
		Regions:    out.Regions,
		ProducedAt: producedAt,
	}
	if sink.PublishGen(j.binding.Generation, result) {
		l.stats.published.Add(1)
	} else {
		r.rejected(l, j.binding, producedAt)
	}
}

// rejected counts a result the sink turned away, either because the binding
// was torn down or because a newer result is already shown.
func (r *Router) rejected(l *lane, b stream.Binding, producedAt int64) {
	if b.Sink.Generation(l.src) != b.Generation {
		l.stats.discarded.Add(1)
		l.log.Debug("Discarding result from a stopped session")
		return
	}
	l.stats.stale.Add(1)
	l.log.WithField("produced_at", producedAt).Debug("Result older than overlay, discarded")
}

// detect runs d, turning a panic into an error so one bad frame cannot take
// the lane down.
func detect(d detector.Detector, frame *capture.Frame) (det detector.Detection, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("detector panic: %v", p)
		}
	}()
	return d.Detect(frame)
}

func (r *Router) report(l *lane, producedAt int64, err error) {
	derr := &DetectionError{Source: l.src, ProducedAt: producedAt, Err: err}
	derr.TraceID = logger.ErrorWithTraceID(l.log, logger.Fields{
		"produced_at": producedAt,
		"error":       err.Error(),
	}, "Detection failed")

	if r.reporter != nil {
		r.reporter.ReportDetectionError(derr)
	}
}

// Stats returns the counters for src.
func (r *Router) Stats(src capture.Source) Stats {
	if !src.Valid() {
		return Stats{Source: src}
	}
	return r.lanes[src].stats.snapshot(src)
}

// AllStats returns the counters for every source in index order.
func (r *Router) AllStats() []Stats {
	out := make([]Stats, 0, capture.NumSources)
	for _, src := range capture.Sources {
		out = append(out, r.Stats(src))
	}
	return out
}

// Close stops the lane workers and releases any frame still queued. Frames
// dispatched after Close are dropped.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.quit)
	r.mu.Unlock()

	r.wg.Wait()

	for _, l := range r.lanes {
		select {
		case j := <-l.work:
			j.frame.Close()
			l.busy.Store(false)
		default:
		}
	}
}
