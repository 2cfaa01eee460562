package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/duocam/internal/capture"
	"github.com/ayusman/duocam/internal/logger"
	"github.com/ayusman/duocam/internal/router"
	"github.com/ayusman/duocam/internal/session"
)

// JournalQueueSize bounds the writes waiting for the database.
const JournalQueueSize = 256

// Journal records one process run. Its methods never block the caller:
// writes are queued to a single writer goroutine and dropped when the queue
// is full.
type Journal struct {
	store *Store
	runID string
	log   logrus.FieldLogger

	mu     sync.Mutex
	closed bool
	queue  chan func() error
	done   chan struct{}

	statsMu     sync.Mutex
	lastStats   [capture.NumSources]router.Stats
	windowStart time.Time

	dropped atomic.Uint64
}

// NewJournal creates a run row and starts the writer. config is stored with
// the run as JSON.
func NewJournal(store *Store, config any, log logrus.FieldLogger) (*Journal, error) {
	data, err := codec.Marshal(config)
	if err != nil {
		return nil, err
	}

	run := &Run{ID: uuid.NewString(), Config: data}
	if err := store.Runs().Create(run); err != nil {
		return nil, err
	}

	j := &Journal{
		store:       store,
		runID:       run.ID,
		log:         logger.OrNop(log).WithFields(logrus.Fields{"component": "telemetry", "run_id": run.ID}),
		queue:       make(chan func() error, JournalQueueSize),
		done:        make(chan struct{}),
		windowStart: run.StartedAt,
	}
	go j.writer()
	return j, nil
}

// RunID returns the id of the run being recorded.
func (j *Journal) RunID() string {
	return j.runID
}

// Dropped returns how many writes were discarded because the queue was full.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

func (j *Journal) writer() {
	defer close(j.done)
	for fn := range j.queue {
		if err := fn(); err != nil {
			j.log.WithError(err).Warn("Telemetry write failed")
		}
	}
}

func (j *Journal) enqueue(fn func() error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return
	}
	select {
	case j.queue <- fn:
	default:
		j.dropped.Add(1)
	}
}

// Observe records a session transition. It satisfies session.Observer.
func (j *Journal) Observe(t session.Transition) {
	e := &SessionEvent{
		RunID:     j.runID,
		SessionID: t.RunID,
		From:      t.From.String(),
		To:        t.To.String(),
		At:        t.At,
	}
	if t.Reason != nil {
		e.Reason = t.Reason.Error()
	}
	j.enqueue(func() error { return j.store.Events().Create(e) })
}

// ReportDetectionError records a failed detection. It satisfies
// router.ErrorReporter.
func (j *Journal) ReportDetectionError(err *router.DetectionError) {
	e := &DetectionError{
		TraceID:    err.TraceID,
		RunID:      j.runID,
		Source:     err.Source.String(),
		ProducedAt: err.ProducedAt,
		Message:    err.Err.Error(),
		At:         time.Now(),
	}
	if e.TraceID == "" {
		e.TraceID = uuid.NewString()
	}
	j.enqueue(func() error { return j.store.DetectionErrors().Create(e) })
}

// RecordStats stores the counter deltas since the previous call. Windows in
// which nothing happened are skipped.
func (j *Journal) RecordStats(stats []router.Stats, now time.Time) {
	j.statsMu.Lock()
	start := j.windowStart
	j.windowStart = now

	var rows []StreamStats
	for _, s := range stats {
		if !s.Source.Valid() {
			continue
		}
		d := s.Sub(j.lastStats[s.Source])
		j.lastStats[s.Source] = s
		if d.Received == 0 && d.Detected == 0 {
			continue
		}
		rows = append(rows, StreamStats{
			RunID:            j.runID,
			Source:           s.Source.String(),
			WindowStart:      start,
			WindowEnd:        now,
			Received:         d.Received,
			Detected:         d.Detected,
			Published:        d.Published,
			Cleared:          d.Cleared,
			Stale:            d.Stale,
			DroppedInactive:  d.DroppedInactive,
			DroppedBusy:      d.DroppedBusy,
			DroppedThrottled: d.DroppedThrottled,
			Errors:           d.Errors,
		})
	}
	j.statsMu.Unlock()

	if len(rows) == 0 {
		return
	}
	j.enqueue(func() error { return j.store.Stats().CreateBatch(rows) })
}

// Close flushes queued writes and marks the run finished.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()

	<-j.done
	return j.store.Runs().Finish(j.runID, time.Now())
}
