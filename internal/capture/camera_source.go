package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/duocam/internal/logger"
)

// Read-failure thresholds for a running CameraSource. After
// InterruptAfterFailures consecutive failed reads the source reports an
// interruption; after ResetAfterFailures it reports a transient runtime
// error so the session can reconfigure.
const (
	InterruptAfterFailures = 5
	ResetAfterFailures     = 50
)

// ErrSourceRunning is returned by Start on a source that is already running.
var ErrSourceRunning = errors.New("frame source already running")

// CameraSource adapts a Camera into a FrameSource. Frames are read on a
// dedicated goroutine paced by the camera's FPS and pushed to the handler.
type CameraSource struct {
	src      Source
	camera   Camera
	notifier Notifier
	log      logrus.FieldLogger

	mu       sync.Mutex
	mirrored bool
	stopCh   chan struct{}
	done     chan struct{}
}

// NewCameraSource creates a source for src reading from camera. notifier may
// be nil.
func NewCameraSource(src Source, camera Camera, notifier Notifier, log logrus.FieldLogger) *CameraSource {
	return &CameraSource{
		src:      src,
		camera:   camera,
		notifier: notifier,
		log:      logger.OrNop(log).WithFields(logrus.Fields{"component": "capture", "source": src.String()}),
	}
}

// Source returns the feed identity.
func (s *CameraSource) Source() Source {
	return s.src
}

// SetMirrored records whether the connection delivers mirrored video.
func (s *CameraSource) SetMirrored(mirrored bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirrored = mirrored
}

// Mirrored reports the mirroring recorded by SetMirrored.
func (s *CameraSource) Mirrored() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mirrored
}

// Start begins pushing frames to h. The camera must already be open.
func (s *CameraSource) Start(h Handler) error {
	if h == nil {
		return fmt.Errorf("start %s source: nil handler", s.src)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopCh != nil {
		return ErrSourceRunning
	}
	if !s.camera.IsOpen() {
		return fmt.Errorf("start %s source: %w", s.src, ErrCameraNotOpen)
	}

	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(h, s.stopCh, s.done)

	s.log.Info("Capture started")
	return nil
}

// Stop halts the capture goroutine and waits for it to exit. The camera is
// left open; the owning Device closes it.
func (s *CameraSource) Stop() error {
	s.mu.Lock()
	stopCh, done := s.stopCh, s.done
	s.stopCh, s.done = nil, nil
	s.mu.Unlock()

	if stopCh == nil {
		return nil
	}

	close(stopCh)
	<-done

	s.log.Info("Capture stopped")
	return nil
}

func (s *CameraSource) run(h Handler, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	fps := s.camera.FPS()
	if fps <= 0 {
		fps = DefaultFPS
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	failures := 0
	interrupted := false

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		img, err := s.camera.ReadFrame()
		if err != nil {
			failures++
			s.log.WithError(err).Debug("Frame read failed")

			switch {
			case failures == InterruptAfterFailures && s.notifier != nil:
				interrupted = true
				s.notifier.Interrupted(s.src, "frames unavailable")
			case failures == ResetAfterFailures && s.notifier != nil:
				s.notifier.RuntimeError(s.src, fmt.Errorf("%s camera stopped delivering frames: %w", s.src, err), true)
			}
			continue
		}

		if interrupted && s.notifier != nil {
			s.notifier.InterruptionEnded(s.src)
		}
		failures = 0
		interrupted = false

		h(NewFrame(s.src, img))
	}
}
