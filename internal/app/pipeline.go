package app

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/duocam/internal/capture"
	"github.com/ayusman/duocam/internal/config"
	"github.com/ayusman/duocam/internal/detector"
	"github.com/ayusman/duocam/internal/stream"
)

// handleFrame runs on the capture goroutine of each stream. The preview only
// reads the frame; ownership passes to the router.
func (a *App) handleFrame(frame *capture.Frame) {
	a.preview.Offer(frame)
	a.router.Dispatch(frame)
}

// newDetectors builds the detector for each capability. MediaPipe and the
// face cascade are optional at runtime; without them the stream still runs
// and reports no detections.
func newDetectors(cfg *config.Config, log logrus.FieldLogger) map[stream.Capability]detector.Detector {
	log = log.WithField("component", "detector")

	dcfg := detector.DefaultConfig()
	dcfg.MaxHands = cfg.MaxHands
	dcfg.ScriptPath = cfg.MediaPipeScript

	var landmarker detector.HandLandmarker
	if mp, err := detector.NewMediaPipeLandmarker(dcfg); err == nil {
		landmarker = mp
		log.Info("Using MediaPipe hand detection")
	} else {
		log.WithError(err).Warn("MediaPipe not available, hand stream will detect nothing")
		landmarker = detector.NewMockLandmarker()
	}

	var finder detector.FaceFinder
	if cfg.FaceCascade != "" {
		if cascade, err := detector.NewCascadeFaceFinder(cfg.FaceCascade); err == nil {
			finder = cascade
			log.WithField("cascade", cfg.FaceCascade).Info("Using cascade face detection")
		} else {
			log.WithError(err).Warn("Face cascade not available, face stream will detect nothing")
		}
	}
	if finder == nil {
		finder = detector.NewMockFaceFinder()
	}

	return map[stream.Capability]detector.Detector{
		stream.HandPose:    detector.NewHandPoseDetector(landmarker, dcfg),
		stream.FaceRegions: detector.Await(detector.NewFaceDetector(finder), cfg.DetectTimeout),
	}
}

// flushStats writes router counters to telemetry every StatsInterval.
func (a *App) flushStats() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopStats:
			return
		case <-ticker.C:
			a.recordStats()
		}
	}
}

func (a *App) recordStats() {
	stats := a.router.AllStats()
	a.journal.RecordStats(stats, time.Now())

	for _, s := range stats {
		if s.Errors > 0 || s.Dropped() > 0 {
			a.log.WithFields(logrus.Fields{
				"source":   s.Source.String(),
				"received": s.Received,
				"detected": s.Detected,
				"dropped":  s.Dropped(),
				"errors":   s.Errors,
			}).Debug("Stream stats")
		}
	}
}
