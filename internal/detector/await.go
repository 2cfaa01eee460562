package detector

import (
	"time"

	"github.com/ayusman/duocam/internal/capture"
)

// Await adapts a CallbackDetector into a synchronous Detector that waits at
// most timeout for the callback. The callback detector gets its own clone of
// the frame, so a late callback never touches memory the caller has freed.
func Await(cd CallbackDetector, timeout time.Duration) Detector {
	return &awaitDetector{cd: cd, timeout: timeout}
}

type awaitDetector struct {
	cd      CallbackDetector
	timeout time.Duration
}

type outcome struct {
	det Detection
	err error
}

func (a *awaitDetector) Detect(frame *capture.Frame) (Detection, error) {
	if frame == nil || frame.Image == nil {
		return Detection{}, ErrEmptyFrame
	}

	img := frame.Image.Clone()
	clone := &capture.Frame{Source: frame.Source, Image: &img, Timestamp: frame.Timestamp}

	done := make(chan outcome, 1)
	a.cd.DetectAsync(clone, func(d Detection, err error) {
		done <- outcome{det: d, err: err}
	})

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		return o.det, o.err
	case <-timer.C:
		return Detection{}, ErrDetectionTimeout
	}
}

func (a *awaitDetector) Close() error {
	return a.cd.Close()
}
