package app

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/duocam/internal/capture"
	"github.com/ayusman/duocam/internal/config"
	"github.com/ayusman/duocam/internal/detector"
	"github.com/ayusman/duocam/internal/geometry"
	"github.com/ayusman/duocam/internal/server"
	"github.com/ayusman/duocam/internal/session"
	"github.com/ayusman/duocam/internal/stream"
	"github.com/ayusman/duocam/internal/telemetry"
)

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []session.Alert
}

func (r *recordingAlerter) Alert(a session.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		FrontDeviceID:  1,
		RearDeviceID:   0,
		FrameWidth:     64,
		FrameHeight:    48,
		CaptureFPS:     60,
		DetectTimeout:  time.Second,
		MaxHands:       2,
		ViewportWidth:  390,
		ViewportHeight: 422,
		HTTPAddr:       "127.0.0.1:0",
		DataDir:        t.TempDir(),
		StatsInterval:  20 * time.Millisecond,
	}
}

// mockPlatform serves looping 64x48 frames from every device.
func mockPlatform(t *testing.T, cfg *config.Config) *capture.Platform {
	t.Helper()
	img := gocv.NewMatWithSize(cfg.FrameHeight, cfg.FrameWidth, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { img.Close() })

	return capture.NewPlatform(capture.PlatformConfig{
		DeviceIDs: [capture.NumSources]int{capture.Front: cfg.FrontDeviceID, capture.Rear: cfg.RearDeviceID},
		FPS:       cfg.CaptureFPS,
		OpenCamera: func(deviceID, width, height int) capture.Camera {
			return capture.NewMockCamera([]*gocv.Mat{&img}, true)
		},
		DevicePath: func(int) string { return "" },
	})
}

func mockDetectors() (map[stream.Capability]detector.Detector, *detector.MockFaceFinder) {
	lm := detector.NewMockLandmarker()
	lm.SetHands(detector.TwoHands())

	finder := detector.NewMockFaceFinder(image.Rect(16, 12, 48, 36))

	return map[stream.Capability]detector.Detector{
		stream.HandPose:    detector.NewHandPoseDetector(lm, detector.DefaultConfig()),
		stream.FaceRegions: detector.Await(detector.NewFaceDetector(finder), time.Second),
	}, finder
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestApp_DualStreamPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	cfg := testConfig(t)
	detectors, _ := mockDetectors()
	alerts := &recordingAlerter{}

	a, err := New(Options{
		Config:    cfg,
		Platform:  mockPlatform(t, cfg),
		Detectors: detectors,
		Alerter:   alerts,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	runID := a.Journal().RunID()

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if st := a.Lifecycle().Status(); st.State != session.Running || !st.Committed {
		t.Fatalf("status = %+v, want running and committed", st)
	}

	waitFor(t, "rear fingertips", func() bool {
		r, ok := a.Sink().Snapshot(capture.Rear)
		return ok && len(r.Points) == 10
	})
	waitFor(t, "front face region", func() bool {
		r, ok := a.Sink().Snapshot(capture.Front)
		return ok && len(r.Regions) == 1
	})

	rear, _ := a.Sink().Snapshot(capture.Rear)
	for _, p := range rear.Points {
		if p.X < 0 || p.X > cfg.ViewportWidth || p.Y < 0 || p.Y > cfg.ViewportHeight {
			t.Errorf("point %+v outside the viewport", p)
		}
	}

	front, _ := a.Sink().Snapshot(capture.Front)
	region := front.Regions[0]
	if region.Min.X >= region.Max.X || region.Min.Y >= region.Max.Y {
		t.Errorf("region corners not ordered: %+v", region)
	}

	if alerts.count() != 0 {
		t.Errorf("unexpected alerts: %+v", alerts.alerts)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	st, err := telemetry.New(cfg.DBPath())
	if err != nil {
		t.Fatalf("reopen telemetry: %v", err)
	}
	defer st.Close()

	events, err := st.Events().ListByRun(runID)
	if err != nil {
		t.Fatalf("ListByRun() error = %v", err)
	}
	var sawRunning bool
	for _, e := range events {
		if e.To == session.Running.String() {
			sawRunning = true
		}
	}
	if !sawRunning {
		t.Errorf("journal has no transition to running: %+v", events)
	}

	totals, err := st.Stats().Totals(runID)
	if err != nil {
		t.Fatalf("Totals() error = %v", err)
	}
	if len(totals) != int(capture.NumSources) {
		t.Errorf("stats totals = %+v, want both streams", totals)
	}

	run, err := st.Runs().GetByID(runID)
	if err != nil || run.EndedAt == nil {
		t.Errorf("run = %+v, %v; want finished", run, err)
	}
}

func TestApp_UnsupportedHardware(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	cfg := testConfig(t)
	cfg.FrontDeviceID = cfg.RearDeviceID
	detectors, finder := mockDetectors()
	alerts := &recordingAlerter{}

	a, err := New(Options{Config: cfg, Platform: mockPlatform(t, cfg), Detectors: detectors, Alerter: alerts})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	err = a.Start(context.Background())
	if !errors.Is(err, session.ErrUnsupportedHardware) {
		t.Fatalf("Start() error = %v, want ErrUnsupportedHardware", err)
	}
	if st := a.Lifecycle().Status(); st.State != session.Failed || st.Committed {
		t.Errorf("status = %+v, want failed and uncommitted", st)
	}
	if alerts.count() != 1 {
		t.Errorf("alerts = %d, want 1", alerts.count())
	}

	time.Sleep(50 * time.Millisecond)
	for _, s := range a.Router().AllStats() {
		if s.Detected != 0 {
			t.Errorf("%s detected %d frames while failed", s.Source, s.Detected)
		}
	}
	if finder.Calls() != 0 {
		t.Errorf("face finder called %d times", finder.Calls())
	}
}

func TestApp_RestoresViewports(t *testing.T) {
	cfg := testConfig(t)

	st, err := telemetry.New(cfg.DBPath())
	if err != nil {
		t.Fatalf("telemetry.New() error = %v", err)
	}
	saved := geometry.Viewport{
		Origin:      geometry.Point{X: 0, Y: 422},
		Size:        geometry.Size{Width: 390, Height: 422},
		Orientation: geometry.LandscapeRight,
	}
	if err := st.Settings().Put(server.ViewportKey(capture.Rear), saved); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	st.Close()

	detectors, _ := mockDetectors()
	a, err := New(Options{Config: cfg, Platform: mockPlatform(t, cfg), Detectors: detectors})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if got := a.Registry().Viewport(capture.Rear); got != saved {
		t.Errorf("rear viewport = %+v, want %+v", got, saved)
	}
	want := geometry.Viewport{Size: geometry.Size{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight}}
	if got := a.Registry().Viewport(capture.Front); got != want {
		t.Errorf("front viewport = %+v, want %+v", got, want)
	}
}

func TestNew_RequiresConfig(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() without config should fail")
	}
}
