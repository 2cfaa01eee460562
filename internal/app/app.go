// Package app wires the duocam pipeline: cameras, session lifecycle, detection
// router, overlay, telemetry and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/duocam/internal/capture"
	"github.com/ayusman/duocam/internal/config"
	"github.com/ayusman/duocam/internal/detector"
	"github.com/ayusman/duocam/internal/geometry"
	"github.com/ayusman/duocam/internal/logger"
	"github.com/ayusman/duocam/internal/overlay"
	"github.com/ayusman/duocam/internal/router"
	"github.com/ayusman/duocam/internal/server"
	"github.com/ayusman/duocam/internal/session"
	"github.com/ayusman/duocam/internal/stream"
	"github.com/ayusman/duocam/internal/telemetry"
)

// Options holds the collaborators of an App. Only Config is required.
type Options struct {
	Config    *config.Config
	Logger    logrus.FieldLogger
	StaticDir string

	// Platform overrides the OpenCV camera platform.
	Platform *capture.Platform
	// Detectors overrides the detector for each capability.
	Detectors map[stream.Capability]detector.Detector
	// Alerter receives session alerts in addition to the log.
	Alerter session.Alerter
}

// App owns every long-lived component of one duocam process.
type App struct {
	cfg *config.Config
	log logrus.FieldLogger

	store     *telemetry.Store
	journal   *telemetry.Journal
	platform  *capture.Platform
	sink      *overlay.Sink
	registry  *stream.Registry
	lifecycle *session.Lifecycle
	router    *router.Router
	preview   *server.Preview
	server    *server.Server

	alertMu sync.RWMutex
	alerter session.Alerter

	stopStats chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New builds the pipeline. Nothing is captured until Start.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	log := logger.OrNop(opts.Logger)

	a := &App{
		cfg:       cfg,
		log:       log.WithField("component", "app"),
		alerter:   opts.Alerter,
		stopStats: make(chan struct{}),
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	st, err := telemetry.New(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open telemetry store: %w", err)
	}
	a.store = st
	if cfg.Retention > 0 {
		if n, err := st.Prune(time.Now().Add(-cfg.Retention)); err != nil {
			a.log.WithError(err).Warn("Could not prune old runs")
		} else if n > 0 {
			a.log.WithField("runs", n).Info("Pruned old runs")
		}
	}

	a.journal, err = telemetry.NewJournal(st, cfg, log)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("start telemetry run: %w", err)
	}

	detectors := opts.Detectors
	if detectors == nil {
		detectors = newDetectors(cfg, log)
	}

	a.sink = overlay.NewSink()
	vp := geometry.Viewport{Size: geometry.Size{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight}}
	a.registry, err = stream.NewRegistry(a.sink, detectors, vp)
	if err != nil {
		a.closeStorage()
		return nil, fmt.Errorf("create stream registry: %w", err)
	}
	a.restoreViewports()

	a.platform = opts.Platform
	if a.platform == nil {
		a.platform = capture.NewPlatform(capture.PlatformConfig{
			DeviceIDs: [capture.NumSources]int{
				capture.Front: cfg.FrontDeviceID,
				capture.Rear:  cfg.RearDeviceID,
			},
			Width:  cfg.FrameWidth,
			Height: cfg.FrameHeight,
			FPS:    cfg.CaptureFPS,
			Logger: log,
		})
	}

	a.preview = server.NewPreview(server.DefaultPreviewFPS)

	recoveryAttempts := cfg.RecoveryAttempts
	if recoveryAttempts == 0 {
		recoveryAttempts = -1
	}
	a.lifecycle = session.New(session.Options{
		Platform:         a.platform,
		Binder:           a.registry,
		Handler:          a.handleFrame,
		Alerter:          session.AlerterFunc(a.alert),
		Logger:           log,
		RecoveryAttempts: recoveryAttempts,
		RecoveryBackoff:  cfg.RecoveryBackoff,
	})
	a.platform.SetNotifier(a.lifecycle.Notifier())
	a.lifecycle.Subscribe(a.journal.Observe)

	a.router = router.New(a.lifecycle, router.Options{
		MaxDetectFPS: cfg.MaxDetectFPS,
		Reporter:     a.journal,
		Logger:       log,
	})

	a.server = server.New(server.Config{
		StaticDir: opts.StaticDir,
		Session:   a.lifecycle,
		Overlay:   a.sink,
		Viewports: a.registry,
		Stats:     a.router,
		Settings:  st.Settings(),
		Preview:   a.preview,
		Logger:    log,
	})

	a.wg.Add(1)
	go a.flushStats()

	return a, nil
}

// SetAlerter replaces the presentation alerter, for example once a tray is up.
func (a *App) SetAlerter(al session.Alerter) {
	a.alertMu.Lock()
	defer a.alertMu.Unlock()
	a.alerter = al
}

func (a *App) alert(al session.Alert) {
	a.log.WithFields(logrus.Fields{"title": al.Title}).Warn(al.Message)

	a.alertMu.RLock()
	presenter := a.alerter
	a.alertMu.RUnlock()
	if presenter != nil {
		presenter.Alert(al)
	}
}

// Start authorizes, configures and starts both streams.
func (a *App) Start(ctx context.Context) error {
	outcome, err := a.lifecycle.RequestAuthorization(ctx)
	if err != nil {
		return err
	}
	if outcome != session.Granted {
		return &session.PermissionError{Status: a.platform.AuthorizationStatus()}
	}
	if _, err := a.lifecycle.Configure(ctx); err != nil {
		return err
	}
	return a.lifecycle.Start(ctx)
}

// Run starts the session and serves HTTP on the configured address until ctx
// is cancelled. A session that fails to start is reported but does not stop
// the server, so it can be restarted over HTTP.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		a.log.WithError(err).Error("Session did not start")
	}

	a.log.WithField("addr", a.cfg.HTTPAddr).Info("Serving")
	return a.server.ListenAndServe(ctx, a.cfg.HTTPAddr)
}

// Close stops the session and releases every resource. It is safe to call
// more than once.
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.lifecycle.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		a.lifecycle.Close()
		a.router.Close()
		a.server.Close()

		close(a.stopStats)
		a.wg.Wait()
		a.recordStats()

		if err := a.registry.Close(); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, a.closeStorage())
	})
	return errors.Join(errs...)
}

func (a *App) closeStorage() error {
	var errs []error
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

// restoreViewports applies viewports saved by a previous run.
func (a *App) restoreViewports() {
	for _, src := range capture.Sources {
		var vp geometry.Viewport
		err := a.store.Settings().Get(server.ViewportKey(src), &vp)
		if errors.Is(err, telemetry.ErrNotFound) {
			continue
		}
		if err == nil {
			err = a.registry.SetViewport(src, vp)
		}
		if err != nil {
			a.log.WithError(err).WithField("source", src.String()).Warn("Ignoring saved viewport")
		}
	}
}

// Lifecycle returns the session lifecycle.
func (a *App) Lifecycle() *session.Lifecycle {
	return a.lifecycle
}

// Router returns the detection router.
func (a *App) Router() *router.Router {
	return a.router
}

// Sink returns the overlay sink.
func (a *App) Sink() *overlay.Sink {
	return a.sink
}

// Registry returns the stream registry.
func (a *App) Registry() *stream.Registry {
	return a.registry
}

// Handler returns the HTTP handler.
func (a *App) Handler() *server.Server {
	return a.server
}

// Journal returns the telemetry journal of this run.
func (a *App) Journal() *telemetry.Journal {
	return a.journal
}
