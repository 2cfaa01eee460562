// Package server provides the HTTP surface of duocam: session status, overlay
// results, viewport updates and camera previews.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/duocam/internal/capture"
	"github.com/ayusman/duocam/internal/detector"
	"github.com/ayusman/duocam/internal/geometry"
	"github.com/ayusman/duocam/internal/logger"
	"github.com/ayusman/duocam/internal/router"
	"github.com/ayusman/duocam/internal/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Session is the part of the lifecycle the server drives.
type Session interface {
	Status() session.Status
	Restart(ctx context.Context) error
}

// Overlay is the read side of the overlay sink.
type Overlay interface {
	Snapshot(src capture.Source) (detector.Result, bool)
	Version() uint64
}

// Viewports reads and replaces the viewport of each stream.
type Viewports interface {
	Viewport(src capture.Source) geometry.Viewport
	SetViewport(src capture.Source, vp geometry.Viewport) error
}

// StatsSource reports per-stream dispatch counters.
type StatsSource interface {
	AllStats() []router.Stats
}

// SettingsStore persists viewport changes across runs.
type SettingsStore interface {
	Put(key string, v any) error
}

// Config holds the server configuration. Every collaborator is optional; the
// routes that need a missing one are not registered.
type Config struct {
	StaticDir string
	Session   Session
	Overlay   Overlay
	Viewports Viewports
	Stats     StatsSource
	Settings  SettingsStore
	Preview   *Preview
	Logger    logrus.FieldLogger

	// BroadcastInterval is how often websocket clients are checked for
	// overlay changes. Zero uses DefaultBroadcastInterval.
	BroadcastInterval time.Duration
}

// Server is the HTTP handler of duocam.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	log    logrus.FieldLogger
	ws     *OverlayHandler
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		log:    logger.OrNop(config.Logger).WithField("component", "server"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	if s.config.Session != nil {
		s.mux.HandleFunc("GET /api/session", s.handleSession)
		s.mux.HandleFunc("POST /api/session/restart", s.handleRestart)
	}

	if s.config.Overlay != nil {
		s.mux.HandleFunc("GET /api/overlay/{source}", s.handleOverlay)

		s.ws = NewOverlayHandler(s.config.Overlay, s.config.BroadcastInterval, s.log)
		s.mux.Handle("GET /api/overlay/ws", s.ws)
	}

	if s.config.Viewports != nil {
		s.mux.HandleFunc("GET /api/viewport/{source}", s.handleGetViewport)
		s.mux.HandleFunc("PUT /api/viewport/{source}", s.handlePutViewport)
	}

	if s.config.Stats != nil {
		s.mux.HandleFunc("GET /api/stats", s.handleStats)
	}

	if s.config.Preview != nil {
		s.mux.Handle("GET /api/preview/{source}", s.config.Preview)
	}

	if s.config.StaticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close disconnects websocket clients and stops the broadcaster.
func (s *Server) Close() {
	if s.ws != nil {
		s.ws.Close()
	}
	if s.config.Preview != nil {
		s.config.Preview.Close()
	}
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	})
}

// statusResponse is the wire form of session.Status.
type statusResponse struct {
	State     string    `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	Committed bool      `json:"committed"`
	RunID     string    `json:"run_id,omitempty"`
	Since     time.Time `json:"since"`
}

func newStatusResponse(st session.Status) statusResponse {
	resp := statusResponse{
		State:     st.State.String(),
		Committed: st.Committed,
		RunID:     st.RunID,
		Since:     st.Since,
	}
	if st.Reason != nil {
		resp.Reason = st.Reason.Error()
	}
	return resp
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newStatusResponse(s.config.Session.Status()))
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.config.Session.Restart(r.Context()); err != nil {
		s.log.WithError(err).Warn("Session restart failed")
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   err.Error(),
			"session": newStatusResponse(s.config.Session.Status()),
		})
		return
	}
	writeJSON(w, http.StatusOK, newStatusResponse(s.config.Session.Status()))
}

// resultResponse is the wire form of one overlay slot.
type resultResponse struct {
	Source     string                   `json:"source"`
	Present    bool                     `json:"present"`
	Points     []detector.LandmarkPoint `json:"points"`
	Regions    []detector.Region        `json:"regions"`
	ProducedAt int64                    `json:"produced_at,omitempty"`
}

func newResultResponse(src capture.Source, r detector.Result, ok bool) resultResponse {
	resp := resultResponse{
		Source:  src.String(),
		Present: ok,
		Points:  []detector.LandmarkPoint{},
		Regions: []detector.Region{},
	}
	if !ok {
		return resp
	}
	if r.Points != nil {
		resp.Points = r.Points
	}
	if r.Regions != nil {
		resp.Regions = r.Regions
	}
	resp.ProducedAt = r.ProducedAt
	return resp
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	src, ok := sourceParam(w, r)
	if !ok {
		return
	}
	res, present := s.config.Overlay.Snapshot(src)
	writeJSON(w, http.StatusOK, newResultResponse(src, res, present))
}

// viewportRequest is the wire form of geometry.Viewport with a named
// orientation.
type viewportRequest struct {
	Origin      geometry.Point `json:"origin"`
	Size        geometry.Size  `json:"size"`
	Orientation string         `json:"orientation"`
}

func newViewportRequest(vp geometry.Viewport) viewportRequest {
	return viewportRequest{Origin: vp.Origin, Size: vp.Size, Orientation: vp.Orientation.String()}
}

func (v viewportRequest) viewport() (geometry.Viewport, error) {
	vp := geometry.Viewport{Origin: v.Origin, Size: v.Size}
	if v.Orientation != "" {
		o, err := geometry.ParseOrientation(v.Orientation)
		if err != nil {
			return vp, err
		}
		vp.Orientation = o
	}
	return vp, vp.Validate()
}

// ViewportKey is the settings key a stream's viewport is stored under.
func ViewportKey(src capture.Source) string {
	return "viewport." + src.String()
}

func (s *Server) handleGetViewport(w http.ResponseWriter, r *http.Request) {
	src, ok := sourceParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newViewportRequest(s.config.Viewports.Viewport(src)))
}

func (s *Server) handlePutViewport(w http.ResponseWriter, r *http.Request) {
	src, ok := sourceParam(w, r)
	if !ok {
		return
	}

	var req viewportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	vp, err := req.viewport()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.config.Viewports.SetViewport(src, vp); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.config.Settings != nil {
		if err := s.config.Settings.Put(ViewportKey(src), vp); err != nil {
			s.log.WithError(err).WithField("source", src.String()).Warn("Failed to persist viewport")
		}
	}

	writeJSON(w, http.StatusOK, newViewportRequest(vp))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"streams": s.config.Stats.AllStats(),
	})
}

func sourceParam(w http.ResponseWriter, r *http.Request) (capture.Source, bool) {
	src, err := capture.ParseSource(r.PathValue("source"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return 0, false
	}
	return src, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
