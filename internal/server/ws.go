package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/duocam/internal/capture"
)

// DefaultBroadcastInterval polls the overlay at roughly 30 Hz.
const DefaultBroadcastInterval = 33 * time.Millisecond

const writeWait = time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local preview page
	},
}

// overlayMessage carries the latest result of every stream.
type overlayMessage struct {
	Version uint64           `json:"version"`
	Streams []resultResponse `json:"streams"`
	Sent    int64            `json:"timestamp"`
}

// OverlayHandler pushes overlay results to websocket clients whenever the
// sink changes.
type OverlayHandler struct {
	overlay  Overlay
	interval time.Duration
	log      logrus.FieldLogger

	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex

	quit      chan struct{}
	closeOnce sync.Once
}

// NewOverlayHandler creates the handler and starts its broadcaster.
func NewOverlayHandler(o Overlay, interval time.Duration, log logrus.FieldLogger) *OverlayHandler {
	if interval <= 0 {
		interval = DefaultBroadcastInterval
	}
	h := &OverlayHandler{
		overlay:  o,
		interval: interval,
		log:      log,
		clients:  make(map[*websocket.Conn]*sync.Mutex),
		quit:     make(chan struct{}),
	}
	go h.broadcast()
	return h
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects. The current overlay is sent immediately.
func (h *OverlayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	wmu := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = wmu
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	if msg, err := h.message(); err == nil {
		h.send(conn, wmu, msg)
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Clients returns the number of connected clients.
func (h *OverlayHandler) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops the broadcaster and disconnects every client.
func (h *OverlayHandler) Close() {
	h.closeOnce.Do(func() {
		close(h.quit)
		h.mu.Lock()
		for conn := range h.clients {
			conn.Close()
		}
		h.mu.Unlock()
	})
}

func (h *OverlayHandler) message() ([]byte, error) {
	msg := overlayMessage{
		Version: h.overlay.Version(),
		Sent:    time.Now().UnixMilli(),
	}
	for _, src := range capture.Sources {
		res, ok := h.overlay.Snapshot(src)
		msg.Streams = append(msg.Streams, newResultResponse(src, res, ok))
	}
	return json.Marshal(msg)
}

func (h *OverlayHandler) send(conn *websocket.Conn, wmu *sync.Mutex, msg []byte) {
	wmu.Lock()
	defer wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		conn.Close()
	}
}

func (h *OverlayHandler) broadcast() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-h.quit:
			return
		case <-ticker.C:
		}

		v := h.overlay.Version()
		if v == last || h.Clients() == 0 {
			continue
		}
		last = v

		msg, err := h.message()
		if err != nil {
			h.log.WithError(err).Warn("Failed to encode overlay")
			continue
		}

		h.mu.RLock()
		for conn, wmu := range h.clients {
			h.send(conn, wmu, msg)
		}
		h.mu.RUnlock()
	}
}
