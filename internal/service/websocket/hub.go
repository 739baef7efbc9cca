// Package websocket fans anonymized live frames out to browser viewers.
package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync/atomic"
	"time"

	"edgevision/internal/logger"
	"edgevision/internal/model"

	"github.com/gorilla/websocket"
)

const (
	broadcastQueueSize = 16
	clientQueueSize    = 4
	writeTimeout       = 2 * time.Second
	liveJPEGQuality    = 70
)

// Encoder compresses live frames.
type Encoder interface {
	EncodeJPEG(frame model.Frame, quality int) ([]byte, error)
}

// FrameMessage is the JSON document sent to viewers for each frame.
type FrameMessage struct {
	Camera     string  `json:"camera"`
	Image      string  `json:"image"`
	Detections int     `json:"detections"`
	FPS        float64 `json:"fps"`
}

// viewer is one connected browser. Only its writer goroutine touches conn
// for writing.
type viewer struct {
	conn *websocket.Conn
	send chan []byte
}

// HubService keeps the set of connected viewers and broadcasts frames to
// them. The client map is owned by the Run goroutine; every viewer has its
// own writer so a slow connection only loses its own frames.
type HubService struct {
	clients    map[*websocket.Conn]*viewer
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	stopped    chan struct{}
	viewers    atomic.Int64
	dropped    atomic.Int64
	encoder    Encoder
	logger     *logger.Logger
}

// NewHubService creates a hub. Call Run to start delivering.
func NewHubService(encoder Encoder, logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]*viewer),
		broadcast:  make(chan []byte, broadcastQueueSize),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		stopped:    make(chan struct{}),
		encoder:    encoder,
		logger:     logger,
	}
}

// Run delivers broadcasts until ctx is done, then disconnects every viewer.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case <-ctx.Done():
			for conn, v := range h.clients {
				close(v.send)
				delete(h.clients, conn)
			}
			h.viewers.Store(0)
			return

		case conn := <-h.register:
			v := &viewer{conn: conn, send: make(chan []byte, clientQueueSize)}
			h.clients[conn] = v
			h.viewers.Store(int64(len(h.clients)))
			go h.writePump(v)
			h.logger.Info("Viewer connected. Total: %d", len(h.clients))

		case conn := <-h.unregister:
			if v, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				close(v.send)
			}
			h.viewers.Store(int64(len(h.clients)))
			h.logger.Info("Viewer disconnected. Total: %d", len(h.clients))

		case message := <-h.broadcast:
			for _, v := range h.clients {
				select {
				case v.send <- message:
				default:
					h.dropped.Add(1)
				}
			}
		}
	}
}

// writePump sends queued frames to one viewer and closes the connection
// once the queue is closed or a write fails.
func (h *HubService) writePump(v *viewer) {
	defer v.conn.Close()

	for message := range v.send {
		v.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := v.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Error("Error sending frame to viewer: %v", err)
			h.Unregister(v.conn)
			return
		}
	}
}

// Register adds a viewer. After Run has returned the connection is closed
// instead.
func (h *HubService) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.stopped:
		client.Close()
	}
}

// Unregister removes a viewer and closes its connection.
func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
	}
}

// Broadcast queues message for every viewer. Frames are dropped, not
// queued, when viewers cannot keep up.
func (h *HubService) Broadcast(message []byte) bool {
	select {
	case h.broadcast <- message:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

// PublishFrame encodes frame and broadcasts it. Nothing is encoded while no
// viewer is connected. It never waits on a viewer connection.
func (h *HubService) PublishFrame(camera string, frame model.Frame, detections int, fps float64) {
	if h.GetClientCount() == 0 {
		return
	}

	jpeg, err := h.encoder.EncodeJPEG(frame, liveJPEGQuality)
	if err != nil {
		h.logger.Debug("Failed to encode live frame for %s: %v", camera, err)
		return
	}

	message, err := json.Marshal(FrameMessage{
		Camera:     camera,
		Image:      base64.StdEncoding.EncodeToString(jpeg),
		Detections: detections,
		FPS:        fps,
	})
	if err != nil {
		h.logger.Error("Failed to marshal live frame: %v", err)
		return
	}
	h.Broadcast(message)
}

// GetClientCount returns the number of connected viewers.
func (h *HubService) GetClientCount() int {
	return int(h.viewers.Load())
}

// Dropped is the number of frames discarded because the hub queue or a
// viewer's queue was full.
func (h *HubService) Dropped() int64 {
	return h.dropped.Load()
}
