package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"edgevision/internal/logger"
	"edgevision/internal/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEncoder struct{}

func (stubEncoder) EncodeJPEG(frame model.Frame, quality int) ([]byte, error) {
	return []byte{0xFF, 0xD8, byte(quality), 0xFF, 0xD9}, nil
}

func startHub(t *testing.T) (*HubService, *httptest.Server) {
	t.Helper()
	hub := NewHubService(stubEncoder{}, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(conn)
		defer hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_PublishFrameReachesViewer(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)

	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.PublishFrame("cam0", model.BlankFrame(2, 2), 3, 29.5)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg FrameMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "cam0", msg.Camera)
	assert.Equal(t, 3, msg.Detections)
	assert.Equal(t, 29.5, msg.FPS)

	jpeg, err := base64.StdEncoding.DecodeString(msg.Image)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8, liveJPEGQuality, 0xFF, 0xD9}, jpeg)
}

func TestHub_NoViewersSkipsEncoding(t *testing.T) {
	hub := NewHubService(stubEncoder{}, logger.Nop())
	hub.PublishFrame("cam0", model.BlankFrame(2, 2), 0, 0)
	assert.Empty(t, hub.broadcast)
}

func TestHub_BroadcastDropsWhenFull(t *testing.T) {
	hub := NewHubService(stubEncoder{}, logger.Nop())
	for i := 0; i < broadcastQueueSize; i++ {
		assert.True(t, hub.Broadcast([]byte("x")))
	}
	assert.False(t, hub.Broadcast([]byte("x")))
	assert.Equal(t, int64(1), hub.Dropped())
}

func TestHub_ViewerDisconnect(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	assert.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

type bulkyEncoder struct{ size int }

func (e bulkyEncoder) EncodeJPEG(model.Frame, int) ([]byte, error) {
	return make([]byte, e.size), nil
}

func TestHub_StalledViewerDoesNotBlockPublishers(t *testing.T) {
	hub, srv := startHub(t)
	hub.encoder = bulkyEncoder{size: 4 << 20}

	dial(t, srv) // never reads
	live := dial(t, srv)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	var worst time.Duration
	for i := 0; i < 30; i++ {
		start := time.Now()
		hub.PublishFrame("cam0", model.BlankFrame(2, 2), 0, 30)
		if d := time.Since(start); d > worst {
			worst = d
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Less(t, worst, 500*time.Millisecond, "PublishFrame waited on a viewer connection")
	assert.Positive(t, hub.Dropped())

	live.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := live.ReadMessage()
	require.NoError(t, err)
	var msg FrameMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "cam0", msg.Camera)
}
