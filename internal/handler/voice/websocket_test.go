package voice

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	voicemodel "github.com/kisanmitra/voice-client/internal/model/voice"
)

type wsFrame struct {
	Type      string               `json:"type"`
	SessionID string               `json:"sessionId"`
	Snapshot  *voicemodel.Snapshot `json:"snapshot"`
	Alert     string               `json:"alert"`
	Error     string               `json:"error"`
}

func dialSession(t *testing.T, server *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/voice/sessions/" + sessionID + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame wsFrame
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

// readUntil skips frames until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(wsFrame) bool) wsFrame {
	t.Helper()
	for i := 0; i < 20; i++ {
		if frame := readFrame(t, conn); match(frame) {
			return frame
		}
	}
	t.Fatalf("expected frame not received")
	return wsFrame{}
}

func TestWebSocketTextRoundTrip(t *testing.T) {
	h, _ := newTestRouter(t, &fakeBackend{})
	server := httptest.NewServer(h)
	defer server.Close()

	snap := openSession(t, h, `{"language":"en"}`)
	conn := dialSession(t, server, snap.SessionID)

	initial := readFrame(t, conn)
	assert.Equal(t, "state", initial.Type)
	assert.Equal(t, snap.SessionID, initial.SessionID)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "text", "text": "onion price"}))

	final := readUntil(t, conn, func(f wsFrame) bool {
		return f.Type == "state" && f.Snapshot != nil && len(f.Snapshot.Messages) == 2
	})
	assert.Equal(t, voicemodel.RoleAssistant, final.Snapshot.Messages[1].Kind)
	assert.False(t, final.Snapshot.Pending)
}

func TestWebSocketStreamsAudio(t *testing.T) {
	backend := &fakeBackend{}
	h, _ := newTestRouter(t, backend)
	server := httptest.NewServer(h)
	defer server.Close()

	snap := openSession(t, h, `{"language":"en"}`)
	conn := dialSession(t, server, snap.SessionID)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "start"}))
	readUntil(t, conn, func(f wsFrame) bool {
		return f.Type == "state" && f.Snapshot != nil && f.Snapshot.ViewState == voicemodel.ViewListening
	})

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("chunk-1")))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("chunk-2")))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "stop"}))

	final := readUntil(t, conn, func(f wsFrame) bool {
		return f.Type == "state" && f.Snapshot != nil && len(f.Snapshot.Messages) == 2 && !f.Snapshot.Pending
	})
	assert.Equal(t, "onion price", final.Snapshot.Messages[0].Text)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.audio, 1)
	assert.Equal(t, "chunk-1chunk-2", string(backend.audio[0]))
}

func TestWebSocketPermissionDeniedRaisesAlert(t *testing.T) {
	h, _ := newTestRouter(t, &fakeBackend{})
	server := httptest.NewServer(h)
	defer server.Close()

	snap := openSession(t, h, `{"language":"en"}`)
	conn := dialSession(t, server, snap.SessionID)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "permission", "granted": false}))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "start"}))

	alert := readUntil(t, conn, func(f wsFrame) bool { return f.Type == "alert" })
	assert.NotEmpty(t, alert.Alert)
}

func TestWebSocketErrors(t *testing.T) {
	h, _ := newTestRouter(t, &fakeBackend{})
	server := httptest.NewServer(h)
	defer server.Close()

	snap := openSession(t, h, `{"language":"en"}`)
	conn := dialSession(t, server, snap.SessionID)
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("stray")))
	frame := readUntil(t, conn, func(f wsFrame) bool { return f.Type == "error" })
	assert.Equal(t, "no active capture stream", frame.Error)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "text", "text": " "}))
	frame = readUntil(t, conn, func(f wsFrame) bool { return f.Type == "error" })
	assert.Equal(t, "Please type or say something.", frame.Error)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "dance"}))
	frame = readUntil(t, conn, func(f wsFrame) bool { return f.Type == "error" })
	assert.Contains(t, frame.Error, "unknown message type")
}

func TestWebSocketClosedWithSession(t *testing.T) {
	h, _ := newTestRouter(t, &fakeBackend{})
	server := httptest.NewServer(h)
	defer server.Close()

	snap := openSession(t, h, "")
	conn := dialSession(t, server, snap.SessionID)
	readFrame(t, conn)

	rr := do(t, h, http.MethodDelete, "/api/voice/sessions/"+snap.SessionID, "")
	require.Equal(t, http.StatusNoContent, rr.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			return
		}
	}
}

func TestWebSocketUnknownSession(t *testing.T) {
	h, _ := newTestRouter(t, &fakeBackend{})
	server := httptest.NewServer(h)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/voice/sessions/session_1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
