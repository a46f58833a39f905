package voice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	voicemodel "github.com/kisanmitra/voice-client/internal/model/voice"
	"github.com/kisanmitra/voice-client/internal/service/conversation"
	"github.com/kisanmitra/voice-client/internal/service/recorder"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Control message types accepted on the event socket.
const (
	controlPermission   = "permission"
	controlStart        = "start"
	controlStop         = "stop"
	controlCancel       = "cancel"
	controlText         = "text"
	controlSpeak        = "speak"
	controlCancelSpeech = "speech.cancel"
)

// controlMessage is a client command. Audio arrives as binary frames.
type controlMessage struct {
	Type    string `json:"type"`
	Granted *bool  `json:"granted,omitempty"`
	Text    string `json:"text,omitempty"`
}

type errorMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
}

// handleWebSocket pushes session events and accepts audio and control messages from the client.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	logger := h.logger.With(zap.String("sessionId", session.ID()))
	logger.Info("websocket connected")

	events, unsubscribe := session.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	replies := make(chan errorMessage, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(ctx, conn, session, events, replies, logger)
		// unblock the reader once nothing more can be delivered
		conn.Close()
	}()

	h.readLoop(ctx, conn, session, replies, logger)
	cancel()
	<-done
	logger.Info("websocket disconnected")
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, session *conversation.Session, events <-chan voicemodel.Event, replies <-chan errorMessage, logger *zap.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	snap := session.Snapshot()
	initial := voicemodel.Event{
		Type:      voicemodel.EventState,
		SessionID: snap.SessionID,
		Snapshot:  &snap,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := writeJSON(conn, initial); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				deadline := time.Now().Add(writeTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"), deadline)
				return
			}
			if err := writeJSON(conn, ev); err != nil {
				logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case msg := <-replies:
			if err := writeJSON(conn, msg); err != nil {
				logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, session *conversation.Session, replies chan<- errorMessage, logger *zap.Logger) {
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	feed, _ := session.Device().(*recorder.FeedDevice)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		switch msgType {
		case websocket.BinaryMessage:
			if feed == nil {
				h.reply(replies, session, "session does not accept streamed audio")
				continue
			}
			if err := feed.Write(data); err != nil {
				h.reply(replies, session, err.Error())
			}
		case websocket.TextMessage:
			var msg controlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				h.reply(replies, session, "invalid control message")
				continue
			}
			h.handleControl(ctx, session, feed, &msg, replies)
		}
	}
}

func (h *Handler) handleControl(ctx context.Context, session *conversation.Session, feed *recorder.FeedDevice, msg *controlMessage, replies chan<- errorMessage) {
	var err error
	switch msg.Type {
	case controlPermission:
		if feed != nil && msg.Granted != nil {
			feed.SetPermission(*msg.Granted)
		}
	case controlStart:
		err = session.StartRecording(ctx)
		var devErr *recorder.DeviceError
		if errors.As(err, &devErr) {
			// already surfaced to subscribers as an alert event
			err = nil
		}
	case controlStop:
		err = session.StopRecording()
	case controlCancel:
		session.CancelRecording()
	case controlText:
		err = session.SubmitText(msg.Text)
	case controlSpeak:
		session.Speak(msg.Text)
	case controlCancelSpeech:
		session.CancelSpeech()
	default:
		h.reply(replies, session, "unknown message type: "+msg.Type)
		return
	}
	if err != nil {
		_, message := h.classify(session.Snapshot().Language, err)
		h.reply(replies, session, message)
	}
}

func (h *Handler) reply(replies chan<- errorMessage, session *conversation.Session, message string) {
	msg := errorMessage{
		Type:      "error",
		SessionID: session.ID(),
		Error:     message,
		Timestamp: time.Now().UnixMilli(),
	}
	select {
	case replies <- msg:
	default:
		h.logger.Warn("dropping websocket reply", zap.String("error", message))
	}
}
