package voice

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kisanmitra/voice-client/internal/i18n"
	"github.com/kisanmitra/voice-client/internal/service/conversation"
	"github.com/kisanmitra/voice-client/internal/service/recorder"
	"github.com/kisanmitra/voice-client/pkg/utils"
)

// Handler serves voice sessions over HTTP.
type Handler struct {
	registry *conversation.Registry
	catalog  *i18n.Catalog
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New creates a voice session handler.
func New(registry *conversation.Registry, catalog *i18n.Catalog, logger *zap.Logger) *Handler {
	if catalog == nil {
		catalog = i18n.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry: registry,
		catalog:  catalog,
		logger:   logger,
		upgrader: websocket.Upgrader{
			// origins are enforced by the CORS middleware
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes mounts the voice session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/voice/sessions", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleOpen)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Delete("/", h.handleClose)
			r.Post("/reopen", h.handleReopen)
			r.Post("/text", h.handleText)
			r.Post("/recording/start", h.handleStartRecording)
			r.Post("/recording/stop", h.handleStopRecording)
			r.Post("/recording/cancel", h.handleCancelRecording)
			r.Post("/speech", h.handleSpeak)
			r.Post("/speech/cancel", h.handleCancelSpeech)
			r.Get("/ws", h.handleWebSocket)
		})
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string][]string{"sessions": h.registry.List()})
}

// handleOpen starts a new voice session.
func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		FarmerID string `json:"farmerId"`
		Language string `json:"language"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	session := h.registry.Open(r.Context(), payload.FarmerID, payload.Language)
	utils.RespondJSON(w, http.StatusCreated, session.Snapshot())
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, session.Snapshot())
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Close(chi.URLParam(r, "sessionID")); err != nil {
		h.respondSessionError(w, "", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReopen restarts the session under a new ID.
func (h *Handler) handleReopen(w http.ResponseWriter, r *http.Request) {
	session, err := h.registry.Reopen(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondSessionError(w, "", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session.Snapshot())
}

// handleText submits typed input. The reply arrives later via snapshot or websocket.
func (h *Handler) handleText(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := session.SubmitText(payload.Text); err != nil {
		h.respondSessionError(w, session.Snapshot().Language, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, session.Snapshot())
}

func (h *Handler) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := session.StartRecording(r.Context()); err != nil {
		h.respondSessionError(w, session.Snapshot().Language, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session.Snapshot())
}

func (h *Handler) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := session.StopRecording(); err != nil {
		h.respondSessionError(w, session.Snapshot().Language, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, session.Snapshot())
}

func (h *Handler) handleCancelRecording(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	session.CancelRecording()
	utils.RespondJSON(w, http.StatusOK, session.Snapshot())
}

// handleSpeak reads the given text aloud, e.g. to replay a reply.
func (h *Handler) handleSpeak(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.Text == "" {
		utils.RespondError(w, http.StatusBadRequest, h.catalog.T(session.Snapshot().Language, i18n.KeyErrEmptyText))
		return
	}
	session.Speak(payload.Text)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleCancelSpeech(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	session.CancelSpeech()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*conversation.Session, bool) {
	session, err := h.registry.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondSessionError(w, "", err)
		return nil, false
	}
	return session, true
}

// respondSessionError maps session errors to HTTP status codes.
func (h *Handler) respondSessionError(w http.ResponseWriter, lang string, err error) {
	status, message := h.classify(lang, err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("voice request failed", zap.Error(err))
	}
	utils.RespondError(w, status, message)
}

func (h *Handler) classify(lang string, err error) (int, string) {
	var devErr *recorder.DeviceError
	switch {
	case errors.Is(err, conversation.ErrSessionNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, conversation.ErrEmptyText):
		return http.StatusBadRequest, h.catalog.T(lang, i18n.KeyErrEmptyText)
	case errors.Is(err, conversation.ErrBusy):
		return http.StatusConflict, h.catalog.T(lang, i18n.KeyErrBusy)
	case errors.Is(err, conversation.ErrClosed):
		return http.StatusGone, err.Error()
	case errors.As(err, &devErr):
		if devErr.Reason == recorder.PermissionDenied {
			return http.StatusForbidden, h.catalog.T(lang, i18n.KeyErrMicDenied)
		}
		return http.StatusServiceUnavailable, h.catalog.T(lang, i18n.KeyErrMicUnavailable)
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
