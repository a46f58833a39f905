package preference

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kisanmitra/voice-client/internal/service/preference"
	"github.com/kisanmitra/voice-client/pkg/utils"
)

// Handler 农户偏好设置的HTTP处理器
type Handler struct {
	languages *preference.Languages
	logger    *zap.Logger
}

// New 创建偏好设置处理器
func New(languages *preference.Languages, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{languages: languages, logger: logger}
}

// RegisterRoutes 注册偏好设置相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/preferences/{farmerID}/language", h.handleGetLanguage)
	r.Put("/preferences/{farmerID}/language", h.handleSetLanguage)
}

type languageResponse struct {
	FarmerID string `json:"farmerId"`
	Language string `json:"language"`
}

func (h *Handler) handleGetLanguage(w http.ResponseWriter, r *http.Request) {
	farmerID := chi.URLParam(r, "farmerID")
	utils.RespondJSON(w, http.StatusOK, languageResponse{
		FarmerID: farmerID,
		Language: h.languages.Get(r.Context(), farmerID),
	})
}

// handleSetLanguage 保存并广播语言偏好，已打开的会话随之切换
func (h *Handler) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	farmerID := chi.URLParam(r, "farmerID")
	var payload struct {
		Language string `json:"language"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	lang, err := h.languages.Set(r.Context(), farmerID, payload.Language)
	if err != nil {
		if errors.Is(err, preference.ErrUnsupportedLanguage) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to save language preference", zap.String("farmerId", farmerID), zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to save preference")
		return
	}
	utils.RespondJSON(w, http.StatusOK, languageResponse{FarmerID: farmerID, Language: lang})
}
