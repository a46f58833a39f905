package suggestion

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kisanmitra/voice-client/internal/i18n"
	"github.com/kisanmitra/voice-client/internal/model/suggestion"
	"github.com/kisanmitra/voice-client/pkg/utils"
)

// Handler 空闲界面提示语的HTTP处理器
type Handler struct {
	suggestions suggestion.Store
	fallback    string
}

// New 创建提示语处理器
func New(suggestions suggestion.Store, fallback string) *Handler {
	if fallback == "" {
		fallback = i18n.Hindi
	}
	return &Handler{
		suggestions: suggestions,
		fallback:    i18n.Normalize(fallback),
	}
}

// RegisterRoutes 注册提示语相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/suggestions", h.handleListSuggestions)
}

// handleListSuggestions 按语言列出提示语，?lang= 缺省时使用默认语言
func (h *Handler) handleListSuggestions(w http.ResponseWriter, r *http.Request) {
	lang := i18n.Normalize(r.URL.Query().Get("lang"))
	if lang == "" {
		lang = h.fallback
	}
	utils.RespondJSON(w, http.StatusOK, suggestion.ForLanguage(h.suggestions, lang, h.fallback))
}
