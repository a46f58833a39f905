package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	preferenceHandler "github.com/kisanmitra/voice-client/internal/handler/preference"
	suggestionHandler "github.com/kisanmitra/voice-client/internal/handler/suggestion"
	voiceHandler "github.com/kisanmitra/voice-client/internal/handler/voice"
	"github.com/kisanmitra/voice-client/internal/i18n"
	middlewarePkg "github.com/kisanmitra/voice-client/internal/middleware"
	suggestionModel "github.com/kisanmitra/voice-client/internal/model/suggestion"
	"github.com/kisanmitra/voice-client/internal/service/conversation"
	"github.com/kisanmitra/voice-client/internal/service/preference"
	"github.com/kisanmitra/voice-client/pkg/utils"
)

// Deps collects the services the router needs.
type Deps struct {
	Registry       *conversation.Registry
	Languages      *preference.Languages
	Suggestions    suggestionModel.Store
	Catalog        *i18n.Catalog
	Logger         *zap.Logger
	AllowedOrigins []string
	SpeechEnabled  bool
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Catalog == nil {
		deps.Catalog = i18n.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.Logger(deps.Logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": len(deps.Registry.List()),
			"speech":   deps.SpeechEnabled,
		})
	})

	r.Route("/api", func(api chi.Router) {
		voiceHandler.New(deps.Registry, deps.Catalog, deps.Logger.Named("voice")).RegisterRoutes(api)

		if deps.Suggestions != nil {
			suggestionHandler.New(deps.Suggestions, fallbackLanguage(deps.Languages)).RegisterRoutes(api)
		}

		if deps.Languages != nil {
			preferenceHandler.New(deps.Languages, deps.Logger.Named("preference")).RegisterRoutes(api)
		}
	})

	return r
}

func fallbackLanguage(languages *preference.Languages) string {
	if languages == nil {
		return i18n.Hindi
	}
	return languages.Default()
}
