package speech

import (
	"errors"
	"strings"

	speechmodel "github.com/kisanmitra/voice-client/internal/model/speech"
)

// ErrMissingCredentials is returned when the speech config lacks an app id or token.
var ErrMissingCredentials = errors.New("speech config missing app id or access token")

// resolveCredentials returns the trimmed app id and access token. APIKey is
// accepted in place of AccessToken for older configs.
func resolveCredentials(cfg *speechmodel.SpeechConfig) (string, string, error) {
	if cfg == nil {
		return "", "", ErrMissingCredentials
	}
	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}
	if appID == "" || token == "" {
		return "", "", ErrMissingCredentials
	}
	return appID, token, nil
}

// Configured reports whether cfg carries enough to reach the TTS service.
func Configured(cfg *speechmodel.SpeechConfig) bool {
	_, _, err := resolveCredentials(cfg)
	return err == nil
}
