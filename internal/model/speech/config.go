package speech

// SpeechConfig configures the speech synthesis service.
type SpeechConfig struct {
	// Volcengine credentials
	AppID       string `json:"appId"`
	AccessToken string `json:"accessToken"`
	APIKey      string `json:"apiKey,omitempty"` // legacy API key auth
	Endpoint    string `json:"endpoint"`

	// default speaker, overridden per language
	DefaultVoice string            `json:"defaultVoice"`
	Voices       map[string]string `json:"voices,omitempty"` // language tag -> speaker

	Speed  float32 `json:"speed"`
	Volume float32 `json:"volume"`

	Timeout int `json:"timeout"` // seconds
}

// VoiceFor returns the configured speaker for a language tag such as "hi-IN".
func (c *SpeechConfig) VoiceFor(language string) string {
	if c == nil {
		return ""
	}
	if v, ok := c.Voices[language]; ok && v != "" {
		return v
	}
	return c.DefaultVoice
}
