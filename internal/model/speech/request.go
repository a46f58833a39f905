package speech

// Utterance is a single piece of text to be spoken.
type Utterance struct {
	SessionID string  `json:"sessionId"`
	Text      string  `json:"text"`
	Language  string  `json:"language"` // hi-IN, en-IN
	Voice     string  `json:"voice,omitempty"`
	Rate      float32 `json:"rate"`   // 1.0 is the default speaking rate
	Pitch     float32 `json:"pitch"`  // 1.0 is the default pitch
	Format    string  `json:"format"` // mp3, pcm, ogg_opus
}
