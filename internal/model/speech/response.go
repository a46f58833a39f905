package speech

import "time"

// TTSResponse is the synthesized audio for one utterance.
type TTSResponse struct {
	SessionID string    `json:"sessionId"`
	Text      string    `json:"text"`
	Language  string    `json:"language"`
	AudioData []byte    `json:"-"`
	Duration  int64     `json:"duration"` // milliseconds
	Format    string    `json:"format"`
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
