package voice

import "time"

// ViewState drives which part of the voice interface is mounted.
type ViewState string

const (
	ViewIdle         ViewState = "idle"
	ViewListening    ViewState = "listening"
	ViewConversation ViewState = "conversation"
)

// Snapshot is a point-in-time copy of a conversation session.
type Snapshot struct {
	SessionID   string    `json:"sessionId"`
	FarmerID    string    `json:"farmerId,omitempty"`
	Language    string    `json:"language"`
	ViewState   ViewState `json:"viewState"`
	IsRecording bool      `json:"isRecording"`
	Pending     bool      `json:"pending"`
	Messages    []Message `json:"messages"`
	OpenedAt    time.Time `json:"openedAt"`
}

// EventType classifies session notifications pushed to subscribers.
type EventType string

const (
	EventState  EventType = "state"
	EventAlert  EventType = "alert"
	EventSpeech EventType = "speech"
)

// Event is delivered to session subscribers whenever something changes.
type Event struct {
	Type      EventType    `json:"type"`
	SessionID string       `json:"sessionId"`
	Snapshot  *Snapshot    `json:"snapshot,omitempty"`
	Alert     string       `json:"alert,omitempty"`
	Speech    *SpeechAudio `json:"speech,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

// SpeechAudio carries synthesized audio for the UI to play.
type SpeechAudio struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Format   string `json:"format"`
	Audio    []byte `json:"audio"`
}
