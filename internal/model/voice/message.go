package voice

import "time"

// Role identifies who produced a conversational turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TimestampLayout is the display format used for Message.Timestamp.
const TimestampLayout = "03:04 PM"

// AudioInfo describes the recording attached to a user turn.
type AudioInfo struct {
	Duration float64 `json:"duration"` // seconds
}

// Message is one conversational turn rendered by the UI.
type Message struct {
	ID             string     `json:"id"`
	Kind           Role       `json:"kind"`
	Text           string     `json:"text,omitempty"`
	CardData       *Card      `json:"cardData,omitempty"`
	ContextItems   []string   `json:"contextItems,omitempty"`
	Audio          *AudioInfo `json:"audio,omitempty"`
	TranscriptText string     `json:"transcriptText,omitempty"`
	IsError        bool       `json:"isError,omitempty"`
	Pending        bool       `json:"pending,omitempty"`
	Timestamp      string     `json:"timestamp"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// FormatTimestamp renders t the way message timestamps are displayed.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}
