package voice

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProcessTextRequest is the body of POST /voice/process.
type ProcessTextRequest struct {
	HindiText string `json:"hindi_text"`
	FarmerID  string `json:"farmer_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// BackendResponse is the validated shape returned by both voice endpoints.
// Cards are kept raw so a single malformed entry can be skipped without
// rejecting the whole response.
type BackendResponse struct {
	ExplanationHindi   string            `json:"explanation_hindi,omitempty"`
	ExplanationEnglish string            `json:"explanation_english,omitempty"`
	Reasoning          string            `json:"reasoning,omitempty"`
	Transcription      string            `json:"transcription,omitempty"`
	Cards              []json.RawMessage `json:"cards,omitempty"`
	Metadata           *BackendMetadata  `json:"metadata,omitempty"`
}

// BackendMetadata carries auxiliary information about how a reply was produced.
type BackendMetadata struct {
	Context          StringList `json:"context,omitempty"`
	UserInputEnglish string     `json:"user_input_english,omitempty"`
}

// StringList accepts either a JSON string or an array of scalars.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*l = nil
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if strings.TrimSpace(single) == "" {
			*l = nil
		} else {
			*l = StringList{single}
		}
		return nil
	}

	var many []any
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("context must be a string or list: %w", err)
	}

	out := make(StringList, 0, len(many))
	for _, item := range many {
		switch v := item.(type) {
		case nil:
		case string:
			if s := strings.TrimSpace(v); s != "" {
				out = append(out, s)
			}
		default:
			out = append(out, fmt.Sprint(v))
		}
	}
	*l = out
	return nil
}
