package suggestion

// Suggestion is a starter prompt shown on the idle voice screen.
type Suggestion struct {
	ID       string            `json:"id"`
	Category string            `json:"category"`
	Icon     string            `json:"icon,omitempty"`
	Prompts  map[string]string `json:"prompts"` // language -> prompt text
}

// Localized is a Suggestion resolved to a single language.
type Localized struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Icon     string `json:"icon,omitempty"`
	Text     string `json:"text"`
}

// Localize picks the prompt for lang, falling back to fallback.
func (s Suggestion) Localize(lang, fallback string) (Localized, bool) {
	text, ok := s.Prompts[lang]
	if !ok || text == "" {
		text, ok = s.Prompts[fallback]
	}
	if !ok || text == "" {
		return Localized{}, false
	}
	return Localized{ID: s.ID, Category: s.Category, Icon: s.Icon, Text: text}, true
}

// Seed provides the default idle-screen suggestions.
func Seed() []Suggestion {
	return []Suggestion{
		{
			ID:       "market-onion",
			Category: "market",
			Icon:     "📈",
			Prompts: map[string]string{
				"hi": "प्याज की कीमत क्या है?",
				"en": "What is the price of onion today?",
			},
		},
		{
			ID:       "crop-plan",
			Category: "crops",
			Icon:     "🌾",
			Prompts: map[string]string{
				"hi": "इस मौसम में कौन सी फसल लगाऊं?",
				"en": "Which crop should I sow this season?",
			},
		},
		{
			ID:       "schemes",
			Category: "schemes",
			Icon:     "🏛️",
			Prompts: map[string]string{
				"hi": "मेरे लिए कौन सी सरकारी योजनाएं हैं?",
				"en": "Which government schemes am I eligible for?",
			},
		},
		{
			ID:       "expense-log",
			Category: "finance",
			Icon:     "💰",
			Prompts: map[string]string{
				"hi": "आज खाद पर 1200 रुपये खर्च किए",
				"en": "I spent 1200 rupees on fertilizer today",
			},
		},
	}
}
