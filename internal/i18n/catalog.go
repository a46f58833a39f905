// Package i18n holds the translation tables used for user-facing strings.
package i18n

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Supported languages. Hindi is the primary language of the assistant.
const (
	Hindi   = "hi"
	English = "en"
)

// Message keys shared by the voice client.
const (
	KeyGreeting           = "greeting"
	KeyTranscribing       = "transcribing"
	KeyVoiceMessage       = "voice_message"
	KeyErrorPrefix        = "error_prefix"
	KeyErrConnectivity    = "error_connectivity"
	KeyErrNetwork         = "error_network"
	KeyErrServer          = "error_server"
	KeyErrInvalidResponse = "error_invalid_response"
	KeyErrMicDenied       = "error_mic_denied"
	KeyErrMicUnavailable  = "error_mic_unavailable"
	KeyErrEmptyText       = "error_empty_text"
	KeyErrBusy            = "error_busy"
)

//go:embed translations.yaml
var defaultTables []byte

// Catalog resolves message keys per language.
type Catalog struct {
	fallback string
	tables   map[string]map[string]string
}

// Default returns the catalog built from the embedded translation tables.
func Default() *Catalog {
	c, err := Parse(defaultTables, English)
	if err != nil {
		panic(fmt.Sprintf("i18n: embedded translations invalid: %v", err))
	}
	return c
}

// Parse builds a Catalog from YAML of the form {lang: {key: text}}.
func Parse(data []byte, fallback string) (*Catalog, error) {
	tables := make(map[string]map[string]string)
	if err := yaml.Unmarshal(data, &tables); err != nil {
		return nil, fmt.Errorf("parse translations: %w", err)
	}
	if _, ok := tables[fallback]; !ok {
		return nil, fmt.Errorf("fallback language %q missing from translations", fallback)
	}
	return &Catalog{fallback: fallback, tables: tables}, nil
}

// T returns the text for key in lang, then the fallback language, then key.
func (c *Catalog) T(lang, key string) string {
	if c == nil {
		return key
	}
	if text, ok := c.tables[Normalize(lang)][key]; ok && text != "" {
		return text
	}
	if text, ok := c.tables[c.fallback][key]; ok && text != "" {
		return text
	}
	return key
}

// Has reports whether lang has its own table.
func (c *Catalog) Has(lang string) bool {
	if c == nil {
		return false
	}
	_, ok := c.tables[Normalize(lang)]
	return ok
}

// Normalize reduces tags like "hi-IN" or "EN_us" to their base language.
func Normalize(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

// SpeechTag maps a base language to the locale used for speech output.
func SpeechTag(lang string) string {
	switch Normalize(lang) {
	case English:
		return "en-IN"
	default:
		return "hi-IN"
	}
}
