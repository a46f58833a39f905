package normalizer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/kisanmitra/voice-client/internal/model/voice"
)

// Details is an order-preserving view of a backend card's field map.
type Details = orderedmap.OrderedMap[string, any]

// deniedKeys are internal bookkeeping fields and Hindi duplicates of fields
// that are already shown in the primary language.
var deniedKeys = map[string]struct{}{
	"id":                {},
	"farmer_id":         {},
	"session_id":        {},
	"card_type":         {},
	"type":              {},
	"created_at":        {},
	"updated_at":        {},
	"metadata":          {},
	"title":             {},
	"title_hindi":       {},
	"description_hindi": {},
	"name_hindi":        {},
	"message_hindi":     {},
	"explanation_hindi": {},
	"reasoning_hindi":   {},
}

var moneyHints = []string{"price", "amount", "expense", "cost", "profit", "income"}

var indianEnglish = language.MustParse("en-IN")

func isDenied(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if _, ok := deniedKeys[k]; ok {
		return true
	}
	return strings.HasSuffix(k, "_hindi")
}

func isMoneyKey(key string) bool {
	k := strings.ToLower(key)
	for _, hint := range moneyHints {
		if strings.Contains(k, hint) {
			return true
		}
	}
	return false
}

// Humanize turns snake_case keys into Title Case labels. Only the first letter
// of each word changes, so acronyms and units like NPK or pH survive.
func Humanize(key string) string {
	words := strings.Fields(strings.NewReplacer("_", " ", "-", " ").Replace(key))
	if len(words) == 0 {
		return ""
	}
	return cases.Title(language.English, cases.NoLower).String(strings.Join(words, " "))
}

// FormatCurrency renders an amount in rupees with en-IN digit grouping.
func FormatCurrency(amount float64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	p := message.NewPrinter(indianEnglish)
	return sign + "₹" + p.Sprintf("%v", number.Decimal(amount, number.MaxFractionDigits(2)))
}

// MapFields converts a backend field map into display items, in backend order.
func MapFields(details *Details) []voice.Item {
	if details == nil {
		return nil
	}
	items := make([]voice.Item, 0, details.Len())
	for pair := details.Oldest(); pair != nil; pair = pair.Next() {
		if isDenied(pair.Key) {
			continue
		}
		value, ok := formatValue(pair.Key, pair.Value)
		if !ok {
			continue
		}
		items = append(items, voice.Item{Label: Humanize(pair.Key), Value: value})
	}
	return items
}

// formatValue renders a single field; ok is false for null or empty values.
func formatValue(key string, v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(val)
		return s, s != ""
	case bool:
		if val {
			return "Yes", true
		}
		return "No", true
	case float64:
		if isMoneyKey(key) {
			return FormatCurrency(val), true
		}
		return formatNumber(val), true
	case int:
		return formatValue(key, float64(val))
	case int64:
		return formatValue(key, float64(val))
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return val.String(), true
		}
		return formatValue(key, f)
	case []any:
		parts := make([]string, 0, len(val))
		for _, elem := range val {
			if s, ok := formatValue("", elem); ok {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return "", false
		}
		return strings.Join(parts, ", "), true
	case []string:
		parts := make([]any, len(val))
		for i := range val {
			parts[i] = val[i]
		}
		return formatValue(key, parts)
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if isDenied(k) {
				continue
			}
			if s, ok := formatValue(k, val[k]); ok {
				parts = append(parts, Humanize(k)+": "+s)
			}
		}
		if len(parts) == 0 {
			return "", false
		}
		return strings.Join(parts, ", "), true
	default:
		s := strings.TrimSpace(fmt.Sprint(val))
		return s, s != ""
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// field accessors used by the per-type translators

func str(d *Details, keys ...string) string {
	for _, k := range keys {
		v, ok := d.Get(k)
		if !ok {
			continue
		}
		switch val := v.(type) {
		case string:
			if s := strings.TrimSpace(val); s != "" {
				return s
			}
		case float64:
			return formatNumber(val)
		}
	}
	return ""
}

func num(d *Details, keys ...string) *float64 {
	for _, k := range keys {
		v, ok := d.Get(k)
		if !ok {
			continue
		}
		switch val := v.(type) {
		case float64:
			return &val
		case string:
			cleaned := strings.NewReplacer(",", "", "₹", "", " ", "").Replace(val)
			if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

func flag(d *Details, keys ...string) bool {
	for _, k := range keys {
		if v, ok := d.Get(k); ok {
			if b, ok := v.(bool); ok {
				return b
			}
		}
	}
	return false
}

func strList(d *Details, keys ...string) []string {
	for _, k := range keys {
		v, ok := d.Get(k)
		if !ok {
			continue
		}
		switch val := v.(type) {
		case string:
			if s := strings.TrimSpace(val); s != "" {
				return []string{s}
			}
		case []any:
			out := make([]string, 0, len(val))
			for _, elem := range val {
				if s, ok := formatValue("", elem); ok {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return nil
}

// without returns a copy of d with the given keys removed.
func without(d *Details, keys ...string) *Details {
	out := orderedmap.New[string, any]()
	skip := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		skip[k] = struct{}{}
	}
	for pair := d.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := skip[pair.Key]; ok {
			continue
		}
		out.Set(pair.Key, pair.Value)
	}
	return out
}
