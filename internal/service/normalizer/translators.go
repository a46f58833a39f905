package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/kisanmitra/voice-client/internal/model/voice"
)

var (
	errNotObject    = errors.New("card is not a JSON object")
	errMissingField = errors.New("required field missing")
)

// MappingError reports a backend card that could not be translated.
// It is recoverable: the card is dropped and processing continues.
type MappingError struct {
	Index    int
	CardType string
	Err      error
}

func (e *MappingError) Error() string {
	if e.CardType == "" {
		return fmt.Sprintf("card %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("card %d (%s): %v", e.Index, e.CardType, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

// backendCard is the validated envelope {card_type, title?, details|data}.
type backendCard struct {
	CardType string
	Title    string
	Details  *Details
}

type cardHead struct {
	CardType string          `json:"card_type"`
	Type     string          `json:"type"`
	Title    string          `json:"title"`
	Details  json.RawMessage `json:"details"`
	Data     json.RawMessage `json:"data"`
}

func decodeCard(raw json.RawMessage) (backendCard, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return backendCard{}, errNotObject
	}

	var head cardHead
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return backendCard{}, fmt.Errorf("decode card envelope: %w", err)
	}

	card := backendCard{
		CardType: strings.TrimSpace(head.CardType),
		Title:    strings.TrimSpace(head.Title),
	}
	if card.CardType == "" {
		card.CardType = strings.TrimSpace(head.Type)
	}

	body := head.Details
	if isNull(body) {
		body = head.Data
	}
	if isNull(body) {
		body = trimmed
	}

	details, err := decodeDetails(body)
	if err != nil {
		return card, err
	}
	card.Details = details
	return card, nil
}

func decodeDetails(body json.RawMessage) (*Details, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("details: %w", errNotObject)
	}
	details := orderedmap.New[string, any]()
	if err := json.Unmarshal(trimmed, details); err != nil {
		return nil, fmt.Errorf("decode details: %w", err)
	}
	return details, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

type translator func(card backendCard) (voice.Card, error)

// translatorFor picks the per-type translator for a backend card_type.
func translatorFor(cardType string) translator {
	switch strings.ToLower(strings.ReplaceAll(cardType, "-", "_")) {
	case "crop_recommendation", "crop_recommendations", "crop", "croprecommendation":
		return translateCrop
	case "market_price", "mandi_price", "price", "marketprice":
		return translateMarketPrice
	case "government_scheme", "scheme", "governmentscheme":
		return translateScheme
	case "financial_insight", "financial_summary", "finance", "financialinsight":
		return translateFinance
	case "confirmation":
		return translateConfirmation
	default:
		return translateGeneric
	}
}

func translateCrop(card backendCard) (voice.Card, error) {
	d := card.Details
	name := str(d, "crop_name", "crop", "name")
	if name == "" {
		return voice.Card{}, fmt.Errorf("%w: crop_name", errMissingField)
	}
	return voice.NewCard(voice.CropRecommendation{
		CropName:       name,
		CropNameLocal:  str(d, "crop_name_hindi", "name_hindi"),
		Variety:        str(d, "variety"),
		Season:         str(d, "season", "sowing_season"),
		ExpectedYield:  str(d, "expected_yield", "yield"),
		ExpectedProfit: num(d, "expected_profit", "profit", "net_profit"),
		ExpectedIncome: num(d, "expected_income", "income", "revenue"),
		Confidence:     num(d, "confidence", "suitability_score", "score"),
		Reason:         str(d, "reason", "reasoning", "why"),
	}), nil
}

func translateMarketPrice(card backendCard) (voice.Card, error) {
	d := card.Details
	commodity := str(d, "commodity", "crop", "crop_name", "name")
	if commodity == "" {
		return voice.Card{}, fmt.Errorf("%w: commodity", errMissingField)
	}
	return voice.NewCard(voice.MarketPrice{
		Commodity: commodity,
		Market:    str(d, "market", "mandi", "location"),
		Price:     num(d, "price", "modal_price", "current_price"),
		MinPrice:  num(d, "min_price"),
		MaxPrice:  num(d, "max_price"),
		Unit:      str(d, "unit"),
		Trend:     str(d, "trend", "price_trend"),
		Date:      str(d, "date", "arrival_date"),
	}), nil
}

func translateScheme(card backendCard) (voice.Card, error) {
	d := card.Details
	name := str(d, "scheme_name", "name")
	if name == "" {
		name = card.Title
	}
	if name == "" {
		return voice.Card{}, fmt.Errorf("%w: scheme_name", errMissingField)
	}
	return voice.NewCard(voice.GovernmentScheme{
		Name:        name,
		Description: str(d, "description", "summary"),
		Eligibility: strList(d, "eligibility", "eligibility_criteria"),
		Benefits:    str(d, "benefits", "benefit", "amount"),
		Deadline:    str(d, "deadline", "last_date"),
		Link:        str(d, "application_link", "link", "url"),
	}), nil
}

func translateFinance(card backendCard) (voice.Card, error) {
	d := card.Details
	title := card.Title
	if title == "" {
		title = str(d, "title", "category")
	}
	if title == "" {
		title = "Financial Summary"
	}
	return voice.NewCard(voice.FinancialInsight{
		Title:        title,
		Summary:      str(d, "summary", "insight", "message"),
		TotalIncome:  num(d, "total_income", "income"),
		TotalExpense: num(d, "total_expense", "total_expenses", "expense"),
		NetProfit:    num(d, "net_profit", "profit", "net"),
		Tips:         strList(d, "tips", "recommendations"),
	}), nil
}

func translateConfirmation(card backendCard) (voice.Card, error) {
	d := card.Details
	action := str(d, "action", "action_type")
	if action == "" {
		action = "confirm"
	}
	return voice.NewCard(voice.Confirmation{
		Action:               action,
		Message:              str(d, "message", "summary"),
		RequiresConfirmation: flag(d, "requires_confirmation"),
		Items:                MapFields(without(d, "action", "action_type", "message", "summary", "requires_confirmation")),
	}), nil
}

func translateGeneric(card backendCard) (voice.Card, error) {
	title := card.Title
	if title == "" {
		title = Humanize(card.CardType)
	}
	if title == "" {
		title = "Details"
	}
	return voice.NewCard(voice.GenericCard{
		Title: title,
		Items: MapFields(card.Details),
	}), nil
}
