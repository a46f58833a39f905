// Package normalizer maps heterogeneous backend replies into the fixed
// message and card model rendered by the voice interface.
package normalizer

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kisanmitra/voice-client/internal/model/voice"
)

const (
	// FallbackText is shown when a reply carries no explanation at all.
	FallbackText = "Response received"
	// RankingTitle titles the card synthesized from several crop recommendations.
	RankingTitle = "Top Crop Recommendations"
)

// Result is the normalized form of one backend reply.
type Result struct {
	Text           string
	Cards          []voice.Card
	ContextItems   []string
	TranscriptText string
	Skipped        []*MappingError
}

// Primary returns the card shown with the message. Only one card is rendered
// per message; the rest of Cards is not displayed.
func (r Result) Primary() *voice.Card {
	if len(r.Cards) == 0 {
		return nil
	}
	card := r.Cards[0]
	return &card
}

// Normalizer converts backend responses. It is stateless and safe for
// concurrent use.
type Normalizer struct {
	logger *zap.Logger
}

// New creates a Normalizer that logs skipped cards to logger.
func New(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger}
}

// Normalize applies the card and text selection policy to resp.
func (n *Normalizer) Normalize(resp *voice.BackendResponse) Result {
	if resp == nil {
		return Result{Text: FallbackText}
	}

	var (
		crops   []voice.Card
		others  []voice.Card
		skipped []*MappingError
	)

	for i, raw := range resp.Cards {
		card, err := n.translate(i, raw)
		if err != nil {
			skipped = append(skipped, err)
			n.logger.Warn("skipping backend card", zap.Int("index", i), zap.String("cardType", err.CardType), zap.Error(err.Err))
			continue
		}
		if card.Type == voice.CardCropRecommendation {
			crops = append(crops, card)
		} else {
			others = append(others, card)
		}
	}

	cards := make([]voice.Card, 0, len(others)+1)
	switch {
	case len(crops) > 1:
		cards = append(cards, rankCrops(crops))
	case len(crops) == 1:
		cards = append(cards, crops[0])
	}
	cards = append(cards, others...)

	result := Result{
		Text:    pickText(resp),
		Cards:   cards,
		Skipped: skipped,
	}
	if resp.Metadata != nil {
		result.ContextItems = append([]string(nil), resp.Metadata.Context...)
	}
	result.TranscriptText = strings.TrimSpace(resp.Transcription)
	if result.TranscriptText == "" && resp.Metadata != nil {
		result.TranscriptText = strings.TrimSpace(resp.Metadata.UserInputEnglish)
	}
	return result
}

func (n *Normalizer) translate(index int, raw []byte) (card voice.Card, mErr *MappingError) {
	defer func() {
		if r := recover(); r != nil {
			mErr = &MappingError{Index: index, Err: fmt.Errorf("panic while mapping card: %v", r)}
		}
	}()

	bc, err := decodeCard(raw)
	if err != nil {
		return voice.Card{}, &MappingError{Index: index, CardType: bc.CardType, Err: err}
	}
	card, err = translatorFor(bc.CardType)(bc)
	if err != nil {
		return voice.Card{}, &MappingError{Index: index, CardType: bc.CardType, Err: err}
	}
	return card, nil
}

// rankCrops collapses several crop recommendations into one ranking card,
// keeping the order in which the backend sent them.
func rankCrops(crops []voice.Card) voice.Card {
	items := make([]voice.Item, 0, len(crops))
	for i, card := range crops {
		crop, ok := card.Data.(voice.CropRecommendation)
		if !ok {
			continue
		}
		items = append(items, voice.Item{
			Label: fmt.Sprintf("%d. %s", i+1, crop.CropName),
			Value: expectedOutcome(crop),
		})
	}
	return voice.NewCard(voice.GenericCard{Title: RankingTitle, Items: items})
}

func expectedOutcome(crop voice.CropRecommendation) string {
	switch {
	case crop.ExpectedProfit != nil:
		return FormatCurrency(*crop.ExpectedProfit)
	case crop.ExpectedYield != "":
		return crop.ExpectedYield
	case crop.ExpectedIncome != nil:
		return FormatCurrency(*crop.ExpectedIncome)
	default:
		return "-"
	}
}

func pickText(resp *voice.BackendResponse) string {
	for _, candidate := range []string{resp.ExplanationHindi, resp.ExplanationEnglish, resp.Reasoning} {
		if s := strings.TrimSpace(candidate); s != "" {
			return s
		}
	}
	return FallbackText
}
