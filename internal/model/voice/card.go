package voice

// CardType tags the variant held by a Card.
type CardType string

const (
	CardCropRecommendation CardType = "cropRecommendation"
	CardMarketPrice        CardType = "marketPrice"
	CardGovernmentScheme   CardType = "governmentScheme"
	CardFinancialInsight   CardType = "financialInsight"
	CardConfirmation       CardType = "confirmation"
	CardGeneric            CardType = "genericCard"
)

// CardData is implemented only by the variant structs in this package.
type CardData interface {
	cardType() CardType
}

// Card is a normalized, renderable unit extracted from a backend response.
type Card struct {
	Type CardType `json:"type"`
	Data CardData `json:"data"`
}

// NewCard wraps data with its matching type tag.
func NewCard(data CardData) Card {
	return Card{Type: data.cardType(), Data: data}
}

// Item is a single label/value row of a generic card.
type Item struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type CropRecommendation struct {
	CropName       string   `json:"cropName"`
	CropNameLocal  string   `json:"cropNameLocal,omitempty"`
	Variety        string   `json:"variety,omitempty"`
	Season         string   `json:"season,omitempty"`
	ExpectedYield  string   `json:"expectedYield,omitempty"`
	ExpectedProfit *float64 `json:"expectedProfit,omitempty"`
	ExpectedIncome *float64 `json:"expectedIncome,omitempty"`
	Confidence     *float64 `json:"confidence,omitempty"`
	Reason         string   `json:"reason,omitempty"`
}

func (CropRecommendation) cardType() CardType { return CardCropRecommendation }

type MarketPrice struct {
	Commodity string   `json:"commodity"`
	Market    string   `json:"market,omitempty"`
	Price     *float64 `json:"price,omitempty"`
	MinPrice  *float64 `json:"minPrice,omitempty"`
	MaxPrice  *float64 `json:"maxPrice,omitempty"`
	Unit      string   `json:"unit,omitempty"`
	Trend     string   `json:"trend,omitempty"`
	Date      string   `json:"date,omitempty"`
}

func (MarketPrice) cardType() CardType { return CardMarketPrice }

type GovernmentScheme struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Eligibility []string `json:"eligibility,omitempty"`
	Benefits    string   `json:"benefits,omitempty"`
	Deadline    string   `json:"deadline,omitempty"`
	Link        string   `json:"link,omitempty"`
}

func (GovernmentScheme) cardType() CardType { return CardGovernmentScheme }

type FinancialInsight struct {
	Title        string   `json:"title"`
	Summary      string   `json:"summary,omitempty"`
	TotalIncome  *float64 `json:"totalIncome,omitempty"`
	TotalExpense *float64 `json:"totalExpense,omitempty"`
	NetProfit    *float64 `json:"netProfit,omitempty"`
	Tips         []string `json:"tips,omitempty"`
}

func (FinancialInsight) cardType() CardType { return CardFinancialInsight }

type Confirmation struct {
	Action               string `json:"action"`
	Message              string `json:"message,omitempty"`
	RequiresConfirmation bool   `json:"requiresConfirmation"`
	Items                []Item `json:"items,omitempty"`
}

func (Confirmation) cardType() CardType { return CardConfirmation }

// GenericCard is the catch-all variant for unknown or synthesized cards.
type GenericCard struct {
	Title string `json:"title"`
	Items []Item `json:"items"`
}

func (GenericCard) cardType() CardType { return CardGeneric }
