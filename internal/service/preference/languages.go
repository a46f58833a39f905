package preference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kisanmitra/voice-client/internal/i18n"
)

// ErrUnsupportedLanguage is returned for languages without a translation table.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Change is published whenever a farmer's language changes.
type Change struct {
	FarmerID string `json:"farmerId"`
	Language string `json:"language"`
}

// Languages is the single source of truth for the active UI language.
// Interested components subscribe instead of re-reading storage.
type Languages struct {
	store    Store
	catalog  *i18n.Catalog
	fallback string
	logger   *zap.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]chan Change
}

// NewLanguages builds the language source backed by store.
func NewLanguages(store Store, catalog *i18n.Catalog, fallback string, logger *zap.Logger) *Languages {
	if logger == nil {
		logger = zap.NewNop()
	}
	fallback = i18n.Normalize(fallback)
	if fallback == "" {
		fallback = i18n.Hindi
	}
	return &Languages{
		store:    store,
		catalog:  catalog,
		fallback: fallback,
		logger:   logger,
		subs:     make(map[int]chan Change),
	}
}

// Default is the language used when nothing is stored.
func (l *Languages) Default() string {
	return l.fallback
}

// Get returns the farmer's language or the default.
func (l *Languages) Get(ctx context.Context, farmerID string) string {
	farmerID = strings.TrimSpace(farmerID)
	if farmerID == "" || l.store == nil {
		return l.fallback
	}
	lang, err := l.store.Language(ctx, farmerID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			l.logger.Warn("language lookup failed", zap.String("farmer", farmerID), zap.Error(err))
		}
		return l.fallback
	}
	return lang
}

// Set validates, persists and broadcasts a language change.
func (l *Languages) Set(ctx context.Context, farmerID, language string) (string, error) {
	lang := i18n.Normalize(language)
	if !l.catalog.Has(lang) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}
	farmerID = strings.TrimSpace(farmerID)
	if farmerID != "" && l.store != nil {
		if err := l.store.SetLanguage(ctx, farmerID, lang); err != nil {
			return "", err
		}
	}
	l.publish(Change{FarmerID: farmerID, Language: lang})
	return lang, nil
}

// Subscribe returns a channel of changes and a function to stop receiving.
func (l *Languages) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, 4)

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(ch)
		})
	}
}

func (l *Languages) publish(change Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- change:
		default:
			l.logger.Warn("dropping language change for slow subscriber", zap.String("farmer", change.FarmerID))
		}
	}
}
