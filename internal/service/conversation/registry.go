package conversation

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kisanmitra/voice-client/internal/i18n"
	"github.com/kisanmitra/voice-client/internal/service/normalizer"
	"github.com/kisanmitra/voice-client/internal/service/preference"
	"github.com/kisanmitra/voice-client/internal/service/recorder"
	"github.com/kisanmitra/voice-client/internal/service/speech"
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// RegistryConfig holds what every session opened by a Registry shares.
type RegistryConfig struct {
	Backend     Backend
	Synthesizer speech.Synthesizer
	Languages   *preference.Languages
	Catalog     *i18n.Catalog
	Logger      *zap.Logger
	AutoSpeak   bool
	// AudioFormat is the container format of audio pushed by clients.
	AudioFormat string
	// DefaultFarmerID is used when a session is opened without one.
	DefaultFarmerID string
}

// Registry keeps the live sessions of the gateway, keyed by session id.
type Registry struct {
	cfg        RegistryConfig
	normalizer *normalizer.Normalizer

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Catalog == nil {
		cfg.Catalog = i18n.Default()
	}
	return &Registry{
		cfg:        cfg,
		normalizer: normalizer.New(cfg.Logger.Named("normalizer")),
		sessions:   make(map[string]*Session),
	}
}

// Open creates a session. An empty language is resolved from the farmer's
// stored preference.
func (r *Registry) Open(ctx context.Context, farmerID, language string) *Session {
	farmerID = strings.TrimSpace(farmerID)
	if farmerID == "" {
		farmerID = r.cfg.DefaultFarmerID
	}
	if strings.TrimSpace(language) == "" && r.cfg.Languages != nil {
		language = r.cfg.Languages.Get(ctx, farmerID)
	}

	s := New(r.cfg.Backend, Options{
		FarmerID:    farmerID,
		Language:    language,
		AutoSpeak:   r.cfg.AutoSpeak,
		Device:      recorder.NewFeedDevice(r.cfg.AudioFormat),
		Synthesizer: r.cfg.Synthesizer,
		Normalizer:  r.normalizer,
		Catalog:     r.cfg.Catalog,
		Logger:      r.cfg.Logger.Named("session"),
	})

	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()

	r.cfg.Logger.Info("session opened", zap.String("sessionId", s.ID()), zap.String("farmerId", farmerID))
	return s
}

// Get looks up a live session.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Reopen resets the session to a fresh id and re-keys it.
func (r *Registry) Reopen(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if err := s.Reopen(); err != nil {
		return nil, err
	}
	delete(r.sessions, id)
	r.sessions[s.ID()] = s
	return s, nil
}

// Close ends and forgets a session.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	r.cfg.Logger.Info("session closed", zap.String("sessionId", id))
	return nil
}

// List returns the ids of live sessions in ascending order.
func (r *Registry) List() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// CloseAll ends every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

// Run applies farmer language changes to their open sessions until ctx is
// done.
func (r *Registry) Run(ctx context.Context) error {
	if r.cfg.Languages == nil {
		<-ctx.Done()
		return nil
	}
	changes, cancel := r.cfg.Languages.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			r.applyLanguage(change)
		}
	}
}

func (r *Registry) applyLanguage(change preference.Change) {
	r.mu.RLock()
	var targets []*Session
	for _, s := range r.sessions {
		if s.FarmerID() == change.FarmerID {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()
	for _, s := range targets {
		s.SetLanguage(change.Language)
	}
}
