// Package conversation implements the voice interface's conversation state
// machine: view transitions, the message transcript and the asynchronous
// round trips to the backend.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kisanmitra/voice-client/internal/i18n"
	speechmodel "github.com/kisanmitra/voice-client/internal/model/speech"
	"github.com/kisanmitra/voice-client/internal/model/voice"
	"github.com/kisanmitra/voice-client/internal/service/normalizer"
	"github.com/kisanmitra/voice-client/internal/service/recorder"
	"github.com/kisanmitra/voice-client/internal/service/speech"
	"github.com/kisanmitra/voice-client/internal/service/transport"
)

var (
	// ErrEmptyText rejects blank input before any network call.
	ErrEmptyText = transport.ErrEmptyText
	// ErrBusy is returned while a previous request is still outstanding.
	ErrBusy = errors.New("a request is already in progress")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")
)

const subscriberBuffer = 32

// Backend submits utterances. *transport.Client implements it.
type Backend interface {
	SubmitText(ctx context.Context, req transport.TextRequest) (*voice.BackendResponse, error)
	SubmitAudio(ctx context.Context, req transport.AudioRequest) (*voice.BackendResponse, error)
}

// Recorder is the microphone capture lifecycle. *recorder.Controller implements it.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() (*recorder.Artifact, bool)
	Cancel() bool
	IsRecording() bool
}

// Options configures a Session.
type Options struct {
	FarmerID  string
	Language  string
	AutoSpeak bool

	Device      recorder.Device
	Synthesizer speech.Synthesizer
	Normalizer  *normalizer.Normalizer
	Catalog     *i18n.Catalog
	Logger      *zap.Logger
	Now         func() time.Time
}

// Session is one open instance of the voice interface. All methods are safe
// for concurrent use.
type Session struct {
	backend    Backend
	recorder   Recorder
	device     recorder.Device
	speaker    *speech.Speaker
	normalizer *normalizer.Normalizer
	catalog    *i18n.Catalog
	logger     *zap.Logger
	now        func() time.Time
	autoSpeak  bool

	mu       sync.Mutex
	id       string
	farmerID string
	language string
	view     voice.ViewState
	messages []voice.Message
	pending  bool
	openedAt time.Time
	closed   bool
	ctx      context.Context
	cancel   context.CancelFunc

	subs    map[int]chan voice.Event
	nextSub int

	wg sync.WaitGroup
}

// New creates a session in the idle state with a fresh session id.
func New(backend Backend, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Catalog == nil {
		opts.Catalog = i18n.Default()
	}
	if opts.Normalizer == nil {
		opts.Normalizer = normalizer.New(opts.Logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Device == nil {
		opts.Device = recorder.UnavailableDevice{}
	}
	lang := i18n.Normalize(opts.Language)
	if !opts.Catalog.Has(lang) {
		lang = i18n.Hindi
	}

	s := &Session{
		backend:    backend,
		device:     opts.Device,
		normalizer: opts.Normalizer,
		catalog:    opts.Catalog,
		logger:     opts.Logger,
		now:        opts.Now,
		autoSpeak:  opts.AutoSpeak,
		farmerID:   strings.TrimSpace(opts.FarmerID),
		language:   lang,
		subs:       make(map[int]chan voice.Event),
	}
	s.recorder = recorder.NewController(opts.Device, opts.Logger)
	s.speaker = speech.NewSpeaker(opts.Synthesizer, speech.SinkFunc(s.playSpeech), opts.Logger)
	s.reset()
	return s
}

var lastSessionMillis atomic.Int64

// newSessionID derives an id from the open time. Ids opened within the same
// millisecond are bumped forward so that every id is unique in the process.
func newSessionID(t time.Time) string {
	ms := t.UnixMilli()
	for {
		last := lastSessionMillis.Load()
		if ms <= last {
			ms = last + 1
		}
		if lastSessionMillis.CompareAndSwap(last, ms) {
			return fmt.Sprintf("session_%d", ms)
		}
	}
}

// reset must be called with s.mu held or before s is shared.
func (s *Session) reset() {
	if s.cancel != nil {
		s.cancel()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.openedAt = s.now()
	s.id = newSessionID(s.openedAt)
	s.view = voice.ViewIdle
	s.messages = nil
	s.pending = false
}

// ID returns the current session id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// FarmerID returns the farmer the session belongs to, if any.
func (s *Session) FarmerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.farmerID
}

// Device returns the microphone the session records from.
func (s *Session) Device() recorder.Device { return s.device }

// Reopen starts over as a new session: the id is regenerated, messages are
// cleared, the view returns to idle, and outstanding work is abandoned.
func (s *Session) Reopen() error {
	s.recorder.Cancel()
	s.speaker.Cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.reset()
	s.mu.Unlock()

	s.publishState()
	return nil
}

// Close releases the microphone, stops speech, abandons outstanding requests
// and ends all subscriptions. It waits for background work to finish.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancel()
	subs := s.subs
	s.subs = make(map[int]chan voice.Event)
	s.mu.Unlock()

	s.recorder.Cancel()
	s.speaker.Close()
	s.wg.Wait()

	for _, ch := range subs {
		close(ch)
	}
}

// Wait blocks until all outstanding requests have completed.
func (s *Session) Wait() { s.wg.Wait() }

// SetLanguage changes the language used for user-facing strings.
func (s *Session) SetLanguage(lang string) {
	lang = i18n.Normalize(lang)
	if !s.catalog.Has(lang) {
		return
	}
	s.mu.Lock()
	changed := s.language != lang && !s.closed
	s.language = lang
	s.mu.Unlock()
	if changed {
		s.publishState()
	}
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() voice.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() voice.Snapshot {
	messages := make([]voice.Message, len(s.messages))
	copy(messages, s.messages)
	return voice.Snapshot{
		SessionID:   s.id,
		FarmerID:    s.farmerID,
		Language:    s.language,
		ViewState:   s.view,
		IsRecording: s.recorder.IsRecording(),
		Pending:     s.pending,
		Messages:    messages,
		OpenedAt:    s.openedAt,
	}
}

// StartRecording acquires the microphone and moves to the listening view.
// When the device refuses, an alert is published, the view is left as it
// was, and the *recorder.DeviceError is returned.
func (s *Session) StartRecording(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.pending {
		s.mu.Unlock()
		return ErrBusy
	}
	lang := s.language
	s.mu.Unlock()

	if err := s.recorder.Start(ctx); err != nil {
		key := i18n.KeyErrMicUnavailable
		var devErr *recorder.DeviceError
		if errors.As(err, &devErr) && devErr.Reason == recorder.PermissionDenied {
			key = i18n.KeyErrMicDenied
		}
		s.logger.Info("microphone not acquired", zap.Error(err))
		s.publishAlert(s.catalog.T(lang, key))
		return err
	}

	s.speaker.Cancel()
	s.mu.Lock()
	s.view = voice.ViewListening
	s.mu.Unlock()
	s.publishState()
	return nil
}

// StopRecording finalizes the capture and submits it. It is a no-op when
// nothing is being recorded.
func (s *Session) StopRecording() error {
	if !s.recorder.IsRecording() {
		return nil
	}
	artifact, ok := s.recorder.Stop()
	if !ok {
		// cancelled while stopping; CancelRecording already settled the view
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if len(artifact.Data) == 0 {
		s.view = s.restingViewLocked()
		s.mu.Unlock()
		s.logger.Debug("empty recording discarded")
		s.publishState()
		return nil
	}

	placeholder := s.appendLocked(voice.Message{
		Kind:    voice.RoleUser,
		Text:    s.catalog.T(s.language, i18n.KeyTranscribing),
		Audio:   &voice.AudioInfo{Duration: artifact.Duration.Seconds()},
		Pending: true,
	})
	s.view = voice.ViewConversation
	s.pending = true
	req := transport.AudioRequest{Audio: artifact, FarmerID: s.farmerID, SessionID: s.id, Language: s.language}
	s.startLocked(placeholder.ID, func(ctx context.Context) (*voice.BackendResponse, error) {
		return s.backend.SubmitAudio(ctx, req)
	})
	s.mu.Unlock()

	s.publishState()
	return nil
}

// CancelRecording discards any capture without submitting it and returns
// to the conversation view, or to idle when there are no messages yet.
func (s *Session) CancelRecording() {
	s.recorder.Cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.view = s.restingViewLocked()
	s.mu.Unlock()
	s.publishState()
}

// SubmitText sends typed text. The user message is appended before
// SubmitText returns; the assistant reply follows asynchronously.
func (s *Session) SubmitText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.pending {
		s.mu.Unlock()
		return ErrBusy
	}
	s.mu.Unlock()

	// typing while listening abandons the capture
	s.recorder.Cancel()
	s.speaker.Cancel()

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.pending:
		s.mu.Unlock()
		return ErrBusy
	}
	s.appendLocked(voice.Message{Kind: voice.RoleUser, Text: text})
	s.view = voice.ViewConversation
	s.pending = true
	req := transport.TextRequest{Text: text, FarmerID: s.farmerID, SessionID: s.id, Language: s.language}
	s.startLocked("", func(ctx context.Context) (*voice.BackendResponse, error) {
		return s.backend.SubmitText(ctx, req)
	})
	s.mu.Unlock()

	s.publishState()
	return nil
}

// Speak reads text aloud, replacing anything currently being spoken.
func (s *Session) Speak(text string) {
	s.speaker.Speak(s.ID(), text)
}

// CancelSpeech stops any speech in progress.
func (s *Session) CancelSpeech() {
	s.speaker.Cancel()
}

func (s *Session) restingViewLocked() voice.ViewState {
	if len(s.messages) > 0 {
		return voice.ViewConversation
	}
	return voice.ViewIdle
}

func (s *Session) appendLocked(m voice.Message) voice.Message {
	now := s.now()
	m.ID = uuid.NewString()
	m.CreatedAt = now
	m.Timestamp = voice.FormatTimestamp(now)
	s.messages = append(s.messages, m)
	return m
}

// startLocked runs call in the background, bound to the current session
// context so that Reopen and Close abandon it.
func (s *Session) startLocked(placeholderID string, call func(context.Context) (*voice.BackendResponse, error)) {
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		resp, err := call(ctx)
		if ctx.Err() != nil {
			return
		}
		s.complete(ctx, placeholderID, resp, err)
	}()
}

func (s *Session) complete(ctx context.Context, placeholderID string, resp *voice.BackendResponse, err error) {
	s.mu.Lock()
	if ctx != s.ctx || s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = false

	var spoken string
	if err != nil {
		s.logger.Warn("backend request failed", zap.String("sessionId", s.id), zap.Error(err))
		s.removeLocked(placeholderID)
		s.appendLocked(voice.Message{
			Kind:    voice.RoleAssistant,
			Text:    s.errorText(err),
			IsError: true,
		})
	} else {
		result := s.normalizer.Normalize(resp)
		s.resolvePlaceholderLocked(placeholderID, result.TranscriptText)
		s.appendLocked(voice.Message{
			Kind:           voice.RoleAssistant,
			Text:           result.Text,
			CardData:       result.Primary(),
			ContextItems:   result.ContextItems,
			TranscriptText: result.TranscriptText,
		})
		if s.autoSpeak {
			spoken = result.Text
		}
	}
	id := s.id
	s.mu.Unlock()

	s.publishState()
	if spoken != "" {
		s.speaker.Speak(id, spoken)
	}
}

func (s *Session) removeLocked(id string) {
	if id == "" {
		return
	}
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages = append(s.messages[:i:i], s.messages[i+1:]...)
			return
		}
	}
}

// resolvePlaceholderLocked replaces the transcribing text of an audio turn
// with what the backend heard.
func (s *Session) resolvePlaceholderLocked(id, transcript string) {
	if id == "" {
		return
	}
	for i := range s.messages {
		if s.messages[i].ID != id {
			continue
		}
		text := strings.TrimSpace(transcript)
		if text == "" {
			text = s.catalog.T(s.language, i18n.KeyVoiceMessage)
		}
		s.messages[i].Text = text
		s.messages[i].Pending = false
		return
	}
}

func (s *Session) errorText(err error) string {
	var serverErr *transport.ServerError
	if errors.As(err, &serverErr) {
		return s.catalog.T(s.language, i18n.KeyErrorPrefix) + ": " + serverErr.Message
	}
	if msg := transport.UserMessage(err); msg != "" {
		return msg
	}
	return s.catalog.T(s.language, i18n.KeyErrorPrefix)
}

// Subscribe returns a channel of session events. Slow subscribers miss
// events rather than blocking the session; every state event carries a full
// snapshot so the next one resynchronizes them.
func (s *Session) Subscribe() (<-chan voice.Event, func()) {
	ch := make(chan voice.Event, subscriberBuffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
			s.mu.Unlock()
		})
	}
}

func (s *Session) publishState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshotLocked()
	s.publishLocked(voice.Event{Type: voice.EventState, Snapshot: &snap})
}

func (s *Session) publishAlert(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishLocked(voice.Event{Type: voice.EventAlert, Alert: text})
}

func (s *Session) playSpeech(ctx context.Context, audio *speechmodel.TTSResponse) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishLocked(voice.Event{Type: voice.EventSpeech, Speech: &voice.SpeechAudio{
		Text:     audio.Text,
		Language: audio.Language,
		Format:   audio.Format,
		Audio:    audio.AudioData,
	}})
	return nil
}

func (s *Session) publishLocked(ev voice.Event) {
	ev.SessionID = s.id
	ev.Timestamp = s.now().UnixMilli()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("dropping session event for slow subscriber", zap.String("type", string(ev.Type)))
		}
	}
}
