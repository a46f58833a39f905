// Package speech turns assistant replies into spoken audio.
package speech

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	speechmodel "github.com/kisanmitra/voice-client/internal/model/speech"
)

// Language tags handed to the synthesizer.
const (
	PrimaryLanguage   = "hi-IN"
	SecondaryLanguage = "en-IN"
)

const detectPrefixRunes = 50

var plainASCII = regexp.MustCompile(`^[A-Za-z0-9\s.,!?'"()\-:;]+$`)

// Synthesizer converts an utterance into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, u *speechmodel.Utterance) (*speechmodel.TTSResponse, error)
}

// AudioSink plays or forwards synthesized audio. Play must return promptly
// once ctx is cancelled.
type AudioSink interface {
	Play(ctx context.Context, audio *speechmodel.TTSResponse) error
}

// SinkFunc adapts a function to AudioSink.
type SinkFunc func(ctx context.Context, audio *speechmodel.TTSResponse) error

func (f SinkFunc) Play(ctx context.Context, audio *speechmodel.TTSResponse) error {
	return f(ctx, audio)
}

// DetectLanguage picks the spoken language for text: if its first 50
// characters are plain ASCII letters, digits and punctuation it is English,
// otherwise Hindi.
func DetectLanguage(text string) string {
	prefix := []rune(text)
	if len(prefix) > detectPrefixRunes {
		prefix = prefix[:detectPrefixRunes]
	}
	if plainASCII.MatchString(string(prefix)) {
		return SecondaryLanguage
	}
	return PrimaryLanguage
}

// Speaker is a single-slot speech output: starting new speech cancels any
// utterance still in flight.
type Speaker struct {
	synth  Synthesizer
	sink   AudioSink
	format string
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// NewSpeaker returns a Speaker. A nil synthesizer or sink is a valid
// configuration in which Speak only logs.
func NewSpeaker(synth Synthesizer, sink AudioSink, logger *zap.Logger) *Speaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Speaker{synth: synth, sink: sink, format: "mp3", logger: logger.Named("speaker")}
}

// Available reports whether speech output is possible.
func (s *Speaker) Available() bool {
	return s != nil && s.synth != nil && s.sink != nil
}

// Speak cancels any in-flight speech and starts speaking text in the
// background. sessionID is forwarded to the synthesizer for correlation.
func (s *Speaker) Speak(sessionID, text string) {
	if !s.Available() {
		if s != nil {
			s.logger.Warn("speech synthesis unavailable, skipping")
		}
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	u := &speechmodel.Utterance{
		SessionID: sessionID,
		Text:      text,
		Language:  DetectLanguage(text),
		Rate:      1.0,
		Pitch:     1.0,
		Format:    s.format,
	}
	go s.run(ctx, u)
}

func (s *Speaker) run(ctx context.Context, u *speechmodel.Utterance) {
	defer s.wg.Done()

	audio, err := s.synth.Synthesize(ctx, u)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("speech synthesis failed", zap.String("language", u.Language), zap.Error(err))
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	if err := s.sink.Play(ctx, audio); err != nil && ctx.Err() == nil {
		s.logger.Warn("speech playback failed", zap.Error(err))
	}
}

// Cancel stops any in-flight speech.
func (s *Speaker) Cancel() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
}

// Close cancels speech and waits for background work to finish. Speak is a
// no-op afterwards.
func (s *Speaker) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}
