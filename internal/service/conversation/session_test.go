package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kisanmitra/voice-client/internal/i18n"
	speechmodel "github.com/kisanmitra/voice-client/internal/model/speech"
	"github.com/kisanmitra/voice-client/internal/model/voice"
	"github.com/kisanmitra/voice-client/internal/service/recorder"
	"github.com/kisanmitra/voice-client/internal/service/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeBackend struct {
	mu         sync.Mutex
	textCalls  []transport.TextRequest
	audioCalls []transport.AudioRequest

	gate chan struct{}
	resp *voice.BackendResponse
	err  error
}

func (b *fakeBackend) wait(ctx context.Context) (*voice.BackendResponse, error) {
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return b.resp, b.err
}

func (b *fakeBackend) SubmitText(ctx context.Context, req transport.TextRequest) (*voice.BackendResponse, error) {
	b.mu.Lock()
	b.textCalls = append(b.textCalls, req)
	b.mu.Unlock()
	return b.wait(ctx)
}

func (b *fakeBackend) SubmitAudio(ctx context.Context, req transport.AudioRequest) (*voice.BackendResponse, error) {
	b.mu.Lock()
	b.audioCalls = append(b.audioCalls, req)
	b.mu.Unlock()
	return b.wait(ctx)
}

func (b *fakeBackend) calls() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.textCalls), len(b.audioCalls)
}

var fixedClock = func() time.Time { return time.Date(2024, 11, 5, 9, 30, 0, 0, time.UTC) }

func newSession(t *testing.T, backend Backend, opts Options) *Session {
	t.Helper()
	if opts.Now == nil {
		opts.Now = fixedClock
	}
	s := New(backend, opts)
	t.Cleanup(s.Close)
	return s
}

func countKind(msgs []voice.Message, kind voice.Role) int {
	n := 0
	for _, m := range msgs {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

func TestNewSessionStartsIdle(t *testing.T) {
	s := newSession(t, &fakeBackend{}, Options{FarmerID: "farmer-1"})

	snap := s.Snapshot()
	assert.Equal(t, voice.ViewIdle, snap.ViewState)
	assert.Empty(t, snap.Messages)
	assert.Regexp(t, `^session_\d+$`, snap.SessionID)
	assert.Equal(t, i18n.Hindi, snap.Language)
	assert.Equal(t, "farmer-1", snap.FarmerID)
}

func TestSubmitTextFromIdle(t *testing.T) {
	backend := &fakeBackend{
		gate: make(chan struct{}),
		resp: &voice.BackendResponse{ExplanationHindi: "प्याज का भाव 2400 रुपये प्रति क्विंटल है"},
	}
	s := newSession(t, backend, Options{FarmerID: "farmer-1"})

	require.NoError(t, s.SubmitText("प्याज की कीमत क्या है?"))

	snap := s.Snapshot()
	assert.Equal(t, voice.ViewConversation, snap.ViewState)
	assert.True(t, snap.Pending)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, voice.RoleUser, snap.Messages[0].Kind)
	assert.Equal(t, "प्याज की कीमत क्या है?", snap.Messages[0].Text)
	assert.Equal(t, "09:30 AM", snap.Messages[0].Timestamp)

	close(backend.gate)
	s.Wait()

	snap = s.Snapshot()
	assert.False(t, snap.Pending)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, 1, countKind(snap.Messages, voice.RoleAssistant))
	assert.Equal(t, "प्याज का भाव 2400 रुपये प्रति क्विंटल है", snap.Messages[1].Text)
	assert.False(t, snap.Messages[1].IsError)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.textCalls, 1)
	assert.Equal(t, "farmer-1", backend.textCalls[0].FarmerID)
	assert.Equal(t, snap.SessionID, backend.textCalls[0].SessionID)
}

func TestSubmitBlankTextMakesNoCall(t *testing.T) {
	backend := &fakeBackend{}
	s := newSession(t, backend, Options{})

	for _, text := range []string{"", "   ", "\n\t"} {
		assert.ErrorIs(t, s.SubmitText(text), ErrEmptyText)
	}
	textCalls, _ := backend.calls()
	assert.Zero(t, textCalls)
	assert.Equal(t, voice.ViewIdle, s.Snapshot().ViewState)
	assert.Empty(t, s.Snapshot().Messages)
}

func TestSubmitWhileBusy(t *testing.T) {
	backend := &fakeBackend{gate: make(chan struct{}), resp: &voice.BackendResponse{}}
	s := newSession(t, backend, Options{})

	require.NoError(t, s.SubmitText("पहला सवाल"))
	assert.ErrorIs(t, s.SubmitText("दूसरा सवाल"), ErrBusy)
	assert.ErrorIs(t, s.StartRecording(context.Background()), ErrBusy)

	close(backend.gate)
	s.Wait()
	require.NoError(t, s.SubmitText("दूसरा सवाल"))
	s.Wait()

	textCalls, _ := backend.calls()
	assert.Equal(t, 2, textCalls)
	assert.Len(t, s.Snapshot().Messages, 4)
}

func TestTextFailureAppendsOneErrorMessage(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "connectivity",
			err:  &transport.ConnectivityError{Message: "सर्वर से कनेक्ट नहीं हो पाया", Err: errors.New("dial tcp 10.0.0.1:8000: connect: connection refused")},
			want: "सर्वर से कनेक्ट नहीं हो पाया",
		},
		{
			name: "server",
			err:  &transport.ServerError{StatusCode: 500, Message: "model overloaded"},
			want: i18n.Default().T(i18n.Hindi, i18n.KeyErrorPrefix) + ": model overloaded",
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: i18n.Default().T(i18n.Hindi, i18n.KeyErrorPrefix),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newSession(t, &fakeBackend{err: tc.err}, Options{})

			require.NoError(t, s.SubmitText("मौसम कैसा रहेगा?"))
			s.Wait()

			msgs := s.Snapshot().Messages
			require.Len(t, msgs, 2)
			assert.Equal(t, voice.RoleAssistant, msgs[1].Kind)
			assert.True(t, msgs[1].IsError)
			assert.Equal(t, tc.want, msgs[1].Text)
			assert.False(t, s.Snapshot().Pending)
		})
	}
}

func startWithAudio(t *testing.T, s *Session, chunks ...string) {
	t.Helper()
	require.NoError(t, s.StartRecording(context.Background()))
	feed := s.Device().(*recorder.FeedDevice)
	for _, c := range chunks {
		require.NoError(t, feed.Write([]byte(c)))
	}
}

func TestRecordingRoundTrip(t *testing.T) {
	backend := &fakeBackend{
		gate: make(chan struct{}),
		resp: &voice.BackendResponse{
			Transcription:    "गेहूं कब बोना चाहिए?",
			ExplanationHindi: "नवंबर के पहले पखवाड़े में",
		},
	}
	s := newSession(t, backend, Options{Device: recorder.NewFeedDevice("webm")})

	startWithAudio(t, s, "chunk-1", "chunk-2")
	assert.Equal(t, voice.ViewListening, s.Snapshot().ViewState)
	assert.True(t, s.Snapshot().IsRecording)

	require.NoError(t, s.StopRecording())

	snap := s.Snapshot()
	assert.Equal(t, voice.ViewConversation, snap.ViewState)
	assert.False(t, snap.IsRecording)
	require.Len(t, snap.Messages, 1)
	placeholder := snap.Messages[0]
	assert.Equal(t, i18n.Default().T(i18n.Hindi, i18n.KeyTranscribing), placeholder.Text)
	assert.True(t, placeholder.Pending)
	require.NotNil(t, placeholder.Audio)

	close(backend.gate)
	s.Wait()

	snap = s.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, placeholder.ID, snap.Messages[0].ID)
	assert.Equal(t, "गेहूं कब बोना चाहिए?", snap.Messages[0].Text)
	assert.False(t, snap.Messages[0].Pending)
	assert.Equal(t, "नवंबर के पहले पखवाड़े में", snap.Messages[1].Text)
	assert.Equal(t, "गेहूं कब बोना चाहिए?", snap.Messages[1].TranscriptText)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.audioCalls, 1)
	assert.Equal(t, "chunk-1chunk-2", string(backend.audioCalls[0].Audio.Data))
}

func TestRecordingWithoutTranscriptShowsVoiceLabel(t *testing.T) {
	s := newSession(t, &fakeBackend{resp: &voice.BackendResponse{ExplanationEnglish: "ok"}},
		Options{Device: recorder.NewFeedDevice("webm"), Language: i18n.English})

	startWithAudio(t, s, "x")
	require.NoError(t, s.StopRecording())
	s.Wait()

	msgs := s.Snapshot().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, i18n.Default().T(i18n.English, i18n.KeyVoiceMessage), msgs[0].Text)
}

func TestAudioFailureRemovesPlaceholder(t *testing.T) {
	backend := &fakeBackend{err: &transport.NetworkError{Message: "Network error. Please try again.", Err: errors.New("reset")}}
	s := newSession(t, backend, Options{Device: recorder.NewFeedDevice("webm")})

	startWithAudio(t, s, "audio")
	require.NoError(t, s.StopRecording())
	s.Wait()

	msgs := s.Snapshot().Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, voice.RoleAssistant, msgs[0].Kind)
	assert.True(t, msgs[0].IsError)
	assert.Equal(t, "Network error. Please try again.", msgs[0].Text)
	for _, m := range msgs {
		assert.False(t, m.Pending)
	}
}

func TestStartRecordingDenied(t *testing.T) {
	feed := recorder.NewFeedDevice("webm")
	feed.SetPermission(false)
	s := newSession(t, &fakeBackend{}, Options{Device: feed})
	events, cancel := s.Subscribe()
	defer cancel()

	err := s.StartRecording(context.Background())

	var devErr *recorder.DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, recorder.PermissionDenied, devErr.Reason)

	snap := s.Snapshot()
	assert.Equal(t, voice.ViewIdle, snap.ViewState)
	assert.Empty(t, snap.Messages)
	assert.False(t, snap.IsRecording)

	ev := <-events
	assert.Equal(t, voice.EventAlert, ev.Type)
	assert.Equal(t, i18n.Default().T(i18n.Hindi, i18n.KeyErrMicDenied), ev.Alert)
}

func TestStartRecordingUnavailableKeepsConversationView(t *testing.T) {
	s := newSession(t, &fakeBackend{resp: &voice.BackendResponse{}}, Options{})
	require.NoError(t, s.SubmitText("नमस्ते"))
	s.Wait()

	err := s.StartRecording(context.Background())
	var devErr *recorder.DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, recorder.Unavailable, devErr.Reason)
	assert.Equal(t, voice.ViewConversation, s.Snapshot().ViewState)
	assert.Equal(t, 1, countKind(s.Snapshot().Messages, voice.RoleAssistant))
}

func TestCancelRecording(t *testing.T) {
	backend := &fakeBackend{resp: &voice.BackendResponse{}}
	s := newSession(t, backend, Options{Device: recorder.NewFeedDevice("webm")})

	startWithAudio(t, s, "discard")
	s.CancelRecording()
	assert.Equal(t, voice.ViewIdle, s.Snapshot().ViewState)
	assert.False(t, s.Snapshot().IsRecording)

	require.NoError(t, s.SubmitText("सवाल"))
	s.Wait()
	startWithAudio(t, s, "discard")
	s.CancelRecording()
	assert.Equal(t, voice.ViewConversation, s.Snapshot().ViewState)

	_, audioCalls := backend.calls()
	assert.Zero(t, audioCalls)

	// cancelling with nothing recorded only settles the view
	s.CancelRecording()
	assert.Equal(t, voice.ViewConversation, s.Snapshot().ViewState)
}

func TestStopWhenNotRecordingIsNoop(t *testing.T) {
	backend := &fakeBackend{}
	s := newSession(t, backend, Options{Device: recorder.NewFeedDevice("webm")})
	before := s.Snapshot()

	require.NoError(t, s.StopRecording())

	assert.Equal(t, before, s.Snapshot())
	_, audioCalls := backend.calls()
	assert.Zero(t, audioCalls)
}

func TestReopenClearsAndDropsLateReplies(t *testing.T) {
	backend := &fakeBackend{gate: make(chan struct{}), resp: &voice.BackendResponse{ExplanationHindi: "देर से"}}
	s := newSession(t, backend, Options{})
	oldID := s.ID()

	require.NoError(t, s.SubmitText("सवाल"))
	require.NoError(t, s.Reopen())
	close(backend.gate)
	s.Wait()

	snap := s.Snapshot()
	assert.NotEqual(t, oldID, snap.SessionID)
	assert.Equal(t, voice.ViewIdle, snap.ViewState)
	assert.Empty(t, snap.Messages)
	assert.False(t, snap.Pending)
}

func TestCloseEndsSubscriptions(t *testing.T) {
	s := New(&fakeBackend{}, Options{Now: fixedClock})
	events, _ := s.Subscribe()

	s.Close()
	s.Close()

	_, open := <-events
	assert.False(t, open)
	assert.ErrorIs(t, s.SubmitText("hello"), ErrClosed)
	assert.ErrorIs(t, s.StartRecording(context.Background()), ErrClosed)
	assert.ErrorIs(t, s.Reopen(), ErrClosed)
}

func TestCropRankingReachesMessage(t *testing.T) {
	var resp voice.BackendResponse
	require.NoError(t, json.Unmarshal([]byte(`{
		"explanation_english": "Three options",
		"cards": [
			{"card_type": "crop_recommendation", "details": {"crop_name": "Wheat"}},
			{"card_type": "crop_recommendation", "details": {"crop_name": "Rice"}},
			{"card_type": "crop_recommendation", "details": {"crop_name": "Maize"}}
		]
	}`), &resp))
	s := newSession(t, &fakeBackend{resp: &resp}, Options{})

	require.NoError(t, s.SubmitText("what should I grow?"))
	s.Wait()

	msgs := s.Snapshot().Messages
	require.Len(t, msgs, 2)
	card := msgs[1].CardData
	require.NotNil(t, card)
	assert.Equal(t, voice.CardGeneric, card.Type)
	generic, ok := card.Data.(voice.GenericCard)
	require.True(t, ok)
	assert.Equal(t, "Top Crop Recommendations", generic.Title)
	labels := make([]string, 0, len(generic.Items))
	for _, item := range generic.Items {
		labels = append(labels, item.Label)
	}
	assert.Equal(t, []string{"1. Wheat", "2. Rice", "3. Maize"}, labels)
}

type stubSynth struct{}

func (stubSynth) Synthesize(_ context.Context, u *speechmodel.Utterance) (*speechmodel.TTSResponse, error) {
	return &speechmodel.TTSResponse{Text: u.Text, Language: u.Language, Format: "mp3", AudioData: []byte{0xFF}}, nil
}

func TestAutoSpeakPublishesSpeech(t *testing.T) {
	s := newSession(t, &fakeBackend{resp: &voice.BackendResponse{ExplanationEnglish: "Sow wheat now."}},
		Options{AutoSpeak: true, Synthesizer: stubSynth{}})
	events, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.SubmitText("when to sow wheat"))
	s.Wait()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type != voice.EventSpeech {
				continue
			}
			require.NotNil(t, ev.Speech)
			assert.Equal(t, "Sow wheat now.", ev.Speech.Text)
			assert.Equal(t, "en-IN", ev.Speech.Language)
			assert.Equal(t, s.ID(), ev.SessionID)
			return
		case <-deadline:
			t.Fatal("no speech event")
		}
	}
}

func TestSpeakWithoutSynthesizerWarns(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s := newSession(t, &fakeBackend{}, Options{Logger: zap.New(core)})
	events, cancel := s.Subscribe()
	defer cancel()

	s.Speak("namaste")

	assert.Equal(t, 1, logs.FilterMessage("speech synthesis unavailable, skipping").Len())
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}

func TestSetLanguageSwitchesMessages(t *testing.T) {
	feed := recorder.NewFeedDevice("webm")
	feed.SetPermission(false)
	s := newSession(t, &fakeBackend{}, Options{Device: feed})
	events, cancel := s.Subscribe()
	defer cancel()

	s.SetLanguage("en-IN")
	assert.Equal(t, i18n.English, s.Snapshot().Language)
	ev := <-events
	assert.Equal(t, voice.EventState, ev.Type)

	_ = s.StartRecording(context.Background())
	ev = <-events
	assert.Equal(t, i18n.Default().T(i18n.English, i18n.KeyErrMicDenied), ev.Alert)

	s.SetLanguage("fr")
	assert.Equal(t, i18n.English, s.Snapshot().Language)
}

func TestSessionIDsAreUnique(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		id := newSessionID(now)
		assert.False(t, seen[id], id)
		seen[id] = true
	}
}
