package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	speechmodel "github.com/kisanmitra/voice-client/internal/model/speech"
)

// DefaultEndpoint is the Volcengine unidirectional streaming TTS websocket.
const DefaultEndpoint = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

const (
	defaultResource = "volc.service_type.10029"
	megaResource    = "volc.megatts.default"
	seedResource    = "seed-tts-2.0"
)

var errEmptyAudio = errors.New("tts returned no audio")

// VolcengineClient synthesizes speech through the Volcengine streaming TTS API.
type VolcengineClient struct {
	config *speechmodel.SpeechConfig
	dialer *websocket.Dialer
	logger *zap.Logger
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

type ttsRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Additions   string         `json:"additions,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format          string  `json:"format"`
	SampleRate      int     `json:"sample_rate"`
	EnableTimestamp bool    `json:"enable_timestamp"`
	SpeedRatio      float32 `json:"speed_ratio,omitempty"`
	VolumeRatio     float32 `json:"volume_ratio,omitempty"`
}

// NewVolcengineClient builds a client for cfg.
func NewVolcengineClient(cfg *speechmodel.SpeechConfig, logger *zap.Logger) *VolcengineClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := 30 * time.Second
	if cfg != nil && cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return &VolcengineClient{
		config: cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: timeout},
		logger: logger.Named("tts"),
	}
}

func (c *VolcengineClient) endpoint() string {
	if c.config != nil && strings.TrimSpace(c.config.Endpoint) != "" {
		return strings.TrimSpace(c.config.Endpoint)
	}
	return DefaultEndpoint
}

// Synthesize renders u to audio. When the configured speaker does not match
// a resource id, the remaining resource and speaker candidates are tried.
func (c *VolcengineClient) Synthesize(ctx context.Context, u *speechmodel.Utterance) (*speechmodel.TTSResponse, error) {
	if u == nil || strings.TrimSpace(u.Text) == "" {
		return nil, errors.New("tts text is empty")
	}

	appKey, accessKey, err := resolveCredentials(c.config)
	if err != nil {
		return nil, err
	}

	encoding := strings.TrimSpace(u.Format)
	if encoding == "" || encoding == "wav" {
		encoding = "mp3"
	}

	speakers := resolveSpeakerCandidates(u.Voice, c.config.VoiceFor(u.Language))
	var lastMismatch error

	for speakerIdx, speaker := range speakers {
		for resourceIdx, resourceID := range resolveResourceCandidates(speaker) {
			resp, attemptErr := c.synthesizeWithResource(ctx, u, appKey, accessKey, speaker, encoding, resourceID)
			if attemptErr == nil {
				if resourceIdx > 0 || speakerIdx > 0 {
					c.logger.Info("tts succeeded with fallback",
						zap.String("speaker", speaker), zap.String("resource", resourceID))
				}
				return resp, nil
			}
			if !isResourceMismatch(attemptErr) {
				return nil, attemptErr
			}
			c.logger.Warn("tts resource mismatch",
				zap.String("speaker", speaker), zap.String("resource", resourceID), zap.Error(attemptErr))
			lastMismatch = attemptErr
		}
	}

	if lastMismatch != nil {
		return nil, lastMismatch
	}
	return nil, fmt.Errorf("tts: no usable speaker among %v", speakers)
}

func (c *VolcengineClient) synthesizeWithResource(
	ctx context.Context,
	u *speechmodel.Utterance,
	appKey, accessKey, speaker, encoding, resourceID string,
) (*speechmodel.TTSResponse, error) {
	connectID := uuid.NewString()

	header := http.Header{}
	header.Set("X-Api-App-Key", appKey)
	header.Set("X-Api-Access-Key", accessKey)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint(), header)
	if err != nil {
		return nil, fmt.Errorf("connect tts websocket: %w", err)
	}
	defer conn.Close()
	// unblock ReadMessage when the caller cancels
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if resp != nil {
		if logID := resp.Header.Get("X-Tt-Logid"); logID != "" {
			c.logger.Debug("tts connected", zap.String("logid", logID))
		}
	}

	req, uid := c.buildRequest(u, speaker, encoding)
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, newFullClientRequest(payload, NoCompression).Encode()); err != nil {
		return nil, fmt.Errorf("send tts request: %w", err)
	}

	sessionID := strings.TrimSpace(u.SessionID)
	if sessionID == "" {
		sessionID = uid
	}

	var (
		audio    bytes.Buffer
		reqID    string
		duration int64
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("read tts response: %w", err)
		}

		frame, err := DecodeFrame(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode tts frame: %w", err)
		}

		body, err := decompress(frame.Payload, frame.Header.Compression)
		if err != nil {
			return nil, fmt.Errorf("decompress tts payload: %w", err)
		}

		switch frame.Header.MessageType {
		case ErrorMessage:
			return nil, fmt.Errorf("tts error %d: %s", frame.ErrorCode, string(body))

		case AudioOnlyServerResponse:
			audio.Write(body)
			if !frame.IsLast() {
				continue
			}

		case FullServerResponse:
			if frame.Header.Flags&WithEvent == WithEvent && frame.Event != EventTypeSessionFinished {
				c.logger.Debug("tts server event", zap.Int32("event", int32(frame.Event)))
			}
			var msg ttsServerMessage
			if len(body) > 0 {
				if err := json.Unmarshal(body, &msg); err != nil {
					c.logger.Warn("tts payload not json", zap.Error(err))
				} else {
					if msg.Code != 0 && msg.Code != 3000 {
						return nil, fmt.Errorf("tts api error %d: %s", msg.Code, msg.Message)
					}
					if msg.ReqID != "" {
						reqID = msg.ReqID
					}
					if d, err := strconv.ParseInt(msg.Addition.Duration, 10, 64); err == nil {
						duration = d
					}
					if msg.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(msg.Data)
						if err != nil {
							return nil, fmt.Errorf("decode base64 audio: %w", err)
						}
						audio.Write(chunk)
					}
				}
			}
			finished := frame.Header.Flags&WithEvent == WithEvent && frame.Event == EventTypeSessionFinished
			if !finished && !frame.IsLast() && msg.Sequence >= 0 {
				continue
			}

		default:
			c.logger.Warn("unexpected tts frame", zap.Uint8("type", uint8(frame.Header.MessageType)))
			continue
		}

		if audio.Len() == 0 {
			return nil, errEmptyAudio
		}
		if reqID == "" {
			reqID = connectID
		}
		return &speechmodel.TTSResponse{
			SessionID: sessionID,
			Text:      u.Text,
			Language:  u.Language,
			AudioData: audio.Bytes(),
			Duration:  duration,
			Format:    encoding,
			RequestID: reqID,
			CreatedAt: time.Now(),
		}, nil
	}
}

func (c *VolcengineClient) buildRequest(u *speechmodel.Utterance, speaker, encoding string) (*ttsRequest, string) {
	req := &ttsRequest{}

	uid := strings.TrimSpace(u.SessionID)
	if uid == "" {
		uid = uuid.NewString()
	}
	req.User.UID = uid
	req.ReqParams.Speaker = speaker
	req.ReqParams.Text = u.Text
	req.ReqParams.AudioParams.Format = encoding
	req.ReqParams.AudioParams.SampleRate = 24000
	req.ReqParams.AudioParams.EnableTimestamp = true

	rate := u.Rate
	if rate <= 0 && c.config.Speed > 0 {
		rate = c.config.Speed
	}
	if rate > 0 && rate != 1.0 {
		req.ReqParams.AudioParams.SpeedRatio = rate
	}
	if c.config.Volume > 0 && c.config.Volume != 1.0 {
		req.ReqParams.AudioParams.VolumeRatio = c.config.Volume
	}

	req.ReqParams.Additions = buildAdditions(u.Language, u.Pitch)
	return req, uid
}

// buildAdditions encodes the JSON-in-a-string "additions" field. Pitch 1.0
// is the neutral value and maps to no post-processing.
func buildAdditions(language string, pitch float32) string {
	additions := map[string]any{
		"disable_markdown_filter": false,
	}
	if lang, _, _ := strings.Cut(strings.TrimSpace(language), "-"); lang != "" {
		additions["explicit_language"] = strings.ToLower(lang)
	}
	if pitch > 0 && pitch != 1.0 {
		semitones := int((pitch - 1.0) * 12)
		additions["post_process"] = map[string]int{"pitch": max(-12, min(12, semitones))}
	}
	data, err := json.Marshal(additions)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func resolveResourceCandidates(voice string) []string {
	voice = strings.TrimSpace(voice)
	if voice == "" {
		return []string{defaultResource, seedResource}
	}
	if strings.HasPrefix(voice, "S_") {
		return []string{megaResource}
	}
	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "saturn", "neptune", "mercury", "pluto", "mars"} {
		if strings.Contains(normalized, hint) {
			return []string{seedResource, defaultResource}
		}
	}
	return []string{defaultResource, seedResource}
}

var speakerAliases = map[string]string{
	"en_default": "en_female_amy_jupiter_bigtts",
	"en-in":      "en_female_amy_jupiter_bigtts",
	"en_male":    "en_male_adam_mars_bigtts",
}

func resolveSpeakerCandidates(requested, fallback string) []string {
	var candidates []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if mapped, ok := speakerAliases[strings.ToLower(s)]; ok {
			s = mapped
		}
		for _, existing := range candidates {
			if strings.EqualFold(existing, s) {
				return
			}
		}
		candidates = append(candidates, s)
	}
	add(requested)
	add(fallback)
	if len(candidates) == 0 {
		return []string{""}
	}
	return candidates
}

func isResourceMismatch(err error) bool {
	return err != nil && strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}
