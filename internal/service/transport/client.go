// Package transport talks to the assistant backend's voice endpoints.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kisanmitra/voice-client/internal/i18n"
	"github.com/kisanmitra/voice-client/internal/model/voice"
	"github.com/kisanmitra/voice-client/internal/service/recorder"
)

const (
	textPath  = "/voice/process"
	audioPath = "/voice/process-audio"

	maxResponseBytes = 8 << 20
)

// TextRequest is a typed utterance.
type TextRequest struct {
	Text      string
	FarmerID  string
	SessionID string
	// Language selects the language of error messages.
	Language string
}

// AudioRequest is a recorded utterance.
type AudioRequest struct {
	Audio     *recorder.Artifact
	FarmerID  string
	SessionID string
	Language  string
}

// Client posts utterances to the backend. It does not retry and applies no
// timeout of its own beyond the caller's context.
type Client struct {
	baseURL string
	http    *http.Client
	catalog *i18n.Catalog
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCatalog sets the catalog used for user-facing error messages.
func WithCatalog(cat *i18n.Catalog) Option {
	return func(c *Client) { c.catalog = cat }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client for the backend at baseURL, e.g. "http://localhost:8000/api".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    newDefaultHTTPClient(),
		catalog: i18n.Default(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// newDefaultHTTPClient bounds connection setup only; request lifetime is
// left to the caller's context.
func newDefaultHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport}
}

// SubmitText sends typed text to the text-processing endpoint.
func (c *Client) SubmitText(ctx context.Context, req TextRequest) (*voice.BackendResponse, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyText
	}

	body, err := json.Marshal(voice.ProcessTextRequest{
		HindiText: text,
		FarmerID:  strings.TrimSpace(req.FarmerID),
		SessionID: strings.TrimSpace(req.SessionID),
	})
	if err != nil {
		return nil, fmt.Errorf("encode text request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+textPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build text request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.do(httpReq, req.Language)
}

// SubmitAudio uploads a recording to the audio-processing endpoint as
// multipart form data.
func (c *Client) SubmitAudio(ctx context.Context, req AudioRequest) (*voice.BackendResponse, error) {
	if req.Audio == nil || len(req.Audio.Data) == 0 {
		return nil, errors.New("audio is empty")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", req.Audio.Filename())
	if err != nil {
		return nil, fmt.Errorf("create audio part: %w", err)
	}
	if _, err := part.Write(req.Audio.Data); err != nil {
		return nil, fmt.Errorf("write audio part: %w", err)
	}
	for name, value := range map[string]string{"farmer_id": req.FarmerID, "session_id": req.SessionID} {
		if value = strings.TrimSpace(value); value == "" {
			continue
		}
		if err := mw.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+audioPath, &buf)
	if err != nil {
		return nil, fmt.Errorf("build audio request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(httpReq, req.Language)
}

func (c *Client) do(req *http.Request, lang string) (*voice.BackendResponse, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Warn("backend request failed", zap.String("path", req.URL.Path), zap.Error(err))
		if isConnectivity(err) {
			return nil, &ConnectivityError{Message: c.catalog.T(lang, i18n.KeyErrConnectivity), Err: err}
		}
		return nil, &NetworkError{Message: c.catalog.T(lang, i18n.KeyErrNetwork), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &NetworkError{Message: c.catalog.T(lang, i18n.KeyErrNetwork), Err: err}
	}

	c.logger.Debug("backend responded",
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ServerError{StatusCode: resp.StatusCode, Message: serverMessage(resp.StatusCode, data)}
	}

	var out voice.BackendResponse
	if err := json.Unmarshal(data, &out); err != nil {
		c.logger.Warn("backend response not decodable", zap.String("path", req.URL.Path), zap.Error(err))
		return nil, &ServerError{StatusCode: resp.StatusCode, Message: c.catalog.T(lang, i18n.KeyErrInvalidResponse)}
	}
	return &out, nil
}

// serverMessage extracts detail, message or error from a JSON error body,
// falling back to the HTTP status line.
func serverMessage(status int, body []byte) string {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"detail", "message", "error"} {
			raw, ok := payload[key]
			if !ok {
				continue
			}
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				if s = strings.TrimSpace(s); s != "" {
					return s
				}
				continue
			}
			if trimmed := strings.TrimSpace(string(raw)); trimmed != "" && trimmed != "null" {
				return trimmed
			}
		}
	}
	return fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status))
}
