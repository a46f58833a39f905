package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAskPrintsReply(t *testing.T) {
	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"explanation_english":"Sow wheat after the first rain.","metadata":{"context":"rabi season"}}`))
	}))
	defer srv.Close()
	t.Setenv("KISAN_BACKEND_URL", srv.URL)

	out, err := runCLI(t, "ask", "--lang", "en", "which", "crop", "now?")
	require.NoError(t, err)
	assert.Equal(t, "/voice/process", <-paths)
	assert.Contains(t, out, "which crop now?")
	assert.Contains(t, out, "Sow wheat after the first rain.")
	assert.Contains(t, out, "rabi season")
}

func TestAskReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"detail":"model offline"}`))
	}))
	defer srv.Close()
	t.Setenv("KISAN_BACKEND_URL", srv.URL)

	_, err := runCLI(t, "ask", "--lang", "en", "price")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model offline")
}

func TestSendAudioUploadsFile(t *testing.T) {
	type upload struct {
		data     []byte
		filename string
	}
	uploads := make(chan upload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("audio")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		uploads <- upload{data: data, filename: header.Filename}
		_, _ = w.Write([]byte(`{"transcription":"tomato price","explanation_english":"Tomato is at 1800."}`))
	}))
	defer srv.Close()
	t.Setenv("KISAN_BACKEND_URL", srv.URL)

	path := filepath.Join(t.TempDir(), "question.ogg")
	require.NoError(t, os.WriteFile(path, []byte("ogg-bytes"), 0o600))

	out, err := runCLI(t, "send-audio", "--lang", "en", path)
	require.NoError(t, err)
	got := <-uploads
	assert.Equal(t, "ogg-bytes", string(got.data))
	assert.Equal(t, "recording.ogg", got.filename)
	assert.Contains(t, out, "tomato price")
	assert.Contains(t, out, "Tomato is at 1800.")
}

func TestSpeakRequiresCredentials(t *testing.T) {
	t.Setenv("SPEECH_APP_ID", "")
	t.Setenv("SPEECH_ACCESS_TOKEN", "")
	t.Setenv("SPEECH_API_KEY", "")

	_, err := runCLI(t, "speak", "namaste")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "speech is not configured")
}

func TestSpeakReportsSynthesisFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer srv.Close()
	t.Setenv("SPEECH_APP_ID", "app")
	t.Setenv("SPEECH_ACCESS_TOKEN", "token")
	t.Setenv("SPEECH_TTS_ENDPOINT", "ws"+strings.TrimPrefix(srv.URL, "http"))

	start := time.Now()
	_, err := runCLI(t, "speak", "--timeout", "30s", "-o", filepath.Join(t.TempDir(), "out.mp3"), "namaste")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "speech synthesis failed")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestAskRequiresText(t *testing.T) {
	_, err := runCLI(t, "ask")
	assert.Error(t, err)
}
