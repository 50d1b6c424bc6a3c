package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/clipnote/clipnote-backend/internal/config"
)

func writeTempAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.mp3")
	if err := os.WriteFile(path, []byte("not really audio"), 0o644); err != nil {
		t.Fatalf("write temp audio: %v", err)
	}
	return path
}

func speechConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.Speech.BaseURL = baseURL
	cfg.Speech.APIKey = "test-key"
	cfg.Speech.PrimaryModel = "whisper-1"
	cfg.Speech.FallbackModel = ""
	cfg.Speech.MaxRetries = 2
	cfg.Speech.CallTimeout = 5 * time.Second
	return cfg
}

func TestTranscribe_ParsesVerboseJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("unexpected response_format %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hello world","segments":[{"start":0,"end":2.5,"text":"hello world"}]}`))
	}))
	defer srv.Close()

	svc := NewSpeechService(speechConfig(srv.URL), testLogger(t))
	res, err := svc.Transcribe(context.Background(), writeTempAudio(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "hello world" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if len(res.Segments) != 1 || res.Segments[0].EndS != 2.5 {
		t.Fatalf("unexpected segments %+v", res.Segments)
	}
	if res.ModelUsed != "whisper-1" {
		t.Fatalf("unexpected model %q", res.ModelUsed)
	}
}

func TestTranscribe_RetriesTransientFailure(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"text":"eventually","segments":[]}`))
	}))
	defer srv.Close()

	svc := NewSpeechService(speechConfig(srv.URL), testLogger(t))
	res, err := svc.Transcribe(context.Background(), writeTempAudio(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "eventually" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if atomic.LoadInt64(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestTranscribe_DoesNotRetryClientError(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad audio"}`))
	}))
	defer srv.Close()

	// Fallback stays configured: a permanent client error must surface
	// immediately, not trigger a second-model pass.
	cfg := speechConfig(srv.URL)
	cfg.Speech.FallbackModel = "whisper-small"
	svc := NewSpeechService(cfg, testLogger(t))
	if _, err := svc.Transcribe(context.Background(), writeTempAudio(t)); err == nil {
		t.Fatalf("expected error")
	}
	if atomic.LoadInt64(&calls) != 1 {
		t.Fatalf("expected exactly 1 call for a 400, got %d", calls)
	}
}

func TestRetryAfterPolicy_ConsumesServerHintOnce(t *testing.T) {
	policy := &retryAfterPolicy{BackOff: &backoff.ZeroBackOff{}}
	policy.hint = 3 * time.Second
	if got := policy.NextBackOff(); got != 3*time.Second {
		t.Fatalf("expected server hint honored, got %v", got)
	}
	if got := policy.NextBackOff(); got != 0 {
		t.Fatalf("expected fallthrough to wrapped policy, got %v", got)
	}
}

func TestTranscribe_FallsBackToSecondaryModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("model") == "whisper-big" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"text":"from fallback","segments":[]}`))
	}))
	defer srv.Close()

	cfg := speechConfig(srv.URL)
	cfg.Speech.PrimaryModel = "whisper-big"
	cfg.Speech.FallbackModel = "whisper-small"
	cfg.Speech.MaxRetries = 0
	svc := NewSpeechService(cfg, testLogger(t))

	res, err := svc.Transcribe(context.Background(), writeTempAudio(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "from fallback" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if res.ModelUsed != "whisper-small" {
		t.Fatalf("expected fallback model recorded, got %q", res.ModelUsed)
	}
}
