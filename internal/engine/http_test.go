package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeTempAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, []byte("RIFFfakewav"), 0o644); err != nil {
		t.Fatalf("write temp audio: %v", err)
	}
	return path
}

func TestHTTPEngineInvoke(t *testing.T) {
	var gotLanguage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotLanguage = r.FormValue("language")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"hola","language":"spanish","confidence":0.88}`))
	}))
	defer srv.Close()

	eng := NewHTTPEngine(func() string { return srv.URL }, 5*time.Second, testLogger())
	res, err := eng.Invoke(context.Background(), writeTempAudio(t), "base", "es")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotLanguage != "es" {
		t.Fatalf("expected forced language es, got %q", gotLanguage)
	}
	if res.Text != "hola" || res.DetectedLanguage != "es" || res.Confidence != 0.88 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestHTTPEngineTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	eng := NewHTTPEngine(func() string { return srv.URL }, 50*time.Millisecond, testLogger())
	_, err := eng.Invoke(context.Background(), writeTempAudio(t), "base", LanguageAuto)
	if !errors.Is(err, ErrCallTimeout) {
		t.Fatalf("expected ErrCallTimeout, got %v", err)
	}
}

func TestHTTPEngineNoEndpoint(t *testing.T) {
	eng := NewHTTPEngine(func() string { return "" }, time.Second, testLogger())
	if _, err := eng.Invoke(context.Background(), writeTempAudio(t), "base", LanguageAuto); err == nil {
		t.Fatal("expected error when no server endpoint is available")
	}
}

func TestHTTPEngineServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	eng := NewHTTPEngine(func() string { return srv.URL }, time.Second, testLogger())
	if _, err := eng.Invoke(context.Background(), writeTempAudio(t), "base", LanguageAuto); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
