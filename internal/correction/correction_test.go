package correction

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voxkit/voxd/internal/config"
	"github.com/voxkit/voxd/internal/language"
)

func TestMockCorrectorPassthrough(t *testing.T) {
	c := NewMockCorrector()
	out, err := c.Correct(context.Background(), "raw text", language.Context{Reason: language.ReasonSingle})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "raw text" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestBuildPromptCarriesContext(t *testing.T) {
	prompt := buildPrompt("privet mir", language.Context{
		Candidates: []string{"en", "ru", "uk"},
		Fallback:   "en",
		Detected:   "ru",
		Confidence: 0.85,
		Used:       "ru",
		Reason:     language.ReasonDetected,
	})
	for _, want := range []string{"ru", "en, ru, uk", "0.85", "privet mir"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestOllamaCorrector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"response":"Corrected","done":false}` + "\n"))
		_, _ = w.Write([]byte(`{"response":" text.","done":true}` + "\n"))
	}))
	defer srv.Close()

	c := NewOllamaCorrector(config.CorrectionConfig{
		Endpoint:  srv.URL,
		Model:     "llama3.2:latest",
		TimeoutMS: 2000,
	})
	out, err := c.Correct(context.Background(), "corected text", language.Context{Reason: language.ReasonSingle, Used: "en"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Corrected text." {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestOllamaCorrectorEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"","done":true}` + "\n"))
	}))
	defer srv.Close()

	c := NewOllamaCorrector(config.CorrectionConfig{Endpoint: srv.URL, TimeoutMS: 2000})
	if _, err := c.Correct(context.Background(), "text", language.Context{}); err == nil {
		t.Fatal("expected error for empty correction")
	}
}

func TestExecCorrector(t *testing.T) {
	c, err := NewExecCorrector(config.CorrectionConfig{
		Command:   `sh -c 'cat >/dev/null; printf "{\"text\":\"fixed\"}"'`,
		TimeoutMS: 2000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := c.Correct(context.Background(), "broken", language.Context{Reason: language.ReasonAuto})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "fixed" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestExecCorrectorEmptyCommand(t *testing.T) {
	if _, err := NewExecCorrector(config.CorrectionConfig{Command: ""}); err == nil {
		t.Fatal("expected error for empty command")
	}
}
