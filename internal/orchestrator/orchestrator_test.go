package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/voxkit/voxd/internal/correction"
	"github.com/voxkit/voxd/internal/engine"
	"github.com/voxkit/voxd/internal/language"
)

type engineCall struct {
	forcedLanguage string
}

type fakeEngine struct {
	calls   []engineCall
	results []engine.Result
	errs    []error
}

func (f *fakeEngine) Invoke(ctx context.Context, audioPath, modelID, forcedLanguage string) (engine.Result, error) {
	i := len(f.calls)
	f.calls = append(f.calls, engineCall{forcedLanguage: forcedLanguage})
	if i < len(f.errs) && f.errs[i] != nil {
		return engine.Result{}, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return engine.Result{Text: "default"}, nil
}

type fakeCorrector struct {
	lastText string
	lastCtx  language.Context
	out      string
	err      error
}

func (f *fakeCorrector) Correct(ctx context.Context, text string, lctx language.Context) (string, error) {
	f.lastText = text
	f.lastCtx = lctx
	if f.err != nil {
		return "", f.err
	}
	if f.out != "" {
		return f.out, nil
	}
	return text, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newOrchestrator(eng engine.Engine, corr correction.Corrector, settings language.Settings) *Orchestrator {
	return New(eng, corr, func() language.Settings { return settings }, testLogger())
}

func TestSingleLanguageOneCall(t *testing.T) {
	eng := &fakeEngine{results: []engine.Result{{Text: "hello", DetectedLanguage: "en", Confidence: 0.97}}}
	corr := &fakeCorrector{}
	o := newOrchestrator(eng, corr, language.Settings{Selected: []string{"en"}, Fallback: "en"})

	res, err := o.Transcribe(context.Background(), "clip.wav", "base")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(eng.calls) != 1 {
		t.Fatalf("expected exactly one engine call, got %d", len(eng.calls))
	}
	if eng.calls[0].forcedLanguage != "en" {
		t.Fatalf("expected forced language en, got %q", eng.calls[0].forcedLanguage)
	}
	if res.Reason != language.ReasonSingle || res.LanguageUsed != "en" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if corr.lastCtx.Confidence != 1.0 {
		t.Fatalf("single-language context must carry confidence 1.0, got %v", corr.lastCtx.Confidence)
	}
}

func TestDetectionInsideSetNoRetry(t *testing.T) {
	// Ukrainian-sounding audio detected as ru at 0.85: in-set, so the first
	// pass stands and the full context goes to correction.
	eng := &fakeEngine{results: []engine.Result{{Text: "privet", DetectedLanguage: "ru", Confidence: 0.85}}}
	corr := &fakeCorrector{}
	o := newOrchestrator(eng, corr, language.Settings{Selected: []string{"en", "ru", "uk"}, Fallback: "en"})

	res, err := o.Transcribe(context.Background(), "clip.wav", "base")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(eng.calls) != 1 {
		t.Fatalf("expected zero retries, got %d calls", len(eng.calls))
	}
	if eng.calls[0].forcedLanguage != engine.LanguageAuto {
		t.Fatalf("first pass must auto-detect, got %q", eng.calls[0].forcedLanguage)
	}
	if res.LanguageUsed != "ru" || res.Reason != language.ReasonDetected {
		t.Fatalf("unexpected result: %+v", res)
	}
	if corr.lastCtx.Used != "ru" {
		t.Fatalf("correction context used=%q, want ru", corr.lastCtx.Used)
	}
	if len(corr.lastCtx.Candidates) != 3 {
		t.Fatalf("correction context candidates=%v", corr.lastCtx.Candidates)
	}
}

func TestDetectionOutsideSetRetries(t *testing.T) {
	eng := &fakeEngine{results: []engine.Result{
		{Text: "bonjour", DetectedLanguage: "fr", Confidence: 0.9},
		{Text: "bonjour but english", DetectedLanguage: "en", Confidence: 0.6},
	}}
	o := newOrchestrator(eng, nil, language.Settings{Selected: []string{"en", "es"}, Fallback: "en"})

	res, err := o.Transcribe(context.Background(), "clip.wav", "base")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(eng.calls) != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", len(eng.calls))
	}
	if eng.calls[1].forcedLanguage != "en" {
		t.Fatalf("retry must force fallback en, got %q", eng.calls[1].forcedLanguage)
	}
	if res.Text != "bonjour but english" {
		t.Fatalf("retry text must replace the first pass, got %q", res.Text)
	}
	if res.LanguageUsed != "en" || res.Reason != language.ReasonFallback {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.DetectedLanguage != "fr" {
		t.Fatalf("context must keep the original detection, got %q", res.DetectedLanguage)
	}
}

func TestRetryFailureKeepsFirstResult(t *testing.T) {
	eng := &fakeEngine{
		results: []engine.Result{{Text: "bonjour", DetectedLanguage: "fr", Confidence: 0.9}},
		errs:    []error{nil, errors.New("server crashed")},
	}
	o := newOrchestrator(eng, nil, language.Settings{Selected: []string{"en", "es"}, Fallback: "en"})

	res, err := o.Transcribe(context.Background(), "clip.wav", "base")
	if err != nil {
		t.Fatalf("a failed retry must not fail the transcription: %v", err)
	}
	if res.Text != "bonjour" {
		t.Fatalf("expected first result kept, got %q", res.Text)
	}
	if len(eng.calls) != 2 {
		t.Fatalf("expected retry attempt, got %d calls", len(eng.calls))
	}
}

func TestNoRetryWithoutFallback(t *testing.T) {
	eng := &fakeEngine{results: []engine.Result{{Text: "bonjour", DetectedLanguage: "fr", Confidence: 0.9}}}
	o := newOrchestrator(eng, nil, language.Settings{Selected: []string{"en", "es"}})

	res, err := o.Transcribe(context.Background(), "clip.wav", "base")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(eng.calls) != 1 {
		t.Fatalf("no fallback means no retry, got %d calls", len(eng.calls))
	}
	if res.Reason != language.ReasonFallback {
		t.Fatalf("unexpected reason: %s", res.Reason)
	}
}

func TestAutoModeNoLanguages(t *testing.T) {
	eng := &fakeEngine{results: []engine.Result{{Text: "hallo", DetectedLanguage: "de", Confidence: 0.8}}}
	o := newOrchestrator(eng, nil, language.Settings{})

	res, err := o.Transcribe(context.Background(), "clip.wav", "base")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(eng.calls) != 1 || eng.calls[0].forcedLanguage != engine.LanguageAuto {
		t.Fatalf("expected one auto call, got %+v", eng.calls)
	}
	if res.Reason != language.ReasonAuto || res.LanguageUsed != "de" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestFirstPassFailureSurfaces(t *testing.T) {
	eng := &fakeEngine{errs: []error{engine.ErrCallTimeout}}
	o := newOrchestrator(eng, nil, language.Settings{Selected: []string{"en", "es"}, Fallback: "en"})

	_, err := o.Transcribe(context.Background(), "clip.wav", "base")
	if !errors.Is(err, engine.ErrCallTimeout) {
		t.Fatalf("expected timeout to surface, got %v", err)
	}
	if len(eng.calls) != 1 {
		t.Fatalf("hard failure must abort the retry path, got %d calls", len(eng.calls))
	}
}

func TestCorrectionFailureDegradesToRawText(t *testing.T) {
	eng := &fakeEngine{results: []engine.Result{{Text: "raw transcript", DetectedLanguage: "en", Confidence: 0.9}}}
	corr := &fakeCorrector{err: errors.New("model offline")}
	o := newOrchestrator(eng, corr, language.Settings{Selected: []string{"en"}, Fallback: "en"})

	res, err := o.Transcribe(context.Background(), "clip.wav", "base")
	if err != nil {
		t.Fatalf("correction failure must not fail the transcription: %v", err)
	}
	if res.Text != "raw transcript" {
		t.Fatalf("expected raw text kept, got %q", res.Text)
	}
	if res.Corrected {
		t.Fatal("result must not be marked corrected")
	}
}

func TestCorrectionAppliedWhenHealthy(t *testing.T) {
	eng := &fakeEngine{results: []engine.Result{{Text: "raw transcript", DetectedLanguage: "en", Confidence: 0.9}}}
	corr := &fakeCorrector{out: "Raw transcript."}
	o := newOrchestrator(eng, corr, language.Settings{Selected: []string{"en"}, Fallback: "en"})

	res, err := o.Transcribe(context.Background(), "clip.wav", "base")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "Raw transcript." || !res.Corrected {
		t.Fatalf("unexpected result: %+v", res)
	}
	if corr.lastText != "raw transcript" {
		t.Fatalf("corrector received %q", corr.lastText)
	}
}
