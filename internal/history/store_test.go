package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxkit/voxd/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenDisabled(t *testing.T) {
	s, err := Open(context.Background(), config.HistoryConfig{Enabled: false}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Append(context.Background(), Entry{Text: "ignored"}); err != nil {
		t.Fatalf("disabled append must be a no-op: %v", err)
	}
	entries, err := s.Recent(context.Background(), 10)
	if err != nil || entries != nil {
		t.Fatalf("disabled store must return nothing, got %v, %v", entries, err)
	}
}

func TestAppendAndRecent(t *testing.T) {
	cfg := config.HistoryConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "history.db")}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	entry := Entry{
		SessionID:        "session-1",
		Text:             "hello world",
		LanguageUsed:     "en",
		DetectedLanguage: "en",
		Reason:           "single",
		Confidence:       1.0,
		Corrected:        true,
		DurationMS:       420,
	}
	if err := s.Append(context.Background(), entry); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.Text != "hello world" || got.LanguageUsed != "en" || !got.Corrected || got.DurationMS != 420 {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestPruneByAgeAndCount(t *testing.T) {
	cfg := config.HistoryConfig{
		Enabled:       true,
		Path:          filepath.Join(t.TempDir(), "history.db"),
		RetentionDays: 1,
		MaxEntries:    1,
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	s.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.Append(context.Background(), Entry{Text: "old"}); err != nil {
		t.Fatalf("append old: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.Append(context.Background(), Entry{Text: "newer"}); err != nil {
		t.Fatalf("append newer: %v", err)
	}
	if err := s.Append(context.Background(), Entry{Text: "newest"}); err != nil {
		t.Fatalf("append newest: %v", err)
	}
	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	entries, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after prune, got %d", len(entries))
	}
	if entries[0].Text != "newest" {
		t.Fatalf("expected newest entry kept, got %q", entries[0].Text)
	}
}
