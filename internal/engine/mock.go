package engine

import (
	"context"
	"time"
)

type mockEngine struct{}

// NewMockEngine returns an Engine that echoes a canned transcript. Useful for
// wiring tests and for running the daemon without a recognition server.
func NewMockEngine() Engine { return &mockEngine{} }

func (m *mockEngine) Invoke(ctx context.Context, audioPath, modelID, forcedLanguage string) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	detected := forcedLanguage
	if detected == LanguageAuto || detected == "" {
		detected = "en"
	}
	return Result{
		Text:             "[mock transcript of " + audioPath + "]",
		DetectedLanguage: detected,
		Confidence:       0.99,
	}, nil
}
