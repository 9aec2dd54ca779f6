package engine

import (
	"context"
	"errors"
)

// LanguageAuto asks the engine to detect the spoken language on its own.
const LanguageAuto = "auto"

// Result is the canonical recognition output. DetectedLanguage is an ISO code
// or empty when the engine reported nothing usable; Confidence is 0 when the
// engine reported none.
type Result struct {
	Text             string
	DetectedLanguage string
	Confidence       float64
}

// Engine abstracts one recognition pass over a finished audio file.
type Engine interface {
	Invoke(ctx context.Context, audioPath, modelID, forcedLanguage string) (Result, error)
}

// ErrCallTimeout marks an engine call that exceeded its bound. Callers may
// fall back to a different backend; the distinction from "no local
// recognition available" is deliberate and user-visible.
var ErrCallTimeout = errors.New("engine call timed out")

// ErrNoUsableText marks engine output that matched no known shape. It is a
// failed call, never an empty success.
var ErrNoUsableText = errors.New("no usable text field in engine output")
