package correction

import (
	"context"
	"fmt"

	"github.com/voxkit/voxd/internal/config"
	"github.com/voxkit/voxd/internal/language"
)

// Corrector is the semantic-correction collaborator. It receives the raw
// transcript together with the full language context so it can fix
// acoustic-level confusions (similar declared languages) that re-transcription
// cannot.
type Corrector interface {
	Correct(ctx context.Context, text string, lctx language.Context) (string, error)
}

// New builds a Corrector from config.
func New(cfg config.CorrectionConfig) (Corrector, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockCorrector(), nil
	case "ollama":
		return NewOllamaCorrector(cfg), nil
	case "exec":
		return NewExecCorrector(cfg)
	default:
		return nil, fmt.Errorf("unknown correction mode %q", cfg.Mode)
	}
}
