package correction

import (
	"context"
	"time"

	"github.com/voxkit/voxd/internal/language"
)

type mockCorrector struct{}

// NewMockCorrector returns a Corrector that passes text through unchanged.
func NewMockCorrector() Corrector { return &mockCorrector{} }

func (m *mockCorrector) Correct(ctx context.Context, text string, lctx language.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(5 * time.Millisecond):
	}
	return text, nil
}
