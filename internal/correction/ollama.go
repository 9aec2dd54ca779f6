package correction

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/voxkit/voxd/internal/config"
	"github.com/voxkit/voxd/internal/language"
)

type ollamaCorrector struct {
	endpoint  string
	model     string
	maxTokens int
	temp      float64
	timeout   time.Duration
}

// NewOllamaCorrector corrects transcripts through a local Ollama model.
func NewOllamaCorrector(cfg config.CorrectionConfig) Corrector {
	return &ollamaCorrector{
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		temp:      cfg.Temp,
		timeout:   time.Duration(cfg.TimeoutMS) * time.Millisecond,
	}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaStreamResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

const correctionSystem = "You are a dictation post-processor. Fix recognition mistakes, " +
	"punctuation and casing without changing the meaning. Reply with the corrected text only."

func (c *ollamaCorrector) Correct(ctx context.Context, text string, lctx language.Context) (string, error) {
	payload := ollamaRequest{
		Model:  c.model,
		Prompt: buildPrompt(text, lctx),
		System: correctionSystem,
		Stream: true,
		Options: ollamaOptions{
			Temperature: c.temp,
			NumPredict:  c.maxTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("correction request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("correction model returned status %s", resp.Status)
	}

	var accumulated strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk ollamaStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fmt.Errorf("decode correction chunk: %w", err)
		}
		accumulated.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}

	corrected := strings.TrimSpace(accumulated.String())
	if corrected == "" {
		return "", fmt.Errorf("correction model returned empty text")
	}
	return corrected, nil
}

// buildPrompt embeds the language picture so the model can catch a transcript
// acoustically mis-assigned between similar declared languages.
func buildPrompt(text string, lctx language.Context) string {
	var b strings.Builder
	b.WriteString("Transcription language: ")
	if lctx.Used != "" {
		b.WriteString(lctx.Used)
	} else {
		b.WriteString("unknown")
	}
	b.WriteString(fmt.Sprintf(" (reason: %s", lctx.Reason))
	if lctx.Detected != "" && lctx.Detected != lctx.Used {
		b.WriteString(fmt.Sprintf(", detected: %s", lctx.Detected))
	}
	if lctx.Confidence > 0 {
		b.WriteString(fmt.Sprintf(", confidence: %.2f", lctx.Confidence))
	}
	b.WriteString(")\n")
	if len(lctx.Candidates) > 0 {
		b.WriteString("The speaker dictates in one of: ")
		b.WriteString(strings.Join(lctx.Candidates, ", "))
		b.WriteString("\n")
	}
	b.WriteString("Transcript:\n")
	b.WriteString(text)
	return b.String()
}
