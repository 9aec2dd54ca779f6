package correction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/voxkit/voxd/internal/config"
	"github.com/voxkit/voxd/internal/language"
)

type execCorrector struct {
	cmd     []string
	timeout time.Duration
	mu      sync.Mutex
}

type execInput struct {
	Text    string           `json:"text"`
	Context language.Context `json:"context"`
}

type execOutput struct {
	Text string `json:"text"`
}

// NewExecCorrector pipes the transcript and language context as JSON into a
// configured subprocess and reads the corrected text back.
func NewExecCorrector(cfg config.CorrectionConfig) (Corrector, error) {
	args, err := shellwords.NewParser().Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse correction command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("correction command is empty")
	}
	return &execCorrector{
		cmd:     args,
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
	}, nil
}

func (e *execCorrector) Correct(ctx context.Context, text string, lctx language.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	input, err := json.Marshal(execInput{Text: text, Context: lctx})
	if err != nil {
		return "", err
	}

	cmdCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	command := exec.CommandContext(cmdCtx, e.cmd[0], e.cmd[1:]...)
	command.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("correction command failed: %w: %s", err, stderr.String())
	}

	var out execOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return "", fmt.Errorf("decode correction output: %w", err)
	}
	corrected := strings.TrimSpace(out.Text)
	if corrected == "" {
		return "", fmt.Errorf("correction command returned empty text")
	}
	return corrected, nil
}
