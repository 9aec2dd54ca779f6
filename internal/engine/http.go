package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// EndpointFunc resolves the recognition server's current base URL. The server
// may come back on a different port after a restart, so the URL is looked up
// per call instead of captured once.
type EndpointFunc func() string

type httpEngine struct {
	endpoint EndpointFunc
	client   *http.Client
	timeout  time.Duration
	logger   *slog.Logger
}

// NewHTTPEngine builds an Engine backed by a whisper-server compatible HTTP
// endpoint. Every call is bounded by timeout.
func NewHTTPEngine(endpoint EndpointFunc, timeout time.Duration, logger *slog.Logger) Engine {
	return &httpEngine{
		endpoint: endpoint,
		client:   &http.Client{},
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "engine")),
	}
}

func (e *httpEngine) Invoke(ctx context.Context, audioPath, modelID, forcedLanguage string) (Result, error) {
	base := e.endpoint()
	if base == "" {
		return Result{}, errors.New("no local recognition server available")
	}

	f, err := os.Open(audioPath)
	if err != nil {
		return Result{}, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return Result{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return Result{}, fmt.Errorf("copy audio data: %w", err)
	}
	_ = mw.WriteField("response_format", "verbose_json")
	if forcedLanguage != "" {
		_ = mw.WriteField("language", forcedLanguage)
	}
	if modelID != "" {
		_ = mw.WriteField("model", modelID)
	}
	if err := mw.Close(); err != nil {
		return Result{}, fmt.Errorf("close multipart writer: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, base+"/inference", &body)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("after %s: %w", e.timeout, ErrCallTimeout)
		}
		return Result{}, fmt.Errorf("engine request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("after %s: %w", e.timeout, ErrCallTimeout)
		}
		return Result{}, fmt.Errorf("read engine response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("engine returned status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	result, err := ParseJSON(raw)
	if err != nil {
		return Result{}, err
	}
	e.logger.Debug("engine call complete",
		slog.String("language", forcedLanguage),
		slog.String("detected", result.DetectedLanguage),
		slog.Duration("latency", time.Since(start)))
	return result, nil
}
