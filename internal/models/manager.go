package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/voxkit/voxd/internal/config"
)

// modelNames is the catalogue of recognition models the upstream repository
// serves, in size order. approxSizes backs progress reporting when the server
// omits Content-Length.
var modelNames = []string{"tiny", "base", "small", "medium", "large-v3-turbo", "large-v3"}

var approxSizes = map[string]int64{
	"tiny":           77_700_000,
	"base":           148_000_000,
	"small":          488_000_000,
	"medium":         1_530_000_000,
	"large-v3-turbo": 1_620_000_000,
	"large-v3":       3_090_000_000,
}

var (
	ErrUnknownModel  = errors.New("unknown model")
	ErrNotDownloaded = errors.New("model not downloaded")
)

// Model is the download status of one catalogue entry.
type Model struct {
	Name       string `json:"name"`
	Downloaded bool   `json:"downloaded"`
	Path       string `json:"path,omitempty"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
}

// Progress is one download progress report. Percentage is 0-100; TotalBytes
// may be approximate when the server does not announce a length.
type Progress struct {
	Model           string  `json:"model"`
	DownloadedBytes int64   `json:"downloaded_bytes"`
	TotalBytes      int64   `json:"total_bytes"`
	Percentage      float64 `json:"percentage"`
	Done            bool    `json:"done"`
}

// Manager maintains the local cache of recognition model files. Downloads are
// serialized; status and listing are cheap stat calls.
type Manager struct {
	cfg    config.ModelsConfig
	client *http.Client
	logger *slog.Logger

	// OnProgress, when set, receives download progress reports. Set before
	// the first Download call.
	OnProgress func(Progress)

	mu sync.Mutex
}

func New(cfg config.ModelsConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger.With(slog.String("component", "models")),
	}
}

// Dir returns the cache directory.
func (m *Manager) Dir() string {
	return m.cfg.Dir
}

// Path returns where the named model lives in the cache, whether or not it is
// downloaded.
func (m *Manager) Path(name string) string {
	return filepath.Join(m.cfg.Dir, "ggml-"+name+".bin")
}

// Status reports whether the named model is present in the cache.
func (m *Manager) Status(name string) (Model, error) {
	if _, ok := approxSizes[name]; !ok {
		return Model{}, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	path := m.Path(name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Model{Name: name}, nil
		}
		return Model{}, fmt.Errorf("stat model file: %w", err)
	}
	return Model{Name: name, Downloaded: true, Path: path, SizeBytes: info.Size()}, nil
}

// List reports the status of every catalogue model, smallest first.
func (m *Manager) List() ([]Model, error) {
	out := make([]Model, 0, len(modelNames))
	for _, name := range modelNames {
		status, err := m.Status(name)
		if err != nil {
			return nil, err
		}
		out = append(out, status)
	}
	return out, nil
}

// Download fetches the named model into the cache. A model that is already
// present is returned as-is without touching the network. The file lands under
// its final name only after the transfer completes, so a crashed download
// never reads as downloaded.
func (m *Manager) Download(ctx context.Context, name string) (Model, error) {
	if _, ok := approxSizes[name]; !ok {
		return Model{}, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if status, err := m.Status(name); err != nil {
		return Model{}, err
	} else if status.Downloaded {
		return status, nil
	}

	if err := os.MkdirAll(m.cfg.Dir, 0o755); err != nil {
		return Model{}, fmt.Errorf("create model dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.DownloadTimeoutMS)*time.Millisecond)
	defer cancel()

	url := m.cfg.BaseURL + "/ggml-" + name + ".bin"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Model{}, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return Model{}, fmt.Errorf("fetch model: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Model{}, fmt.Errorf("model server returned status %d for %s", resp.StatusCode, name)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = approxSizes[name]
	}

	partial := m.Path(name) + ".partial"
	file, err := os.Create(partial)
	if err != nil {
		return Model{}, fmt.Errorf("create partial file: %w", err)
	}

	m.logger.Info("downloading model",
		slog.String("model", name),
		slog.Int64("total_bytes", total))

	written, err := m.copyWithProgress(name, file, resp.Body, total)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(partial)
		return Model{}, fmt.Errorf("download model %s: %w", name, err)
	}

	if err := os.Rename(partial, m.Path(name)); err != nil {
		os.Remove(partial)
		return Model{}, fmt.Errorf("finalize model file: %w", err)
	}

	m.emit(Progress{Model: name, DownloadedBytes: written, TotalBytes: total, Percentage: 100, Done: true})
	m.logger.Info("model downloaded",
		slog.String("model", name),
		slog.Int64("size_bytes", written))

	return m.Status(name)
}

// Delete removes a downloaded model and reports the bytes freed.
func (m *Manager) Delete(name string) (int64, error) {
	if _, ok := approxSizes[name]; !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.Path(name)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %q", ErrNotDownloaded, name)
		}
		return 0, fmt.Errorf("stat model file: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return 0, fmt.Errorf("delete model file: %w", err)
	}
	m.logger.Info("model deleted",
		slog.String("model", name),
		slog.Int64("freed_bytes", info.Size()))
	return info.Size(), nil
}

// copyWithProgress streams body to file, emitting a progress report whenever
// the transfer advances by at least one percentage point.
func (m *Manager) copyWithProgress(name string, file *os.File, body io.Reader, total int64) (int64, error) {
	var written int64
	lastReported := -1.0
	buf := make([]byte, 256*1024)

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				return written, err
			}
			written += int64(n)

			pct := float64(written) / float64(total) * 100
			if pct > 100 {
				pct = 100
			}
			if pct-lastReported >= 1 {
				lastReported = pct
				m.emit(Progress{
					Model:           name,
					DownloadedBytes: written,
					TotalBytes:      total,
					Percentage:      pct,
				})
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

func (m *Manager) emit(p Progress) {
	if m.OnProgress != nil {
		m.OnProgress(p)
	}
}
