package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxkit/voxd/internal/bus"
	"github.com/voxkit/voxd/internal/config"
	"github.com/voxkit/voxd/internal/correction"
	"github.com/voxkit/voxd/internal/engine"
	"github.com/voxkit/voxd/internal/history"
	"github.com/voxkit/voxd/internal/language"
	"github.com/voxkit/voxd/internal/models"
	"github.com/voxkit/voxd/internal/natsserver"
	"github.com/voxkit/voxd/internal/orchestrator"
	"github.com/voxkit/voxd/internal/protocol"
	"github.com/voxkit/voxd/internal/service"
	"github.com/voxkit/voxd/internal/supervisor"
)

// Runtime wires configuration into running components and owns their
// lifecycle: telemetry, bus, recognition-server supervisor, orchestrator,
// dictation service, history, and the health/metrics HTTP surface.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()

	hist, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer hist.Close()

	modelMgr := models.New(r.cfg.Models, r.logger)
	modelMgr.OnProgress = func(p models.Progress) {
		publishModelProgress(busClient, r.logger, p)
	}
	if r.cfg.Server.ModelPath == "" {
		// No explicit model file configured: the supervisor serves the engine's
		// model straight from the managed cache.
		r.cfg.Server.ModelPath = modelMgr.Path(r.cfg.Engine.ModelID)
	}

	sup := supervisor.New(r.cfg.Server, r.logger)
	sup.OnEvent = func(evt supervisor.Event) {
		publishServerEvent(busClient, r.logger, evt)
	}
	defer func() {
		stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelStop()
		if err := sup.Stop(stopCtx); err != nil {
			r.logger.Error("supervisor stop error", slog.String("error", err.Error()))
		}
	}()

	if r.cfg.Server.PrewarmOnStart && r.cfg.Engine.Mode == "http" {
		if err := sup.Start(ctx); err != nil {
			r.logger.Error("recognition server pre-warm failed", slog.String("error", err.Error()))
		}
	}

	eng, err := r.buildEngine(sup)
	if err != nil {
		return err
	}

	var corrector correction.Corrector
	if r.cfg.Correction.Enabled {
		corrector, err = correction.New(r.cfg.Correction)
		if err != nil {
			return fmt.Errorf("failed to build corrector: %w", err)
		}
	}

	settings := func() language.Settings {
		return language.Settings{
			Selected: r.cfg.Languages.Selected,
			Fallback: r.cfg.Languages.Fallback,
		}
	}
	orch := orchestrator.New(eng, corrector, settings, r.logger)

	svc := service.NewService(ctx, r.cfg.Dictation, busClient, orch, hist, r.cfg.Engine.ModelID, r.logger)
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start dictation service: %w", err)
	}
	defer svc.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/v1/history", handleHistory(hist))
	mux.HandleFunc("/v1/server", handleServerStatus(sup))
	mux.HandleFunc("/v1/models", handleModelList(modelMgr))
	mux.HandleFunc("/v1/models/", handleModel(modelMgr))

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// buildEngine picks the configured recognition backend. The http backend
// starts the supervised server on first use when it is not pre-warmed.
func (r *Runtime) buildEngine(sup *supervisor.Supervisor) (engine.Engine, error) {
	switch r.cfg.Engine.Mode {
	case "mock":
		return engine.NewMockEngine(), nil
	case "http":
		timeout := time.Duration(r.cfg.Engine.CallTimeoutMS) * time.Millisecond
		if r.cfg.Engine.Endpoint != "" {
			endpoint := r.cfg.Engine.Endpoint
			return engine.NewHTTPEngine(func() string { return endpoint }, timeout, r.logger), nil
		}
		httpEng := engine.NewHTTPEngine(sup.BaseURL, timeout, r.logger)
		return &managedEngine{inner: httpEng, sup: sup}, nil
	default:
		return nil, fmt.Errorf("unknown engine mode %q", r.cfg.Engine.Mode)
	}
}

// managedEngine lazily brings up the supervised recognition server before the
// first call so startServer stays an independent lifecycle entry point.
type managedEngine struct {
	inner engine.Engine
	sup   *supervisor.Supervisor
}

func (m *managedEngine) Invoke(ctx context.Context, audioPath, modelID, forcedLanguage string) (engine.Result, error) {
	if m.sup.State() != supervisor.StateRunning {
		if err := m.sup.Start(ctx); err != nil {
			return engine.Result{}, err
		}
	}
	return m.inner.Invoke(ctx, audioPath, modelID, forcedLanguage)
}

func publishServerEvent(busClient *bus.Client, logger *slog.Logger, evt supervisor.Event) {
	msg := protocol.ServerEvent{
		Type:      evt.Type,
		PID:       evt.PID,
		Port:      evt.Port,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := busClient.Conn().Publish(protocol.SubjectServerEvent, data); err != nil {
		logger.Warn("failed to publish server event", slog.String("error", err.Error()))
	}
}

func publishModelProgress(busClient *bus.Client, logger *slog.Logger, p models.Progress) {
	msg := protocol.ModelProgress{
		Model:           p.Model,
		DownloadedBytes: p.DownloadedBytes,
		TotalBytes:      p.TotalBytes,
		Percentage:      p.Percentage,
		Done:            p.Done,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := busClient.Conn().Publish(protocol.SubjectModelProgress, data); err != nil {
		logger.Warn("failed to publish model progress", slog.String("error", err.Error()))
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func handleHistory(hist *history.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		entries, err := hist.Recent(req.Context(), 50)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(entries)
	}
}

func handleServerStatus(sup *supervisor.Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"state":    string(sup.State()),
			"endpoint": sup.BaseURL(),
		})
	}
}
