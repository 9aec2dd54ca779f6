package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/voxkit/voxd/internal/bus"
	"github.com/voxkit/voxd/internal/config"
	"github.com/voxkit/voxd/internal/history"
	"github.com/voxkit/voxd/internal/orchestrator"
	"github.com/voxkit/voxd/internal/protocol"
)

// Service bridges the capture layer to the orchestrator: it buffers PCM
// frames per dictation session, encodes a WAV file when the session
// finalizes, runs one transcription, and publishes the outcome.
type Service struct {
	cfg      config.DictationConfig
	bus      *bus.Client
	orch     *orchestrator.Orchestrator
	hist     *history.Store
	modelID  string
	logger   *slog.Logger
	sessions map[string]*sessionState
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	sub      *nats.Subscription
	wg       sync.WaitGroup
	ready    bool
}

type sessionState struct {
	Buffer   []byte
	Inflight bool
}

func NewService(parent context.Context, cfg config.DictationConfig, busClient *bus.Client, orch *orchestrator.Orchestrator, hist *history.Store, modelID string, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		orch:     orch,
		hist:     hist,
		modelID:  modelID,
		logger:   logger.With(slog.String("component", "dictation-service")),
		sessions: make(map[string]*sessionState),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	subject := protocol.SubjectAudioFramePrefix + ".>"
	sub, err := s.bus.Conn().Subscribe(subject, s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.logger.Warn("failed to decode audio frame", slogError(err))
		return
	}
	if frame.SessionID == "" {
		frame.SessionID = uuid.NewString()
	}

	s.mu.Lock()
	state := s.sessions[frame.SessionID]
	if state == nil {
		state = &sessionState{}
		s.sessions[frame.SessionID] = state
	}
	state.Buffer = append(state.Buffer, frame.PCM...)
	s.mu.Unlock()

	if frame.Final {
		s.scheduleTranscription(frame.SessionID)
	}
}

func (s *Service) scheduleTranscription(sessionID string) {
	s.mu.Lock()
	state := s.sessions[sessionID]
	if state == nil || state.Inflight {
		s.mu.Unlock()
		return
	}
	pcm := append([]byte(nil), state.Buffer...)
	state.Inflight = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.sessions, sessionID)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(s.ctx, 120*time.Second)
		defer cancel()

		audioPath, err := s.writeSessionAudio(pcm)
		if err != nil {
			s.logger.Warn("failed to stage session audio", slogError(err))
			s.publishResult(protocol.DictationResult{SessionID: sessionID, Error: err.Error()})
			return
		}
		defer os.Remove(audioPath)

		result, err := s.orch.Transcribe(ctx, audioPath, s.modelID)
		if err != nil {
			s.logger.Warn("transcription failed", slogError(err))
			s.publishResult(protocol.DictationResult{SessionID: sessionID, Error: err.Error()})
			return
		}

		s.publishResult(protocol.DictationResult{
			SessionID:        sessionID,
			Text:             result.Text,
			DetectedLanguage: result.DetectedLanguage,
			LanguageUsed:     result.LanguageUsed,
			Reason:           string(result.Reason),
			Corrected:        result.Corrected,
			DurationMS:       result.Duration.Milliseconds(),
		})

		if err := s.hist.Append(ctx, history.Entry{
			SessionID:        sessionID,
			Text:             result.Text,
			LanguageUsed:     result.LanguageUsed,
			DetectedLanguage: result.DetectedLanguage,
			Reason:           string(result.Reason),
			Confidence:       result.Confidence,
			Corrected:        result.Corrected,
			DurationMS:       result.Duration.Milliseconds(),
		}); err != nil {
			s.logger.Warn("failed to record history", slogError(err))
		}
	}()
}

func (s *Service) writeSessionAudio(pcm []byte) (string, error) {
	file, err := os.CreateTemp(os.TempDir(), "voxd_dictation_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer file.Close()

	if err := writePCMToWav(file, pcm, s.cfg.SampleRate, s.cfg.Channels); err != nil {
		os.Remove(file.Name())
		return "", err
	}
	return file.Name(), nil
}

func (s *Service) publishResult(result protocol.DictationResult) {
	result.Timestamp = time.Now().UTC()
	data, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn("failed to marshal result", slogError(err))
		return
	}
	subject := protocol.SubjectDictationResult + "." + result.SessionID
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish result", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
