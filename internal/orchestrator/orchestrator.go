package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxkit/voxd/internal/correction"
	"github.com/voxkit/voxd/internal/engine"
	"github.com/voxkit/voxd/internal/language"
)

// SettingsFunc reads the current language settings. Settings live in a
// collaborator outside this core and are never mutated here.
type SettingsFunc func() language.Settings

// Result is the final outcome of one logical transcription.
type Result struct {
	Text             string
	DetectedLanguage string
	LanguageUsed     string
	Reason           language.Reason
	Confidence       float64
	Corrected        bool
	Duration         time.Duration
}

// Orchestrator drives one transcription from audio to corrected text with at
// most two engine calls. The common case (single declared language, or
// detection landing inside the declared set) makes exactly one.
type Orchestrator struct {
	engine    engine.Engine
	corrector correction.Corrector
	settings  SettingsFunc
	logger    *slog.Logger

	engineCalls     metric.Int64Counter
	retries         metric.Int64Counter
	correctionFails metric.Int64Counter
	duration        metric.Float64Histogram
}

// New wires the orchestrator. corrector may be nil when correction is
// disabled; raw text is then returned as-is.
func New(eng engine.Engine, corrector correction.Corrector, settings SettingsFunc, logger *slog.Logger) *Orchestrator {
	meter := otel.Meter("voxd/orchestrator")
	engineCalls, _ := meter.Int64Counter("voxd.engine.calls",
		metric.WithDescription("Recognition engine invocations"))
	retries, _ := meter.Int64Counter("voxd.transcribe.retries",
		metric.WithDescription("Second engine passes forced by out-of-set detection"))
	correctionFails, _ := meter.Int64Counter("voxd.correction.failures",
		metric.WithDescription("Correction calls that degraded to raw text"))
	duration, _ := meter.Float64Histogram("voxd.transcribe.duration",
		metric.WithDescription("End-to-end transcription latency"),
		metric.WithUnit("s"))

	return &Orchestrator{
		engine:          eng,
		corrector:       corrector,
		settings:        settings,
		logger:          logger.With(slog.String("component", "orchestrator")),
		engineCalls:     engineCalls,
		retries:         retries,
		correctionFails: correctionFails,
		duration:        duration,
	}
}

// Transcribe runs one logical transcription over a finished audio file.
// A hard engine failure on the first pass aborts everything and surfaces to
// the caller; a failed retry keeps the first result; a failed correction
// keeps the raw text.
func (o *Orchestrator) Transcribe(ctx context.Context, audioPath, modelID string) (Result, error) {
	start := time.Now()
	settings := o.settings()

	var res Result
	var err error
	if len(settings.Selected) == 1 {
		res, err = o.transcribeSingle(ctx, audioPath, modelID, settings)
	} else {
		res, err = o.transcribeDetected(ctx, audioPath, modelID, settings)
	}
	if err != nil {
		return Result{}, err
	}

	res = o.correct(ctx, res, settings)
	res.Duration = time.Since(start)
	o.duration.Record(ctx, res.Duration.Seconds(),
		metric.WithAttributes(attribute.String("reason", string(res.Reason))))

	o.logger.Info("transcription complete",
		slog.String("used", res.LanguageUsed),
		slog.String("reason", string(res.Reason)),
		slog.Bool("corrected", res.Corrected),
		slog.Duration("duration", res.Duration))
	return res, nil
}

// transcribeSingle skips detection work entirely: forcing the one declared
// language is the best-accuracy path and needs no second pass.
func (o *Orchestrator) transcribeSingle(ctx context.Context, audioPath, modelID string, settings language.Settings) (Result, error) {
	lang := settings.Selected[0]
	first, err := o.invoke(ctx, audioPath, modelID, lang)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Text:             first.Text,
		DetectedLanguage: first.DetectedLanguage,
		LanguageUsed:     lang,
		Reason:           language.ReasonSingle,
		Confidence:       1.0,
	}, nil
}

// transcribeDetected makes a full first pass in auto-detect mode (its text is
// authoritative unless a retry overrides it), resolves the language decision,
// and retries with the forced fallback only when detection escaped the
// declared set.
func (o *Orchestrator) transcribeDetected(ctx context.Context, audioPath, modelID string, settings language.Settings) (Result, error) {
	first, err := o.invoke(ctx, audioPath, modelID, engine.LanguageAuto)
	if err != nil {
		return Result{}, err
	}

	decision := language.Resolve(settings.Selected, settings.Fallback, first.DetectedLanguage, first.Confidence)

	final := first
	used := decision.LanguageToUse
	if used == "" {
		used = first.DetectedLanguage
	}

	if decision.NeedsRetry && decision.LanguageToUse != "" {
		// The retry has not been issued yet, so cancellation can still stop it.
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		o.retries.Add(ctx, 1)
		retry, retryErr := o.invoke(ctx, audioPath, modelID, decision.LanguageToUse)
		if retryErr != nil {
			// Never regress below the first successful outcome.
			o.logger.Warn("retry pass failed, keeping first result", slogError(retryErr))
			used = first.DetectedLanguage
		} else {
			final = retry
		}
	}

	return Result{
		Text:             final.Text,
		DetectedLanguage: first.DetectedLanguage,
		LanguageUsed:     used,
		Reason:           decision.Reason,
		Confidence:       first.Confidence,
	}, nil
}

func (o *Orchestrator) invoke(ctx context.Context, audioPath, modelID, forcedLanguage string) (engine.Result, error) {
	o.engineCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("language", forcedLanguage)))
	res, err := o.engine.Invoke(ctx, audioPath, modelID, forcedLanguage)
	if err != nil {
		return engine.Result{}, fmt.Errorf("engine call (language=%s): %w", forcedLanguage, err)
	}
	return res, nil
}

// correct hands text plus full language context to the correction
// collaborator. Uncorrected text is strictly more useful than none, so any
// correction failure degrades to the raw transcript.
func (o *Orchestrator) correct(ctx context.Context, res Result, settings language.Settings) Result {
	if o.corrector == nil {
		return res
	}
	lctx := language.Context{
		Candidates: settings.Selected,
		Fallback:   settings.Fallback,
		Detected:   res.DetectedLanguage,
		Confidence: res.Confidence,
		Used:       res.LanguageUsed,
		Reason:     res.Reason,
	}
	corrected, err := o.corrector.Correct(ctx, res.Text, lctx)
	if err != nil {
		o.correctionFails.Add(ctx, 1)
		o.logger.Warn("correction failed, returning raw text", slogError(err))
		return res
	}
	res.Text = corrected
	res.Corrected = true
	return res
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
