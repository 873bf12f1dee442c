package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/antoniostano/careflow/internal/ambient"
	"github.com/antoniostano/careflow/internal/config"
	"github.com/antoniostano/careflow/internal/llm"
	"github.com/antoniostano/careflow/internal/notify"
	"github.com/antoniostano/careflow/internal/nurse"
	"github.com/antoniostano/careflow/internal/observability"
	"github.com/antoniostano/careflow/internal/record"
	"github.com/antoniostano/careflow/internal/session"
)

// app holds the wired service collaborators shared by every command.
type app struct {
	cfg         config.Config
	log         zerolog.Logger
	metrics     *observability.Metrics
	sessions    *session.MemoryStore
	recorder    record.Recorder
	notifier    notify.Notifier
	model       llm.Generator
	transcriber ambient.Transcriber

	engine   *nurse.Engine
	intake   *nurse.Intake
	followup *nurse.Followup
	triage   *nurse.Triage
	notes    *ambient.NoteGenerator
	codes    *ambient.CodeSuggester
}

func newLogger(cfg config.Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "careflow").Logger()
}

func newApp(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}
	a.metrics = observability.NewMetrics(cfg.MetricsNamespace, nil)

	model, err := llm.New(cfg.LLM())
	if err != nil {
		return nil, fmt.Errorf("model provider: %w", err)
	}
	a.model = model

	a.recorder, err = record.NewRecorder(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	a.notifier, err = notify.New(ctx, cfg.DatabaseURL, cfg.NotifyChannel)
	if err != nil {
		a.recorder.Close()
		return nil, fmt.Errorf("notifier: %w", err)
	}
	if pn, ok := a.notifier.(*notify.PostgresNotifier); ok {
		pn.WithLogger(log)
	}

	a.sessions = session.NewMemoryStore(cfg.SessionCapacity, cfg.SessionTTL)
	a.sessions.SetEvictHook(sessionEvictHook(a.metrics))

	a.transcriber = newTranscriber(cfg, log)

	deps := nurse.Deps{
		Sessions:    a.sessions,
		Model:       a.model,
		Recorder:    a.recorder,
		Notifier:    a.notifier,
		Metrics:     a.metrics,
		Logger:      log,
		CallTimeout: cfg.LLMTimeout,
		MaxTurns:    cfg.SessionMaxTurns,
	}
	a.engine = nurse.NewEngine(deps)
	a.intake = nurse.NewIntake(deps)
	a.followup = nurse.NewFollowup(deps)
	a.triage = nurse.NewTriage(deps)
	// Documentation calls run long; give them four model timeouts.
	a.notes = ambient.NewNoteGenerator(a.model, a.metrics, log, 4*cfg.LLMTimeout)
	a.codes = ambient.NewCodeSuggester(a.model, a.metrics, log, 2*cfg.LLMTimeout)

	log.Info().
		Str("provider", cfg.LLMProvider).
		Str("fallback", cfg.LLMFallback).
		Bool("postgres", cfg.DatabaseURL != "").
		Bool("transcriber", a.transcriber != nil).
		Msg("careflow initialised")
	return a, nil
}

// sessionEvictHook keeps the removal counter and live-session gauge current.
// It runs under the store's cache lock, so it must not read the store.
func sessionEvictHook(m *observability.Metrics) func(*session.Session, session.RemovalCause) {
	return func(_ *session.Session, cause session.RemovalCause) {
		m.IncSessionRemoval(string(cause))
		m.DecActiveSessions()
	}
}

// newTranscriber returns nil when transcription is disabled or whisper.cpp
// is not installed; the transcribe route then answers 503.
func newTranscriber(cfg config.Config, log zerolog.Logger) ambient.Transcriber {
	switch cfg.Transcriber {
	case "mock":
		return ambient.Mock{}
	case "whisper":
		w, err := ambient.NewWhisperCLI(ambient.WhisperConfig{
			CLIPath:   cfg.WhisperCLI,
			ModelPath: cfg.WhisperModelPath,
			Threads:   cfg.WhisperThreads,
			BeamSize:  cfg.WhisperBeamSize,
		})
		if err != nil {
			log.Warn().Err(err).Msg("whisper.cpp unavailable, transcription disabled")
			return nil
		}
		return w
	default:
		return nil
	}
}

func (a *app) ready(ctx context.Context) error {
	if p, ok := a.recorder.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	return nil
}

func (a *app) Close() error {
	return errors.Join(a.notifier.Close(), a.recorder.Close())
}

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return newApp(ctx, cfg, newLogger(cfg, os.Stderr))
}
