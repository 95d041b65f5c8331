// Package session builds the speech engine once per process and hands the
// rest of the worker a ready-to-use synthesizer. Construction is the expensive
// step (model weights, service health), so it happens exactly once, before any
// job is accepted.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"

	"github.com/parrotlabs/voiceclone-worker/internal/config"
	"github.com/parrotlabs/voiceclone-worker/internal/core"
	"github.com/parrotlabs/voiceclone-worker/internal/engine"
)

// healthCheckTimeout bounds the startup probe of the http engine.
const healthCheckTimeout = 10 * time.Second

// Log formats.
const (
	logFmtSessionReady   = "Model session ready: mode=%s, language=%s, speed=%.2f, use_gpu=%t"
	logFmtServiceHealthy = "Synthesis service is healthy at %s"
)

// ErrUnknownEngineMode is returned when the configured mode is not one of
// mock, exec, or http.
var ErrUnknownEngineMode = errors.New("unknown engine mode")

// Session is the process-wide model session. It wraps the engine selected by
// configuration and carries the synthesis options fixed at startup.
type Session struct {
	synth core.Synthesizer
	mode  string
	opts  core.SynthesisOptions
	log   *logger.Logger
}

// New constructs the engine for the configured mode. In http mode the service
// is health-checked before the session is handed out, so a dead sidecar fails
// the process at startup instead of failing the first job.
func New(cfg config.EngineConfig, log *logger.Logger) (*Session, error) {
	opts := core.SynthesisOptions{
		Language: cfg.Language,
		Speed:    cfg.Speed,
		UseGPU:   cfg.UseGPU,
	}

	synth, err := buildEngine(cfg, opts, log)
	if err != nil {
		return nil, err
	}

	log.Info(logFmtSessionReady, cfg.Mode, opts.Language, opts.Speed, opts.UseGPU)

	return &Session{
		synth: synth,
		mode:  cfg.Mode,
		opts:  opts,
		log:   log,
	}, nil
}

// NewWithSynthesizer wraps an existing synthesizer in a session. This
// constructor is primarily for testing purposes, allowing injection of mock
// engines while maintaining the same session behavior.
func NewWithSynthesizer(
	synth core.Synthesizer,
	mode string,
	opts core.SynthesisOptions,
	log *logger.Logger,
) *Session {
	return &Session{
		synth: synth,
		mode:  mode,
		opts:  opts,
		log:   log,
	}
}

// Synthesize delegates to the engine selected at startup.
func (s *Session) Synthesize(ctx context.Context, text string, refVoice []byte) ([]byte, error) {
	audioData, err := s.synth.Synthesize(ctx, text, refVoice)
	if err != nil {
		return nil, fmt.Errorf("failed to generate speech: %w", err)
	}

	return audioData, nil
}

// Mode reports which engine implementation the session wraps.
func (s *Session) Mode() string {
	return s.mode
}

// Options returns the synthesis options fixed at session construction.
func (s *Session) Options() core.SynthesisOptions {
	return s.opts
}

func buildEngine(
	cfg config.EngineConfig,
	opts core.SynthesisOptions,
	log *logger.Logger,
) (core.Synthesizer, error) {
	switch cfg.Mode {
	case config.EngineModeMock:
		return engine.NewMockEngine(), nil
	case config.EngineModeExec:
		execEngine, err := engine.NewExecEngine(cfg.Command, opts, log)
		if err != nil {
			return nil, fmt.Errorf("failed to build exec engine: %w", err)
		}

		return execEngine, nil
	case config.EngineModeHTTP:
		timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
		httpEngine := engine.NewHTTPEngine(cfg.URL, timeout, opts)

		err := checkServiceHealth(httpEngine)
		if err != nil {
			return nil, err
		}

		log.Info(logFmtServiceHealthy, cfg.URL)

		return httpEngine, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngineMode, cfg.Mode)
	}
}

func checkServiceHealth(httpEngine *engine.HTTPEngine) error {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	healthErr := httpEngine.HealthCheck(ctx)
	if healthErr != nil {
		return fmt.Errorf("synthesis service health check failed: %w", healthErr)
	}

	return nil
}
