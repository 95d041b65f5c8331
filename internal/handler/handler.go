// Package handler implements the synthesis job contract. A job carries text
// and a base64-encoded reference voice sample; the handler runs the model
// session and shapes the outcome into a response.
//
// Failures travel on two channels. A missing speaker sample is the caller's
// mistake and comes back as a structured error response. Everything else
// (undecodable payloads, engine failures) is returned as a Go error for the
// host transport to surface.
package handler

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/book-expert/logger"

	"github.com/parrotlabs/voiceclone-worker/internal/core"
	"github.com/parrotlabs/voiceclone-worker/internal/format"
	"github.com/parrotlabs/voiceclone-worker/internal/telemetry"
)

// Job contract constants.
const (
	// DefaultText is synthesized when a job omits the text field.
	DefaultText = "Hello, this is a test."

	// MissingSpeakerError is the structured error returned when a job
	// carries no speaker sample.
	MissingSpeakerError = "speaker_wav_base64 is a required field."
)

// Log formats.
const (
	logFmtJobRejected    = "Job %s rejected: %s"
	logFmtJobSynthesized = "Job %s: synthesized %s in %s"
)

// Input is the caller-controlled portion of a synthesis job. Text is a
// pointer so an absent field can be told apart from an explicit empty string.
type Input struct {
	Text             *string `json:"text"`
	SpeakerWavBase64 string  `json:"speaker_wav_base64"`
}

// Job is one synthesis request.
type Job struct {
	ID    string `json:"id,omitempty"`
	Input Input  `json:"input"`
}

// Response is the reply for one job. Exactly one of the two fields is set:
// AudioBase64 on success, Error when the job failed validation.
type Response struct {
	AudioBase64 string `json:"audio_base64,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Handler runs synthesis jobs against the model session.
type Handler struct {
	synth   core.Synthesizer
	log     *logger.Logger
	metrics *telemetry.Metrics
}

// New creates a handler. metrics may be nil when telemetry is disabled.
func New(synth core.Synthesizer, log *logger.Logger, metrics *telemetry.Metrics) *Handler {
	return &Handler{
		synth:   synth,
		log:     log,
		metrics: metrics,
	}
}

// Handle runs one job. A missing speaker sample produces a Response carrying
// MissingSpeakerError and a nil Go error; any other failure is returned as a
// Go error with an empty Response, leaving the transport to decide how to
// surface it.
func (h *Handler) Handle(ctx context.Context, job Job) (Response, error) {
	text := DefaultText
	if job.Input.Text != nil {
		text = *job.Input.Text
	}

	if job.Input.SpeakerWavBase64 == "" {
		h.log.Warn(logFmtJobRejected, job.ID, MissingSpeakerError)
		h.metrics.RecordJob(ctx, telemetry.OutcomeInvalidInput)

		return Response{AudioBase64: "", Error: MissingSpeakerError}, nil
	}

	refVoice, err := base64.StdEncoding.DecodeString(job.Input.SpeakerWavBase64)
	if err != nil {
		h.metrics.RecordJob(ctx, telemetry.OutcomeFailed)

		return Response{}, fmt.Errorf("failed to decode speaker sample: %w", err)
	}

	start := time.Now()

	audioData, err := h.synth.Synthesize(ctx, text, refVoice)
	if err != nil {
		h.metrics.RecordJob(ctx, telemetry.OutcomeFailed)

		return Response{}, fmt.Errorf("synthesis failed: %w", err)
	}

	elapsed := time.Since(start)
	h.metrics.RecordSynthesis(ctx, elapsed)
	h.metrics.RecordJob(ctx, telemetry.OutcomeOK)

	h.log.Info(
		logFmtJobSynthesized,
		job.ID,
		format.ByteSize(int64(len(audioData))),
		format.Duration(elapsed.Seconds()),
	)

	return Response{
		AudioBase64: base64.StdEncoding.EncodeToString(audioData),
		Error:       "",
	}, nil
}
