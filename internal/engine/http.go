package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/parrotlabs/voiceclone-worker/internal/core"
)

// API endpoints and paths.
const (
	apiSynthesize = "/v1/synthesize"
	apiHealth     = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Error messages.
const (
	errUnexpectedContentType  = "unexpected content type: expected audio/wav, got %s"
	errReceivedEmptyAudio     = "received empty audio data"
	errFmtEngineErrorWithCode = "synthesis service error (%s): %s (code: %s)"
	errFmtEngineNonOKStatus   = "synthesis service returned non-OK status: %s, body: %s"
)

// HTTPEngine synthesizes speech through a standalone voice-cloning HTTP
// service. It encapsulates the HTTP configuration and the session-level
// synthesis options applied to every request.
type HTTPEngine struct {
	httpClient *http.Client
	baseURL    string
	opts       core.SynthesisOptions
	normalizer *Normalizer
}

// synthesisRequest defines the JSON payload for synthesis requests.
// All fields follow the explicit API contract of the synthesis service.
type synthesisRequest struct {
	// Text contains the input text to convert to speech.
	Text string `json:"text"`

	// SpeakerWavBase64 carries the reference voice sample as a
	// base64-encoded WAV clip. The service clones this voice.
	SpeakerWavBase64 string `json:"speaker_wav_base64"`

	// Language specifies the target language code (e.g., "en", "es").
	Language string `json:"language"`

	// Speed scales the speaking rate. 1.0 is the natural rate.
	Speed float64 `json:"speed"`

	// UseGPU requests accelerated synthesis when the service has a GPU.
	UseGPU bool `json:"use_gpu"`
}

// engineErrorResponse represents a structured error response from the
// synthesis service. This provides actionable diagnostics when requests fail.
type engineErrorResponse struct {
	// Detail contains a human-readable error description.
	Detail string `json:"detail"`

	// ErrorCode provides a machine-readable error classification.
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTPEngine creates and configures a client for the synthesis service.
// The baseURL should include the protocol and port (e.g., "http://localhost:8000").
// The timeout applies to all HTTP requests made by this engine, and opts are
// fixed for the lifetime of the engine.
func NewHTTPEngine(baseURL string, timeout time.Duration, opts core.SynthesisOptions) *HTTPEngine {
	return &HTTPEngine{
		baseURL: baseURL,
		opts:    opts,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		normalizer: NewNormalizer(),
	}
}

// Synthesize sends a synthesis request and returns the raw audio data.
// It validates input at the boundary, constructs the HTTP request according
// to the API contract, and handles both successful responses and error
// conditions.
//
// The returned audio data is in WAV format as specified by the service
// contract. Callers are responsible for encoding or storing it as needed.
func (e *HTTPEngine) Synthesize(ctx context.Context, text string, refVoice []byte) ([]byte, error) {
	text = e.normalizer.Normalize(text)
	if text == "" {
		return nil, ErrTextEmpty
	}

	if _, err := checkReferenceVoice(refVoice); err != nil {
		return nil, err
	}

	payload := synthesisRequest{
		Text:             text,
		SpeakerWavBase64: base64.StdEncoding.EncodeToString(refVoice),
		Language:         e.opts.Language,
		Speed:            e.opts.Speed,
		UseGPU:           e.opts.UseGPU,
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := e.baseURL + apiSynthesize

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		url,
		bytes.NewBuffer(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Set explicit headers as per API contract
	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to send request to synthesis service at %s: %w",
			e.baseURL,
			err,
		)
	}
	defer resp.Body.Close()

	// Handle non-success status codes with structured error parsing
	if resp.StatusCode != http.StatusOK {
		return nil, e.parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return nil, fmt.Errorf(
			errUnexpectedContentType,
			contentType,
		)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, errors.New(errReceivedEmptyAudio)
	}

	return audioData, nil
}

// HealthCheck verifies that the synthesis service is running and operational.
// It performs a lightweight check against the service health endpoint and
// returns an error if the service is unavailable or reports unhealthy status.
//
// The model session performs this check once at startup to fail fast and
// provide clear diagnostics when the service is unavailable.
func (e *HTTPEngine) HealthCheck(ctx context.Context) error {
	url := e.baseURL + apiHealth

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf(
			"health check failed for service at %s: %w",
			e.baseURL,
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// parseErrorResponse attempts to decode a structured JSON error from the
// service. If structured parsing fails, it falls back to returning the raw
// response body so diagnostic information is preserved.
func (e *HTTPEngine) parseErrorResponse(resp *http.Response) error {
	var errorResp engineErrorResponse

	err := json.NewDecoder(resp.Body).Decode(&errorResp)
	if err == nil {
		return fmt.Errorf(errFmtEngineErrorWithCode,
			resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	// Fallback to raw response for non-JSON errors
	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf(
		errFmtEngineNonOKStatus,
		resp.Status,
		string(body),
	)
}
