package gateway

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parrotlabs/voiceclone-worker/internal/audio"
	"github.com/parrotlabs/voiceclone-worker/internal/config"
	"github.com/parrotlabs/voiceclone-worker/internal/engine"
	"github.com/parrotlabs/voiceclone-worker/internal/handler"
	"github.com/parrotlabs/voiceclone-worker/internal/telemetry"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	return testLogger
}

func newTestGateway(
	t *testing.T,
	mockEngine *engine.MockEngine,
	metrics *telemetry.Metrics,
) *Gateway {
	t.Helper()

	testLogger := newTestLogger(t)
	jobHandler := handler.New(mockEngine, testLogger, metrics)

	cfg := config.GatewayConfig{Enabled: true, Bind: ":0"}

	return New(cfg, jobHandler, metrics, config.EngineModeMock, testLogger)
}

func makeSpeakerSample(t *testing.T) string {
	t.Helper()

	pcm := audio.Tone(440, 100*time.Millisecond, 16000)

	clip, err := audio.EncodePCM16(pcm, 16000, 1)
	require.NoError(t, err)

	return base64.StdEncoding.EncodeToString(clip)
}

func performJSON(gw *Gateway, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	rec := httptest.NewRecorder()
	gw.echo.ServeHTTP(rec, req)

	return rec
}

func TestGateway_Run_Success(t *testing.T) {
	t.Parallel()

	mockEngine := engine.NewMockEngine()
	gw := newTestGateway(t, mockEngine, nil)

	body := `{"id": "job-1", "input": {"text": "Hi there.", "speaker_wav_base64": "` +
		makeSpeakerSample(t) + `"}}`

	rec := performJSON(gw, http.MethodPost, "/run", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handler.Response

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.Error)
	require.NotEmpty(t, resp.AudioBase64)

	audioData, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	require.NoError(t, err)

	_, err = audio.Probe(audioData)
	require.NoError(t, err)

	require.Equal(t, mockEngine.LastOutput(), audioData,
		"Response must carry the engine's bytes untouched")

	assert.Equal(t, "Hi there.", mockEngine.LastText())
}

func TestGateway_Run_DefaultText(t *testing.T) {
	t.Parallel()

	mockEngine := engine.NewMockEngine()
	gw := newTestGateway(t, mockEngine, nil)

	body := `{"input": {"speaker_wav_base64": "` + makeSpeakerSample(t) + `"}}`

	rec := performJSON(gw, http.MethodPost, "/run", body)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, handler.DefaultText, mockEngine.LastText())
}

func TestGateway_Run_MissingSpeaker(t *testing.T) {
	t.Parallel()

	mockEngine := engine.NewMockEngine()
	gw := newTestGateway(t, mockEngine, nil)

	rec := performJSON(gw, http.MethodPost, "/run", `{"input": {"text": "Hi."}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handler.Response

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "speaker_wav_base64 is a required field.", resp.Error)
	assert.Empty(t, resp.AudioBase64)
	assert.Equal(t, 0, mockEngine.Calls())
}

func TestGateway_Run_EngineFailure(t *testing.T) {
	t.Parallel()

	mockEngine := engine.NewMockEngine()
	mockEngine.FailWith(assert.AnError)

	gw := newTestGateway(t, mockEngine, nil)

	body := `{"input": {"text": "Hi.", "speaker_wav_base64": "` +
		makeSpeakerSample(t) + `"}}`

	rec := performJSON(gw, http.MethodPost, "/run", body)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp map[string]string

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "synthesis failed")
}

func TestGateway_Run_MalformedBody(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, engine.NewMockEngine(), nil)

	rec := performJSON(gw, http.MethodPost, "/run", `{"input": `)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]string

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid request body", resp["error"])
}

func TestGateway_Health(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, engine.NewMockEngine(), nil)

	rec := performJSON(gw, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var health map[string]string

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, serviceName, health["service"])
	assert.Equal(t, config.EngineModeMock, health["engine_mode"])
}

func TestGateway_MetricsEndpoint(t *testing.T) {
	metrics, err := telemetry.New("voiceclone-gateway-test")
	require.NoError(t, err)

	gw := newTestGateway(t, engine.NewMockEngine(), metrics)

	body := `{"input": {"text": "Hi.", "speaker_wav_base64": "` +
		makeSpeakerSample(t) + `"}}`

	rec := performJSON(gw, http.MethodPost, "/run", body)
	require.Equal(t, http.StatusOK, rec.Code)

	scrape := performJSON(gw, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, scrape.Code)

	assert.Contains(t, scrape.Body.String(), "voiceclone_jobs_total")
	assert.Contains(t, scrape.Body.String(), "voiceclone_synthesis_duration_seconds")
}
