// Package worker_test tests the NATS worker for the voiceclone service.
package worker_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parrotlabs/voiceclone-worker/internal/audio"
	"github.com/parrotlabs/voiceclone-worker/internal/config"
	"github.com/parrotlabs/voiceclone-worker/internal/engine"
	"github.com/parrotlabs/voiceclone-worker/internal/handler"
	"github.com/parrotlabs/voiceclone-worker/internal/worker"
)

const testSubject = "voiceclone.test.jobs"

func createTestNatsClient(t *testing.T) (*nats.Conn, func()) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	cleanup := func() {
		server.Shutdown()
		natsConnection.Close()
	}

	return natsConnection, cleanup
}

func setupTest(t *testing.T) (
	*worker.NatsWorker,
	*engine.MockEngine,
	context.Context,
	context.CancelFunc,
	*nats.Conn,
) {
	t.Helper()

	return setupTestWithNATS(t, "", 2)
}

// setupTestWithNATS builds a worker whose queue group and in-flight bound
// differ from the defaults the other tests use.
func setupTestWithNATS(t *testing.T, queueGroup string, maxInFlight int) (
	*worker.NatsWorker,
	*engine.MockEngine,
	context.Context,
	context.CancelFunc,
	*nats.Conn,
) {
	t.Helper()

	natsConnection, natsCleanup := createTestNatsClient(t)
	t.Cleanup(natsCleanup)

	testLogger, err := logger.New(t.TempDir(), "test-log.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	mockEngine := engine.NewMockEngine()
	jobHandler := handler.New(mockEngine, testLogger, nil)

	cfg := config.NATSConfig{
		URL:               natsConnection.ConnectedUrl(),
		JobsSubject:       testSubject,
		QueueGroup:        queueGroup,
		MaxInFlight:       maxInFlight,
		JobTimeoutSeconds: 10,
	}

	workerInstance, err := worker.NewNatsWorker(
		natsConnection, cfg, jobHandler, testLogger,
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	return workerInstance, mockEngine, ctx, cancel, natsConnection
}

func makeSpeakerSample(t *testing.T) ([]byte, string) {
	t.Helper()

	pcm := audio.Tone(440, 100*time.Millisecond, 16000)

	clip, err := audio.EncodePCM16(pcm, 16000, 1)
	require.NoError(t, err)

	return clip, base64.StdEncoding.EncodeToString(clip)
}

func marshalJob(t *testing.T, job handler.Job) []byte {
	t.Helper()

	data, err := json.Marshal(job)
	require.NoError(t, err)

	return data
}

func stringPtr(s string) *string {
	return &s
}

// startWorker runs the worker and waits until its subscription is live on the
// shared test connection, so requests cannot race the subscribe.
func startWorker(
	t *testing.T,
	ctx context.Context,
	workerInstance *worker.NatsWorker,
	natsConnection *nats.Conn,
) chan error {
	t.Helper()

	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return natsConnection.NumSubscriptions() > 0
	}, 2*time.Second, 10*time.Millisecond, "worker should subscribe")

	return errChan
}

func TestWorker_SuccessRoundTrip(t *testing.T) {
	t.Parallel()

	workerInstance, mockEngine, ctx, cancel, natsConnection := setupTest(t)
	defer cancel()

	errChan := startWorker(t, ctx, workerInstance, natsConnection)

	clip, encoded := makeSpeakerSample(t)
	jobData := marshalJob(t, handler.Job{
		ID: "job-roundtrip",
		Input: handler.Input{
			Text:             stringPtr("Hi there."),
			SpeakerWavBase64: encoded,
		},
	})

	replyMsg, err := natsConnection.Request(testSubject, jobData, 5*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var resp handler.Response

	err = json.Unmarshal(replyMsg.Data, &resp)
	require.NoError(t, err)

	require.Empty(t, resp.Error)
	require.NotEmpty(t, resp.AudioBase64)

	audioData, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	require.NoError(t, err)

	_, err = audio.Probe(audioData)
	require.NoError(t, err, "Reply should carry a decodable WAV clip")

	require.Equal(t, mockEngine.LastOutput(), audioData,
		"Reply must carry the engine's bytes untouched")

	assert.Equal(t, "Hi there.", mockEngine.LastText())
	assert.Equal(t, clip, mockEngine.LastRefVoice())

	cancel()

	shutdownErr := <-errChan
	assert.NoError(t, shutdownErr, "worker.Run should not error on graceful shutdown")
}

func TestWorker_DefaultText(t *testing.T) {
	t.Parallel()

	workerInstance, mockEngine, ctx, cancel, natsConnection := setupTest(t)
	defer cancel()

	_ = startWorker(t, ctx, workerInstance, natsConnection)

	_, encoded := makeSpeakerSample(t)
	jobData := []byte(`{"input": {"speaker_wav_base64": "` + encoded + `"}}`)

	replyMsg, err := natsConnection.Request(testSubject, jobData, 5*time.Second)
	require.NoError(t, err)

	var resp handler.Response

	require.NoError(t, json.Unmarshal(replyMsg.Data, &resp))
	require.Empty(t, resp.Error)
	require.NotEmpty(t, resp.AudioBase64)

	assert.Equal(t, handler.DefaultText, mockEngine.LastText())
}

func TestWorker_MissingSpeakerStructuredError(t *testing.T) {
	t.Parallel()

	workerInstance, mockEngine, ctx, cancel, natsConnection := setupTest(t)
	defer cancel()

	_ = startWorker(t, ctx, workerInstance, natsConnection)

	jobData := marshalJob(t, handler.Job{
		ID: "job-no-speaker",
		Input: handler.Input{
			Text:             stringPtr("Hi there."),
			SpeakerWavBase64: "",
		},
	})

	replyMsg, err := natsConnection.Request(testSubject, jobData, 5*time.Second)
	require.NoError(t, err, "Validation failures still get a reply")

	var resp handler.Response

	require.NoError(t, json.Unmarshal(replyMsg.Data, &resp))
	assert.Equal(t, "speaker_wav_base64 is a required field.", resp.Error)
	assert.Empty(t, resp.AudioBase64)
	assert.Equal(t, 0, mockEngine.Calls())
}

func TestWorker_EngineFailureGetsNoReply(t *testing.T) {
	t.Parallel()

	workerInstance, mockEngine, ctx, cancel, natsConnection := setupTest(t)
	defer cancel()

	mockEngine.FailWith(errors.New("model exploded"))

	_ = startWorker(t, ctx, workerInstance, natsConnection)

	_, encoded := makeSpeakerSample(t)
	jobData := marshalJob(t, handler.Job{
		ID: "job-engine-failure",
		Input: handler.Input{
			Text:             stringPtr("Hi there."),
			SpeakerWavBase64: encoded,
		},
	})

	_, err := natsConnection.Request(testSubject, jobData, 1*time.Second)
	require.Error(t, err, "Engine failures must not produce a reply")
	assert.ErrorIs(t, err, nats.ErrTimeout)
}

func TestWorker_MalformedJobGetsNoReply(t *testing.T) {
	t.Parallel()

	workerInstance, _, ctx, cancel, natsConnection := setupTest(t)
	defer cancel()

	_ = startWorker(t, ctx, workerInstance, natsConnection)

	_, err := natsConnection.Request(testSubject, []byte(`{"input": `), 1*time.Second)
	require.Error(t, err, "Malformed payloads must not produce a reply")
	assert.ErrorIs(t, err, nats.ErrTimeout)
}

func TestWorker_QueueGroupRoundTrip(t *testing.T) {
	t.Parallel()

	workerInstance, mockEngine, ctx, cancel, natsConnection := setupTestWithNATS(
		t, "voiceclone-workers", 2,
	)
	defer cancel()

	_ = startWorker(t, ctx, workerInstance, natsConnection)

	_, encoded := makeSpeakerSample(t)
	jobData := marshalJob(t, handler.Job{
		ID: "job-queue-group",
		Input: handler.Input{
			Text:             stringPtr("Hi there."),
			SpeakerWavBase64: encoded,
		},
	})

	replyMsg, err := natsConnection.Request(testSubject, jobData, 5*time.Second)
	require.NoError(t, err, "Queue-group subscriptions must serve requests like plain ones")

	var resp handler.Response

	require.NoError(t, json.Unmarshal(replyMsg.Data, &resp))
	require.Empty(t, resp.Error)
	require.NotEmpty(t, resp.AudioBase64)

	assert.Equal(t, 1, mockEngine.Calls())
}

func TestWorker_ZeroMaxInFlightStillServes(t *testing.T) {
	t.Parallel()

	workerInstance, _, ctx, cancel, natsConnection := setupTestWithNATS(t, "", 0)
	defer cancel()

	_ = startWorker(t, ctx, workerInstance, natsConnection)

	_, encoded := makeSpeakerSample(t)
	jobData := marshalJob(t, handler.Job{
		ID: "job-zero-bound",
		Input: handler.Input{
			Text:             stringPtr("Hi there."),
			SpeakerWavBase64: encoded,
		},
	})

	replyMsg, err := natsConnection.Request(testSubject, jobData, 5*time.Second)
	require.NoError(t, err, "A zero in-flight bound must not deadlock dispatch")

	var resp handler.Response

	require.NoError(t, json.Unmarshal(replyMsg.Data, &resp))
	require.NotEmpty(t, resp.AudioBase64)
}
