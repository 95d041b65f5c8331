package engine

import (
	"context"
	"sync"
	"time"

	"github.com/parrotlabs/voiceclone-worker/internal/audio"
)

// Mock clip parameters.
const (
	mockToneFrequency = 440.0
	mockClipDuration  = 250 * time.Millisecond
	mockSampleRate    = 16000
)

// MockEngine is a deterministic stand-in for a real synthesis backend. Every
// call returns the same short sine-tone WAV clip, so the worker can run end
// to end on machines without a speech model. It records the inputs and output
// of the most recent call and can be armed to fail, which the tests rely on.
type MockEngine struct {
	mu           sync.Mutex
	failure      error
	calls        int
	lastText     string
	lastRefVoice []byte
	lastOutput   []byte
}

// NewMockEngine returns a mock engine that succeeds until armed with FailWith.
func NewMockEngine() *MockEngine {
	return &MockEngine{
		mu:           sync.Mutex{},
		failure:      nil,
		calls:        0,
		lastText:     "",
		lastRefVoice: nil,
		lastOutput:   nil,
	}
}

// FailWith arms the engine to return err from every subsequent Synthesize
// call. Passing nil disarms it.
func (m *MockEngine) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failure = err
}

// Synthesize records the inputs and returns the canned clip.
func (m *MockEngine) Synthesize(ctx context.Context, text string, refVoice []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.lastText = text
	m.lastRefVoice = append([]byte(nil), refVoice...)

	if m.failure != nil {
		return nil, m.failure
	}

	clip := audio.Tone(mockToneFrequency, mockClipDuration, mockSampleRate)

	data, err := audio.EncodePCM16(clip, mockSampleRate, 1)
	if err != nil {
		return nil, err
	}

	m.lastOutput = data

	return data, nil
}

// Calls reports how many synthesis calls the engine has served.
func (m *MockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}

// LastText returns the text passed to the most recent synthesis call.
func (m *MockEngine) LastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastText
}

// LastRefVoice returns the reference sample from the most recent call.
func (m *MockEngine) LastRefVoice() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]byte(nil), m.lastRefVoice...)
}

// LastOutput returns the clip produced by the most recent successful call.
func (m *MockEngine) LastOutput() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]byte(nil), m.lastOutput...)
}
