// Package core defines the interfaces and shared types for the voiceclone worker.
package core

import "context"

// SynthesisOptions holds the engine tuning that is fixed for the lifetime of a
// model session. Jobs cannot override these values.
type SynthesisOptions struct {
	Language string
	Speed    float64
	UseGPU   bool
}

// Synthesizer is the contract for a warm speech engine. It clones the voice
// from the reference WAV sample onto the given text and returns the rendered
// audio as WAV bytes.
//
// Implementations must be safe for concurrent use; engines that can only run
// one synthesis at a time serialize internally.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, refVoice []byte) ([]byte, error)
}
