// Package engine provides the speech engine implementations behind the model
// session: an HTTP client for a standalone synthesis service, an exec wrapper
// around a local synthesis command, and a deterministic mock.
package engine

import (
	"errors"
	"fmt"

	"github.com/parrotlabs/voiceclone-worker/internal/audio"
)

var (
	// ErrTextEmpty indicates that the text is empty after normalization.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrReferenceVoiceEmpty indicates a missing reference voice sample.
	ErrReferenceVoiceEmpty = errors.New("reference voice sample cannot be empty")
)

// checkReferenceVoice rejects reference samples that do not decode as WAV
// before an engine spends a synthesis call on them.
func checkReferenceVoice(refVoice []byte) (audio.Info, error) {
	if len(refVoice) == 0 {
		return audio.Info{}, ErrReferenceVoiceEmpty
	}

	info, err := audio.Probe(refVoice)
	if err != nil {
		return audio.Info{}, fmt.Errorf("invalid reference voice sample: %w", err)
	}

	return info, nil
}
