package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/book-expert/logger"
	"github.com/mattn/go-shellwords"

	"github.com/parrotlabs/voiceclone-worker/internal/core"
)

// ErrCommandEmpty is returned when the configured synthesis command parses to
// no executable.
var ErrCommandEmpty = errors.New("synthesis command cannot be empty")

// ExecEngine synthesizes speech by invoking a local voice-cloning binary.
// The configured command carries the model selection and any session-fixed
// tuning flags; the engine appends the per-call speaker, output, and text
// arguments.
//
// Local binaries load the model once per invocation and contend for the same
// accelerator, so synthesis calls serialize behind an internal mutex.
type ExecEngine struct {
	mu         sync.Mutex
	program    string
	baseArgs   []string
	opts       core.SynthesisOptions
	log        *logger.Logger
	normalizer *Normalizer
}

// NewExecEngine parses the configured command line and returns an engine that
// runs it for every synthesis call.
func NewExecEngine(command string, opts core.SynthesisOptions, log *logger.Logger) (*ExecEngine, error) {
	parts, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse synthesis command: %w", err)
	}

	if len(parts) == 0 {
		return nil, ErrCommandEmpty
	}

	return &ExecEngine{
		mu:         sync.Mutex{},
		program:    parts[0],
		baseArgs:   parts[1:],
		opts:       opts,
		log:        log,
		normalizer: NewNormalizer(),
	}, nil
}

// Synthesize writes the reference voice sample to a temp file, runs the
// configured binary, and returns the WAV data it produced.
func (e *ExecEngine) Synthesize(ctx context.Context, text string, refVoice []byte) ([]byte, error) {
	text = e.normalizer.Normalize(text)
	if text == "" {
		return nil, ErrTextEmpty
	}

	if _, err := checkReferenceVoice(refVoice); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	refFile, err := os.CreateTemp("", "voiceclone-ref-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for reference voice: %w", err)
	}

	defer e.removeTempFile(refFile.Name())

	_, err = refFile.Write(refVoice)
	if err != nil {
		return nil, fmt.Errorf("failed to write reference voice to temp file: %w", err)
	}

	err = refFile.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to close reference voice temp file: %w", err)
	}

	outFile, err := os.CreateTemp("", "voiceclone-out-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for synthesis output: %w", err)
	}

	defer e.removeTempFile(outFile.Name())

	err = outFile.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to close synthesis output temp file: %w", err)
	}

	args := make([]string, 0, len(e.baseArgs)+7)
	args = append(args, e.baseArgs...)
	args = append(args,
		"--speaker", refFile.Name(),
		"--out", outFile.Name(),
		"--text", text,
	)

	if e.opts.UseGPU {
		args = append(args, "--gpu")
	}

	// #nosec G204 -- the command is operator-provided configuration, parsed once at startup
	cmd := exec.CommandContext(ctx, e.program, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("synthesis command failed: %w - output: %s", err, string(output))
	}

	audioData, err := os.ReadFile(outFile.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data from temp file: %w", err)
	}

	if len(audioData) == 0 {
		return nil, errors.New(errReceivedEmptyAudio)
	}

	return audioData, nil
}

func (e *ExecEngine) removeTempFile(path string) {
	removeErr := os.Remove(path)
	if removeErr != nil {
		e.log.Warn("Failed to remove temp file '%s': %v", path, removeErr)
	}
}
