// Package audio provides WAV inspection and construction helpers for the
// voiceclone worker. Engines use Probe to reject malformed reference samples
// before spending a synthesis call on them.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// PCM16 format constants.
const (
	bitsPerSample  = 16
	bytesPerSample = bitsPerSample / 8
	pcmFormat      = 1
	fmtChunkSize   = 16
	riffHeaderSize = 36
	toneAmplitude  = 16000
)

var (
	// ErrEmptyAudio indicates a zero-length audio payload.
	ErrEmptyAudio = errors.New("audio data is empty")
	// ErrInvalidWAV indicates data that does not decode as a WAV file.
	ErrInvalidWAV = errors.New("data is not a valid wav file")
	// ErrPCMNotAligned indicates a PCM payload with a partial final sample.
	ErrPCMNotAligned = errors.New("pcm payload is not 16-bit aligned")
	// ErrSampleRateInvalid indicates a non-positive sample rate.
	ErrSampleRateInvalid = errors.New("sample rate must be positive")
	// ErrChannelsInvalid indicates a non-positive channel count.
	ErrChannelsInvalid = errors.New("channel count must be positive")
)

// Info describes the format of a WAV payload.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// Probe decodes the WAV header of the given data and returns its format. It
// returns ErrInvalidWAV when the data cannot be decoded.
func Probe(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, ErrEmptyAudio
	}

	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return Info{}, ErrInvalidWAV
	}

	duration, err := decoder.Duration()
	if err != nil {
		return Info{}, fmt.Errorf("failed to read wav duration: %w", err)
	}

	return Info{
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		BitDepth:   int(decoder.BitDepth),
		Duration:   duration,
	}, nil
}

// Samples decodes the full PCM content of a WAV payload.
func Samples(data []byte) (*goaudio.IntBuffer, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return nil, ErrInvalidWAV
	}

	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode pcm samples: %w", err)
	}

	return buffer, nil
}

// EncodePCM16 wraps 16-bit little-endian PCM data in a RIFF/WAVE container.
func EncodePCM16(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, ErrSampleRateInvalid
	}

	if channels <= 0 {
		return nil, ErrChannelsInvalid
	}

	if len(pcm)%bytesPerSample != 0 {
		return nil, ErrPCMNotAligned
	}

	byteRate := sampleRate * channels * bytesPerSample
	blockAlign := channels * bytesPerSample
	dataLen := uint32(len(pcm))

	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")

	headerFields := []any{
		riffHeaderSize + dataLen,
	}

	writeErr := writeFields(buf, headerFields)
	if writeErr != nil {
		return nil, writeErr
	}

	buf.WriteString("WAVE")
	buf.WriteString("fmt ")

	formatFields := []any{
		uint32(fmtChunkSize),
		uint16(pcmFormat),
		uint16(channels),
		uint32(sampleRate),
		uint32(byteRate),
		uint16(blockAlign),
		uint16(bitsPerSample),
	}

	writeErr = writeFields(buf, formatFields)
	if writeErr != nil {
		return nil, writeErr
	}

	buf.WriteString("data")

	writeErr = writeFields(buf, []any{dataLen})
	if writeErr != nil {
		return nil, writeErr
	}

	buf.Write(pcm)

	return buf.Bytes(), nil
}

func writeFields(buf *bytes.Buffer, fields []any) error {
	for _, field := range fields {
		err := binary.Write(buf, binary.LittleEndian, field)
		if err != nil {
			return fmt.Errorf("failed to write wav header field: %w", err)
		}
	}

	return nil
}

// Tone generates a mono sine tone as 16-bit little-endian PCM data. It exists
// for the mock engine and for test fixtures.
func Tone(freq float64, duration time.Duration, sampleRate int) []byte {
	sampleCount := int(float64(sampleRate) * duration.Seconds())
	pcm := make([]byte, 0, sampleCount*bytesPerSample)

	for i := 0; i < sampleCount; i++ {
		sample := int16(toneAmplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
		pcm = binary.LittleEndian.AppendUint16(pcm, uint16(sample))
	}

	return pcm
}
