// main package for the voiceclone command line client
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/parrotlabs/voiceclone-worker/internal/audio"
	"github.com/parrotlabs/voiceclone-worker/internal/format"
	"github.com/parrotlabs/voiceclone-worker/internal/handler"
)

// Flag descriptions and messages.
const (
	flagSpeakerDesc = "Reference voice sample (.wav) to clone"
	flagTextDesc    = "Text to synthesize (defaults to the worker's test phrase)"
	flagOutputDesc  = "Output file path (.wav)"
	flagNATSDesc    = "NATS server URL"
	flagSubjectDesc = "Jobs subject the worker listens on"
	flagGatewayDesc = "Submit over the HTTP gateway at this base URL instead of NATS"
	flagTimeoutDesc = "Seconds to wait for the worker's reply"
	flagHealthDesc  = "Check gateway health and exit"
)

// Flag names.
const (
	flagSpeaker = "speaker"
	flagText    = "text"
	flagOutput  = "output"
	flagNATS    = "nats"
	flagSubject = "subject"
	flagGateway = "gateway"
	flagTimeout = "timeout"
	flagHealth  = "health"
)

// Error and log messages.
const (
	errSpeakerRequired     = "--speaker is required"
	errSpeakerNotAudio     = "--speaker must be an audio file (e.g. .wav)"
	errFailedToReadSpeaker = "Failed to read speaker sample: %v"
	errInvalidSpeakerWAV   = "Speaker sample is not a decodable WAV file: %v"
	errNoWorkerListening   = "no worker is listening on subject %s"
	errWorkerTimedOut      = "no reply within %s; the job may have failed, check the worker logs"
	errRequestFailed       = "Request failed: %v"
	errFailedToWriteOutput = "Failed to write output: %v"
	errServiceNotHealthy   = "Voiceclone worker is not healthy: %v\n"
	msgServiceHealthy      = "Voiceclone worker is healthy"
	msgGenerated           = "Generated: %s (%s, %s)\n"
	msgGeneratedNoProbe    = "Generated: %s (%s)\n"
)

// Defaults.
const (
	defaultSubject        = "voiceclone.jobs"
	defaultOutputFile     = "output.wav"
	defaultTimeoutSeconds = 120
	defaultGatewayURL     = "http://localhost:8090"
	healthCheckTimeout    = 10 * time.Second
	outputFilePermissions = 0o600
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	speaker        string
	text           string
	textSet        bool
	output         string
	natsURL        string
	subject        string
	gateway        string
	timeoutSeconds int
	health         bool
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// run is the main application entry point, returning an error on failure.
func run() error {
	flags := parseFlags()

	if flags.health {
		return handleHealthCheck(flags)
	}

	err := validateArguments(flags)
	if err != nil {
		flag.Usage()

		return err
	}

	return handleSubmission(flags)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags() appFlags {
	var flags appFlags
	flag.StringVar(&flags.speaker, flagSpeaker, "", flagSpeakerDesc)
	flag.StringVar(&flags.text, flagText, "", flagTextDesc)
	flag.StringVar(&flags.output, flagOutput, defaultOutputFile, flagOutputDesc)
	flag.StringVar(&flags.natsURL, flagNATS, nats.DefaultURL, flagNATSDesc)
	flag.StringVar(&flags.subject, flagSubject, defaultSubject, flagSubjectDesc)
	flag.StringVar(&flags.gateway, flagGateway, "", flagGatewayDesc)
	flag.IntVar(&flags.timeoutSeconds, flagTimeout, defaultTimeoutSeconds, flagTimeoutDesc)
	flag.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	flag.Parse()

	// Tell an absent -text apart from an explicit empty one; the worker
	// only substitutes its default when the field is absent.
	flag.Visit(func(f *flag.Flag) {
		if f.Name == flagText {
			flags.textSet = true
		}
	})

	return flags
}

// validateArguments checks the flag combination before any work happens.
func validateArguments(flags appFlags) error {
	if flags.speaker == "" {
		return errors.New(errSpeakerRequired)
	}

	if !format.IsAudioFile(flags.speaker) {
		return errors.New(errSpeakerNotAudio)
	}

	return nil
}

// handleHealthCheck probes the gateway health endpoint and prints the result.
func handleHealthCheck(flags appFlags) error {
	gatewayURL := flags.gateway
	if gatewayURL == "" {
		gatewayURL = defaultGatewayURL
	}

	client := &http.Client{Timeout: healthCheckTimeout}

	resp, err := client.Get(gatewayURL + "/health")
	if err != nil {
		fmt.Printf(errServiceNotHealthy, err)

		return fmt.Errorf("health check failed: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("health check returned status: %s", resp.Status)
		fmt.Printf(errServiceNotHealthy, statusErr)

		return statusErr
	}

	fmt.Println(msgServiceHealthy)

	return nil
}

// handleSubmission builds one job from the flags, submits it, and writes the
// returned audio to the output path.
func handleSubmission(flags appFlags) error {
	jobData, err := buildJob(flags)
	if err != nil {
		return err
	}

	replyData, err := submit(flags, jobData)
	if err != nil {
		return err
	}

	var resp handler.Response

	err = json.Unmarshal(replyData, &resp)
	if err != nil {
		return fmt.Errorf("failed to decode reply: %w", err)
	}

	if resp.Error != "" {
		return errors.New(resp.Error)
	}

	audioData, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		return fmt.Errorf("failed to decode reply audio: %w", err)
	}

	return writeOutput(flags.output, audioData)
}

// buildJob reads the speaker sample and marshals the job payload.
func buildJob(flags appFlags) ([]byte, error) {
	speakerData, err := os.ReadFile(flags.speaker)
	if err != nil {
		return nil, fmt.Errorf(errFailedToReadSpeaker, err)
	}

	// Catch undecodable samples here, with a readable message, instead of
	// burning a round trip to the worker.
	_, err = audio.Probe(speakerData)
	if err != nil {
		return nil, fmt.Errorf(errInvalidSpeakerWAV, err)
	}

	job := handler.Job{
		ID: "",
		Input: handler.Input{
			Text:             nil,
			SpeakerWavBase64: base64.StdEncoding.EncodeToString(speakerData),
		},
	}

	if flags.textSet {
		job.Input.Text = &flags.text
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	return jobData, nil
}

// submit sends the job over the gateway when one is configured, otherwise
// over NATS, and returns the raw reply payload.
func submit(flags appFlags, jobData []byte) ([]byte, error) {
	if flags.gateway != "" {
		return submitViaGateway(flags, jobData)
	}

	return submitViaNATS(flags, jobData)
}

func submitViaNATS(flags appFlags, jobData []byte) ([]byte, error) {
	natsConnection, err := nats.Connect(flags.natsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", flags.natsURL, err)
	}

	defer natsConnection.Close()

	timeout := time.Duration(flags.timeoutSeconds) * time.Second

	replyMsg, err := natsConnection.Request(flags.subject, jobData, timeout)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, fmt.Errorf(errNoWorkerListening, flags.subject)
		}

		if errors.Is(err, nats.ErrTimeout) {
			return nil, fmt.Errorf(errWorkerTimedOut, timeout)
		}

		return nil, fmt.Errorf(errRequestFailed, err)
	}

	return replyMsg.Data, nil
}

func submitViaGateway(flags appFlags, jobData []byte) ([]byte, error) {
	timeout := time.Duration(flags.timeoutSeconds) * time.Second
	client := &http.Client{Timeout: timeout}

	resp, err := client.Post(
		flags.gateway+"/run",
		"application/json",
		bytes.NewReader(jobData),
	)
	if err != nil {
		return nil, fmt.Errorf(errRequestFailed, err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway reply: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(
			"gateway returned status %s: %s",
			resp.Status,
			string(body),
		)
	}

	return body, nil
}

// writeOutput stores the audio and prints a short summary of the clip.
func writeOutput(outputPath string, audioData []byte) error {
	err := format.EnsureDir(filepath.Dir(outputPath))
	if err != nil {
		return fmt.Errorf(errFailedToWriteOutput, err)
	}

	err = os.WriteFile(outputPath, audioData, outputFilePermissions)
	if err != nil {
		return fmt.Errorf(errFailedToWriteOutput, err)
	}

	size := format.ByteSize(int64(len(audioData)))

	info, err := audio.Probe(audioData)
	if err != nil {
		fmt.Printf(msgGeneratedNoProbe, outputPath, size)

		return nil
	}

	fmt.Printf(msgGenerated, outputPath, size, format.Duration(info.Duration.Seconds()))

	return nil
}
