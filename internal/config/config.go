// Package config provides the configuration structure for the voiceclone-worker.
package config

import (
	"errors"
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Engine modes selectable via the [engine] section.
const (
	EngineModeMock = "mock"
	EngineModeExec = "exec"
	EngineModeHTTP = "http"
)

// Default values applied when the project TOML leaves a field unset.
const (
	DefaultJobsSubject          = "voiceclone.jobs"
	DefaultMaxInFlight          = 4
	DefaultJobTimeoutSeconds    = 120
	DefaultEngineTimeoutSeconds = 300
	DefaultEngineLanguage       = "en"
	DefaultEngineSpeed          = 1.0
	DefaultGatewayBind          = ":8090"
)

var (
	// ErrNATSURLEmpty indicates that the NATS server URL is empty.
	ErrNATSURLEmpty = errors.New("nats url cannot be empty")
	// ErrJobsSubjectEmpty indicates that the jobs subject is empty.
	ErrJobsSubjectEmpty = errors.New("jobs subject cannot be empty")
	// ErrMaxInFlightInvalid indicates a non-positive in-flight job bound.
	ErrMaxInFlightInvalid = errors.New("max in-flight jobs must be >= 1")
	// ErrJobTimeoutInvalid indicates a non-positive per-job timeout.
	ErrJobTimeoutInvalid = errors.New("job timeout must be >= 1 second")
	// ErrEngineModeInvalid indicates an engine mode outside mock|exec|http.
	ErrEngineModeInvalid = errors.New("engine mode must be one of mock, exec, http")
	// ErrEngineURLEmpty indicates that the http engine has no service URL.
	ErrEngineURLEmpty = errors.New("engine url cannot be empty in http mode")
	// ErrEngineCommandEmpty indicates that the exec engine has no command.
	ErrEngineCommandEmpty = errors.New("engine command cannot be empty in exec mode")
	// ErrEngineSpeedInvalid indicates a non-positive playback speed.
	ErrEngineSpeedInvalid = errors.New("engine speed must be > 0")
	// ErrGatewayBindEmpty indicates an enabled gateway without a bind address.
	ErrGatewayBindEmpty = errors.New("gateway bind cannot be empty when enabled")
)

// NATSConfig holds the configuration for the NATS job transport.
type NATSConfig struct {
	URL               string `toml:"url"`
	JobsSubject       string `toml:"jobs_subject"`
	QueueGroup        string `toml:"queue_group"`
	MaxInFlight       int    `toml:"max_in_flight"`
	JobTimeoutSeconds int    `toml:"job_timeout_seconds"`
}

// EngineConfig holds the configuration for the speech engine behind the model
// session. Mode selects the implementation; the remaining fields apply to the
// matching mode only.
type EngineConfig struct {
	Mode           string  `toml:"mode"`
	URL            string  `toml:"url"`
	Command        string  `toml:"command"`
	Language       string  `toml:"language"`
	Speed          float64 `toml:"speed"`
	UseGPU         bool    `toml:"use_gpu"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// GatewayConfig holds the configuration for the local HTTP gateway.
type GatewayConfig struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
}

// TelemetryConfig holds the configuration for the metrics pipeline.
type TelemetryConfig struct {
	Enabled bool `toml:"enabled"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig      `toml:"nats"`
	Engine    EngineConfig    `toml:"engine"`
	Gateway   GatewayConfig   `toml:"gateway"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Paths     PathsConfig     `toml:"paths"`
}

// Load loads the configuration for the voiceclone-worker, applies defaults for
// unset fields, and validates the result.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills unset fields with their default values.
func (c *Config) ApplyDefaults() {
	if c.NATS.JobsSubject == "" {
		c.NATS.JobsSubject = DefaultJobsSubject
	}

	if c.NATS.MaxInFlight == 0 {
		c.NATS.MaxInFlight = DefaultMaxInFlight
	}

	if c.NATS.JobTimeoutSeconds == 0 {
		c.NATS.JobTimeoutSeconds = DefaultJobTimeoutSeconds
	}

	if c.Engine.Mode == "" {
		c.Engine.Mode = EngineModeMock
	}

	if c.Engine.Language == "" {
		c.Engine.Language = DefaultEngineLanguage
	}

	if c.Engine.Speed == 0 {
		c.Engine.Speed = DefaultEngineSpeed
	}

	if c.Engine.TimeoutSeconds == 0 {
		c.Engine.TimeoutSeconds = DefaultEngineTimeoutSeconds
	}

	if c.Gateway.Enabled && c.Gateway.Bind == "" {
		c.Gateway.Bind = DefaultGatewayBind
	}
}

// Validate ensures the configuration contains usable values.
func (c *Config) Validate() error {
	natsErr := c.validateNATS()
	if natsErr != nil {
		return natsErr
	}

	engineErr := c.validateEngine()
	if engineErr != nil {
		return engineErr
	}

	if c.Gateway.Enabled && c.Gateway.Bind == "" {
		return ErrGatewayBindEmpty
	}

	return nil
}

func (c *Config) validateNATS() error {
	if c.NATS.URL == "" {
		return ErrNATSURLEmpty
	}

	if c.NATS.JobsSubject == "" {
		return ErrJobsSubjectEmpty
	}

	if c.NATS.MaxInFlight < 1 {
		return ErrMaxInFlightInvalid
	}

	if c.NATS.JobTimeoutSeconds < 1 {
		return ErrJobTimeoutInvalid
	}

	return nil
}

func (c *Config) validateEngine() error {
	switch c.Engine.Mode {
	case EngineModeMock:
	case EngineModeExec:
		if c.Engine.Command == "" {
			return ErrEngineCommandEmpty
		}
	case EngineModeHTTP:
		if c.Engine.URL == "" {
			return ErrEngineURLEmpty
		}
	default:
		return fmt.Errorf("%w: got %q", ErrEngineModeInvalid, c.Engine.Mode)
	}

	if c.Engine.Speed <= 0 {
		return ErrEngineSpeedInvalid
	}

	return nil
}
