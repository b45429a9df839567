// Package config loads the acquisition service configuration. The schema is
// a single JSON file set once at startup; nothing here is hot-reloadable
// while the capture pipeline runs.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/braid-data/optocapture/internal/camera"
	"github.com/braid-data/optocapture/internal/capture"
	"github.com/braid-data/optocapture/internal/trigger"
)

// Config is the full service configuration.
type Config struct {
	// Enabled gates the whole capture pipeline. A disabled rig still serves
	// the API so an operator can inspect past sessions.
	Enabled bool `json:"enabled"`

	// Camera describes the fixed stream format of the high-speed camera.
	Camera camera.Format `json:"camera"`

	// PreTriggerRecordTime is the look-back window in seconds.
	PreTriggerRecordTime float64 `json:"pre_trigger_record_time"`
	// PostTriggerRecordTime is the look-ahead window in seconds.
	PostTriggerRecordTime float64 `json:"post_trigger_record_time"`
	// TriggerPolicy decides triggers that arrive mid-recording: "drop" or
	// "queue".
	TriggerPolicy string `json:"trigger_policy"`

	// OutputDir is where capture artifacts are written.
	OutputDir string `json:"output_dir"`
	// DBPath is the sqlite session database path.
	DBPath string `json:"db_path"`
	// Listen is the HTTP API listen address.
	Listen string `json:"listen"`

	// SerialPort is the trigger hardware device path. Empty disables the
	// serial trigger source; triggers then arrive over HTTP only.
	SerialPort string `json:"serial_port"`
	// Serial holds the port parameters for SerialPort.
	Serial trigger.PortOptions `json:"serial"`

	// MaxConcurrentWrites bounds overlapping artifact writes.
	MaxConcurrentWrites int `json:"max_concurrent_writes"`
	// FailedGraceSeconds is how long failed sessions stay recoverable.
	FailedGraceSeconds float64 `json:"failed_grace_seconds"`
	// StatsWindow is the rolling ingest-stats window in frames.
	StatsWindow int `json:"stats_window"`
}

// Default returns the canonical default configuration.
func Default() Config {
	return Config{
		Enabled: true,
		Camera: camera.Format{
			Width:       640,
			Height:      480,
			PixelFormat: camera.Mono8,
			FramerateHz: 500,
		},
		PreTriggerRecordTime:  0.5,
		PostTriggerRecordTime: 1.5,
		TriggerPolicy:         string(capture.PolicyDrop),
		OutputDir:             "captures",
		DBPath:                "sessions.db",
		Listen:                ":8080",
		Serial:                trigger.PortOptions{BaudRate: 115200},
		MaxConcurrentWrites:   4,
		FailedGraceSeconds:    300,
		StatsWindow:           1000,
	}
}

// Load reads the config file at path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with. This is the
// fail-fast gate: capacity misconfiguration is an error here, never at frame
// time.
func (c Config) Validate() error {
	if err := c.Camera.Validate(); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	if c.PreTriggerRecordTime < 0 {
		return fmt.Errorf("pre_trigger_record_time must be >= 0, got %v", c.PreTriggerRecordTime)
	}
	if c.PostTriggerRecordTime <= 0 {
		return fmt.Errorf("post_trigger_record_time must be > 0, got %v", c.PostTriggerRecordTime)
	}
	if capture.RingCapacity(c.Camera.FramerateHz, c.PostTriggerRecordTime) <= 0 {
		return fmt.Errorf("post-trigger window yields zero ring capacity")
	}
	switch capture.TriggerPolicy(c.TriggerPolicy) {
	case capture.PolicyDrop, capture.PolicyQueue:
	default:
		return fmt.Errorf("unknown trigger_policy %q", c.TriggerPolicy)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir must be set")
	}
	if c.SerialPort != "" {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}
	return nil
}

// PreCapacity returns the configured pre-trigger ring capacity in frames.
func (c Config) PreCapacity() int {
	return capture.RingCapacity(c.Camera.FramerateHz, c.PreTriggerRecordTime)
}

// PostCapacity returns the configured post-trigger ring capacity in frames.
func (c Config) PostCapacity() int {
	return capture.RingCapacity(c.Camera.FramerateHz, c.PostTriggerRecordTime)
}
