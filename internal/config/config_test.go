package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braid-data/optocapture/internal/camera"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	// 500 fps with a 0.5 s / 1.5 s split: 250 look-back, 750 look-ahead.
	assert.Equal(t, 250, cfg.PreCapacity())
	assert.Equal(t, 750, cfg.PostCapacity())
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"camera": {"width": 1280, "height": 720, "pixel_format": "bgr8", "framerate_hz": 200},
		"pre_trigger_record_time": 1.0,
		"trigger_policy": "queue",
		"serial_port": "/dev/ttyACM0",
		"serial": {"baud_rate": 921600}
	}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	// File values win.
	assert.Equal(t, 1280, cfg.Camera.Width)
	assert.Equal(t, camera.BGR8, cfg.Camera.PixelFormat)
	assert.Equal(t, 200.0, cfg.Camera.FramerateHz)
	assert.Equal(t, 1.0, cfg.PreTriggerRecordTime)
	assert.Equal(t, "queue", cfg.TriggerPolicy)
	assert.Equal(t, 921600, cfg.Serial.BaudRate)

	// Unset fields keep their defaults.
	assert.Equal(t, 1.5, cfg.PostTriggerRecordTime)
	assert.Equal(t, "captures", cfg.OutputDir)
	assert.Equal(t, ":8080", cfg.Listen)

	assert.Equal(t, 200, cfg.PreCapacity())
	assert.Equal(t, 300, cfg.PostCapacity())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"enabled": `), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero framerate", func(c *Config) { c.Camera.FramerateHz = 0 }},
		{"zero width", func(c *Config) { c.Camera.Width = 0 }},
		{"unknown pixel format", func(c *Config) { c.Camera.PixelFormat = "yuv422" }},
		{"negative pre window", func(c *Config) { c.PreTriggerRecordTime = -0.5 }},
		{"zero post window", func(c *Config) { c.PostTriggerRecordTime = 0 }},
		{"unknown trigger policy", func(c *Config) { c.TriggerPolicy = "extend" }},
		{"empty output dir", func(c *Config) { c.OutputDir = "" }},
		{"bad serial options", func(c *Config) {
			c.SerialPort = "/dev/ttyACM0"
			c.Serial.DataBits = 9
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestZeroPreWindowIsLegal(t *testing.T) {
	cfg := Default()
	cfg.PreTriggerRecordTime = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0, cfg.PreCapacity())
}
