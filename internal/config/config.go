// Package config loads and validates the YAML configuration for the
// compliance-vision engine: camera sources, detection tunables, rate
// limits, and the optional MQTT event bridge.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
type Config struct {
	InstanceID string       `yaml:"instance_id"`
	Camera     CameraConfig `yaml:"camera"`
	Detection  Detection    `yaml:"detection"`
	Sink       SinkConfig   `yaml:"sink"`
	Dispatch   Dispatch     `yaml:"dispatch"`
	Live       LiveConfig   `yaml:"live"`
	MQTT       *MQTTConfig  `yaml:"mqtt,omitempty"`
}

// CameraConfig identifies the video source.
type CameraConfig struct {
	// FilePath and RTSPURL are mutually exclusive; RTSPURL takes
	// precedence if both are set (matches this codebase's camera.rtsp_url
	// vs. mock-fallback convention).
	FilePath string `yaml:"file_path"`
	RTSPURL  string `yaml:"rtsp_url"`

	// DecodeWidth/DecodeHeight set the GStreamer pipeline's output
	// resolution. This is independent of the Change Detector's fixed
	// analysis resolution — decoding at full camera resolution just to
	// downsample it again on every frame would be wasted work.
	DecodeWidth  int `yaml:"decode_width"`
	DecodeHeight int `yaml:"decode_height"`
}

// Detection holds the Change Detector and Debouncer tunables of spec §6.
type Detection struct {
	SampleIntervalS     float64 `yaml:"sample_interval"`
	ChangeThreshold     float64 `yaml:"change_threshold"`
	MinChangeIntervalS  float64 `yaml:"min_change_interval"`
	MaxGapS             float64 `yaml:"max_gap"`
	EarlyExitSimilarity float64 `yaml:"early_exit_similarity"`
	Alpha               float64 `yaml:"alpha"`
	BlurSigma           float64 `yaml:"blur_sigma"`
}

// SinkConfig holds the Keyframe Sink tunables.
type SinkConfig struct {
	KeyframeMaxWidth int     `yaml:"keyframe_max_width"`
	JPEGQuality      float64 `yaml:"jpeg_quality"`
	OutputDir        string  `yaml:"output_dir,omitempty"`
	QueueDepth       int     `yaml:"queue_depth"`
}

// Dispatch holds the Dispatch Engine tunables.
type Dispatch struct {
	BatchSize         int     `yaml:"dispatch_batch_size"`
	RateLimitPerMin   int     `yaml:"rate_limit_per_minute"`
	RateLimitPerHour  int     `yaml:"rate_limit_per_hour"`
	VLMTimeoutS       float64 `yaml:"vlm_timeout"`
	EvaluatorTimeoutS float64 `yaml:"evaluator_timeout"`
}

// LiveConfig holds live-monitoring-only tunables.
type LiveConfig struct {
	WindowDurationS      float64 `yaml:"window_duration"`
	FirstWindowDurationS float64 `yaml:"first_window_duration"`
	IdleTimeoutS         float64 `yaml:"idle_timeout"`
}

// MQTTConfig configures the optional outbound event bridge.
type MQTTConfig struct {
	Broker string `yaml:"broker"`
	Topic  string `yaml:"topic"`
	QoS    byte   `yaml:"qos"`
}

// Load reads, parses, defaults, and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
