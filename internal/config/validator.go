package config

import "fmt"

// Validate checks that a loaded, defaulted configuration is internally
// consistent. It never mutates cfg (defaults are applied separately by
// applyDefaults before Validate runs).
func Validate(cfg *Config) error {
	if cfg.Camera.FilePath == "" && cfg.Camera.RTSPURL == "" {
		return fmt.Errorf("camera.file_path or camera.rtsp_url is required")
	}

	d := cfg.Detection
	if d.ChangeThreshold < 0 || d.ChangeThreshold > 1 {
		return fmt.Errorf("detection.change_threshold must be in [0,1]")
	}
	if d.EarlyExitSimilarity < 0 || d.EarlyExitSimilarity > 1 {
		return fmt.Errorf("detection.early_exit_similarity must be in [0,1]")
	}
	if d.Alpha < 0 || d.Alpha > 1 {
		return fmt.Errorf("detection.alpha must be in [0,1]")
	}
	if d.MinChangeIntervalS < 0 {
		return fmt.Errorf("detection.min_change_interval must be >= 0")
	}
	if d.MaxGapS <= 0 {
		return fmt.Errorf("detection.max_gap must be > 0")
	}
	if d.MaxGapS < d.MinChangeIntervalS {
		return fmt.Errorf("detection.max_gap must be >= detection.min_change_interval")
	}

	s := cfg.Sink
	if s.KeyframeMaxWidth <= 0 {
		return fmt.Errorf("sink.keyframe_max_width must be > 0")
	}
	if s.JPEGQuality <= 0 || s.JPEGQuality > 1 {
		return fmt.Errorf("sink.jpeg_quality must be in (0,1]")
	}
	if s.QueueDepth <= 0 {
		return fmt.Errorf("sink.queue_depth must be > 0")
	}

	disp := cfg.Dispatch
	if disp.BatchSize <= 0 || disp.BatchSize > 5 {
		return fmt.Errorf("dispatch.dispatch_batch_size must be in [1,5]")
	}
	if disp.RateLimitPerMin <= 0 {
		return fmt.Errorf("dispatch.rate_limit_per_minute must be > 0")
	}
	if disp.RateLimitPerHour <= 0 {
		return fmt.Errorf("dispatch.rate_limit_per_hour must be > 0")
	}

	l := cfg.Live
	if l.WindowDurationS <= 0 {
		return fmt.Errorf("live.window_duration must be > 0")
	}
	if l.FirstWindowDurationS <= 0 {
		return fmt.Errorf("live.first_window_duration must be > 0")
	}

	if cfg.MQTT != nil && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is configured")
	}

	return nil
}
