package config

// applyDefaults fills in the defaults named in spec §6 for any field left
// at its YAML zero value.
func applyDefaults(cfg *Config) {
	cam := &cfg.Camera
	if cam.DecodeWidth == 0 {
		cam.DecodeWidth = 320
	}
	if cam.DecodeHeight == 0 {
		cam.DecodeHeight = 240
	}

	d := &cfg.Detection
	if d.SampleIntervalS == 0 {
		d.SampleIntervalS = 0.3
	}
	if d.ChangeThreshold == 0 {
		d.ChangeThreshold = 0.10
	}
	if d.MinChangeIntervalS == 0 {
		d.MinChangeIntervalS = 0.5
	}
	if d.MaxGapS == 0 {
		d.MaxGapS = 10.0
	}
	if d.EarlyExitSimilarity == 0 {
		d.EarlyExitSimilarity = 0.95
	}
	if d.Alpha == 0 {
		d.Alpha = 0.4
	}
	if d.BlurSigma == 0 {
		d.BlurSigma = 1.0
	}

	s := &cfg.Sink
	if s.KeyframeMaxWidth == 0 {
		s.KeyframeMaxWidth = 512
	}
	if s.JPEGQuality == 0 {
		s.JPEGQuality = 0.6
	}
	if s.QueueDepth == 0 {
		s.QueueDepth = 16
	}

	disp := &cfg.Dispatch
	if disp.BatchSize == 0 {
		disp.BatchSize = 5
	}
	if disp.RateLimitPerMin == 0 {
		disp.RateLimitPerMin = 30
	}
	if disp.RateLimitPerHour == 0 {
		disp.RateLimitPerHour = 500
	}
	if disp.VLMTimeoutS == 0 {
		disp.VLMTimeoutS = 60
	}
	if disp.EvaluatorTimeoutS == 0 {
		disp.EvaluatorTimeoutS = 30
	}

	l := &cfg.Live
	if l.WindowDurationS == 0 {
		l.WindowDurationS = 6.0
	}
	if l.FirstWindowDurationS == 0 {
		l.FirstWindowDurationS = 2.0
	}
	if l.IdleTimeoutS == 0 {
		l.IdleTimeoutS = 5.0
	}
}
