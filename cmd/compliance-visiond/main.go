// Command compliance-visiond wires a video Source and a Policy into a
// single Session and streams its progress to stdout, mirroring it to MQTT
// if configured. VLM/Evaluator/Transcriber wire formats are deliberately
// not implemented here (out of scope per the engine's design notes): the
// defaults below are no-op collaborators a real deployment is expected to
// replace with its own client.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/changedetect"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/config"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/debounce"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/dispatch"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/eventbus"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/keyframesink"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/ratelimit"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/session"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/source"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/types"
)

const defaultConfigPath = "config/compliance-vision.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	policyPath := flag.String("policy", "", "Path to a Policy JSON file (required)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if *policyPath == "" {
		slog.Error("-policy is required")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	policy, err := loadPolicy(*policyPath)
	if err != nil {
		slog.Error("failed to load policy", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sess, err := startSession(ctx, cfg, policy)
	if err != nil {
		slog.Error("failed to start session", "error", err)
		os.Exit(1)
	}

	go func() {
		for event := range sess.Progress() {
			logProgress(event)
		}
	}()

	sig := <-sigChan
	slog.Info("received shutdown signal", "signal", sig)
	sess.Stop()
	sess.Wait()
	slog.Info("compliance-visiond stopped")
}

func startSession(ctx context.Context, cfg *config.Config, policy types.Policy) (*session.Session, error) {
	uri := cfg.Camera.RTSPURL
	if uri == "" {
		uri = cfg.Camera.FilePath
	}

	src, err := source.Open(ctx, uri, source.Options{
		Width:           cfg.Camera.DecodeWidth,
		Height:          cfg.Camera.DecodeHeight,
		SampleIntervalS: cfg.Detection.SampleIntervalS,
		IdleTimeoutS:    cfg.Live.IdleTimeoutS,
	})
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}

	var bridge eventbus.Publisher = eventbus.NoopPublisher{}
	if cfg.MQTT != nil {
		b, err := eventbus.NewMQTTBridge(*cfg.MQTT, cfg.InstanceID)
		if err != nil {
			slog.Warn("mqtt bridge disabled", "error", err)
		} else {
			bridge = b
		}
	}

	limiter := ratelimit.New(cfg.Dispatch.RateLimitPerMin, cfg.Dispatch.RateLimitPerHour)
	engine := dispatch.New(
		dispatch.Config{
			BatchSize:        cfg.Dispatch.BatchSize,
			VLMTimeout:       time.Duration(cfg.Dispatch.VLMTimeoutS * float64(time.Second)),
			EvaluatorTimeout: time.Duration(cfg.Dispatch.EvaluatorTimeoutS * float64(time.Second)),
		},
		noopVLM{},
		noopEvaluator{},
		limiter,
	)

	params := session.Params{
		ID:     fmt.Sprintf("%s-%s", cfg.InstanceID, uuid.New().String()),
		Source: src,
		Policy: policy,
		DetectorConfig: changedetect.Config{
			ChangeThreshold:     cfg.Detection.ChangeThreshold,
			EarlyExitSimilarity: cfg.Detection.EarlyExitSimilarity,
			Alpha:               cfg.Detection.Alpha,
			BlurSigma:           cfg.Detection.BlurSigma,
		},
		DebounceConfig: debounce.Config{
			MinChangeIntervalS: cfg.Detection.MinChangeIntervalS,
			MaxGapS:            cfg.Detection.MaxGapS,
		},
		SinkConfig: keyframesink.Config{
			MaxWidth:    cfg.Sink.KeyframeMaxWidth,
			JPEGQuality: cfg.Sink.JPEGQuality,
			OutputDir:   cfg.Sink.OutputDir,
			QueueDepth:  cfg.Sink.QueueDepth,
		},
		Engine:              engine,
		Bridge:              bridge,
		WindowDuration:      time.Duration(cfg.Live.WindowDurationS * float64(time.Second)),
		FirstWindowDuration: time.Duration(cfg.Live.FirstWindowDurationS * float64(time.Second)),
	}

	if cfg.Camera.RTSPURL != "" {
		return session.StartLiveMonitoring(ctx, params), nil
	}
	return session.StartFileAnalysis(ctx, params), nil
}

func loadPolicy(path string) (types.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Policy{}, err
	}
	var policy types.Policy
	if err := json.Unmarshal(data, &policy); err != nil {
		return types.Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	return policy, nil
}

func logProgress(event types.ProgressEvent) {
	if event.Kind == types.ProgressExit {
		slog.Info("session exited", "session_id", event.SessionID, "reason", event.Exit)
		return
	}
	slog.Info("window report",
		"session_id", event.SessionID,
		"window_id", event.WindowID,
		"overall_compliant", event.Report.OverallCompliant,
		"incidents", len(event.Report.Incidents),
	)
}

// noopVLM and noopEvaluator satisfy the VLM/Evaluator collaborator
// interfaces without committing to a wire format; operators wire their
// own client in place of these (see package doc).
type noopVLM struct{}

func (noopVLM) Describe(ctx context.Context, images [][]byte, prompt string) ([]string, error) {
	out := make([]string, len(images))
	return out, nil
}

type noopEvaluator struct{}

func (noopEvaluator) Evaluate(ctx context.Context, observations []types.Observation, transcript *types.Transcript, policy types.Policy) (types.ReportBody, error) {
	return types.ReportBody{OverallCompliant: true, Summary: "no evaluator configured"}, nil
}
