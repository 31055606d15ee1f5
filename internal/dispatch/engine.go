// Package dispatch implements the Dispatch Engine: it drives the
// Idle → Describing → Evaluating → Reporting state machine per analysis
// window, enforcing at-most-one-in-flight VLM/evaluator calls, a
// process-wide rate limit, and bounded retries on transient failures.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/ratelimit"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/types"
)

// Config holds the engine's tunables, sourced from config.Dispatch.
type Config struct {
	BatchSize        int
	VLMTimeout       time.Duration
	EvaluatorTimeout time.Duration
}

// Engine is shared by every window of a single session (and, via its
// Limiter, across every session in the process). Process serializes
// Describing and Evaluating behind a mutex: this is both the session's
// at-most-one-in-flight guarantee and the mechanism that makes window
// N+1's dispatch wait for window N's, per spec.md §4.7's overlapping
// discipline.
type Engine struct {
	cfg       Config
	vlm       types.VLM
	evaluator types.Evaluator
	limiter   *ratelimit.Limiter

	mu sync.Mutex
}

// New creates an Engine. limiter may be shared across sessions; it is
// the process-wide rate limit spec.md §4.6 describes.
func New(cfg Config, vlm types.VLM, evaluator types.Evaluator, limiter *ratelimit.Limiter) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	return &Engine{cfg: cfg, vlm: vlm, evaluator: evaluator, limiter: limiter}
}

// WindowInput is everything one call to Process needs.
type WindowInput struct {
	VideoID      string
	WindowStart  time.Time
	Observations []types.Observation
	Transcript   *types.Transcript
	Policy       types.Policy
	PriorContext string

	// SatisfiedOnce names at_least_once rule IDs a prior window already
	// reported compliant. incidentsFrom suppresses these from Incidents
	// even if the Evaluator re-emits a verdict for them; AllVerdicts
	// still records whatever the Evaluator returned, per spec.md §9's
	// "suppressed from incidents, never erased from the record" reading
	// of the at_least_once open question.
	SatisfiedOnce map[string]bool
}

// Process runs the full Describing → Evaluating → Reporting pipeline for
// one window. It never returns an error: persistent failures are folded
// into the returned Report's Error field per spec.md §4.6's "do not
// raise" contract. Process blocks for as long as a prior window's
// dispatch (on the same Engine) is still running.
func (e *Engine) Process(ctx context.Context, in WindowInput) types.Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	observations := in.Observations

	if err := e.describe(ctx, observations, in.Policy); err != nil {
		return partialReport(in.VideoID, observations, in.Transcript, err)
	}

	policyWithContext := in.Policy
	policyWithContext.PriorContext = in.PriorContext

	body, err := e.evaluateWithRetry(ctx, observations, in.Transcript, policyWithContext)
	if err != nil {
		return partialReport(in.VideoID, observations, in.Transcript, err)
	}

	verdicts := body.Verdicts
	enforceChecklistExpiry(verdicts, time.Now())

	return types.Report{
		VideoID:             in.VideoID,
		Summary:             body.Summary,
		OverallCompliant:    body.OverallCompliant,
		AllVerdicts:         verdicts,
		Incidents:           incidentsFrom(verdicts, in.SatisfiedOnce),
		Recommendations:     body.Recommendations,
		FrameObservations:   observations,
		Transcript:          in.Transcript,
		AnalyzedAt:          time.Now(),
		TotalFramesAnalyzed: int64(len(observations)),
		VideoDuration:       windowDuration(observations),
	}
}

// describe batches observations into groups of at most cfg.BatchSize and
// fills each Observation's Description in place. A transient VLM failure
// is retried with the same exponential backoff evaluateWithRetry uses.
func (e *Engine) describe(ctx context.Context, observations []types.Observation, policy types.Policy) error {
	if len(observations) == 0 {
		return nil
	}
	prompt := buildPrompt(policy)

	for start := 0; start < len(observations); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(observations) {
			end = len(observations)
		}
		batch := observations[start:end]

		images := make([][]byte, len(batch))
		for i, obs := range batch {
			images[i] = obs.JPEG
		}

		var descriptions []string
		var err error
		for attempt := 0; ; attempt++ {
			if err = e.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit wait: %w", err)
			}
			descCtx, cancel := context.WithTimeout(ctx, e.cfg.VLMTimeout)
			descriptions, err = e.vlm.Describe(descCtx, images, prompt)
			cancel()
			if err == nil || !isTransient(err) || attempt >= retryMaxAttempt {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay(attempt + 1)):
			}
		}
		if err != nil {
			return fmt.Errorf("describe batch [%d:%d]: %w", start, end, err)
		}
		for i := 0; i < len(batch) && i < len(descriptions); i++ {
			observations[start+i].Description = descriptions[i]
		}
	}
	return nil
}

// evaluateWithRetry calls the Evaluator. An EvaluatorParseFailure gets
// exactly one immediate retry with a stricter prompt, per spec §4.6 and
// §7's EvaluatorParseFailure kind — a narrower policy than the general
// exponential-backoff retry (base 1s, factor 2, cap 30s, 3 attempts)
// transient VLM/network failures get.
func (e *Engine) evaluateWithRetry(ctx context.Context, observations []types.Observation, transcript *types.Transcript, policy types.Policy) (types.ReportBody, error) {
	body, err := e.callEvaluator(ctx, observations, transcript, policy)
	if err == nil {
		return body, nil
	}
	if isParseFailure(err) {
		return e.retryEvaluatorStricter(ctx, observations, transcript, policy)
	}
	if !isTransient(err) {
		return types.ReportBody{}, err
	}

	lastErr := err
	for attempt := 1; attempt <= retryMaxAttempt; attempt++ {
		select {
		case <-ctx.Done():
			return types.ReportBody{}, ctx.Err()
		case <-time.After(retryDelay(attempt)):
		}

		body, err = e.callEvaluator(ctx, observations, transcript, policy)
		if err == nil {
			return body, nil
		}

		lastErr = err
		if isParseFailure(err) {
			return e.retryEvaluatorStricter(ctx, observations, transcript, policy)
		}
		if !isTransient(err) {
			return types.ReportBody{}, err
		}
	}
	return types.ReportBody{}, fmt.Errorf("evaluator exhausted %d attempts: %w", retryMaxAttempt, lastErr)
}

// retryEvaluatorStricter is the single EvaluatorParseFailure retry: it
// re-runs Evaluate once against a policy whose CustomPrompt has been
// sharpened to demand strictly valid structured output, and gives up
// (with the second failure wrapped) if that also fails, per spec §7:
// "retry once with a stricter prompt; on second failure emit a partial
// Report flagging the error."
func (e *Engine) retryEvaluatorStricter(ctx context.Context, observations []types.Observation, transcript *types.Transcript, policy types.Policy) (types.ReportBody, error) {
	stricter := policy
	stricter.CustomPrompt = stricterPrompt(policy.CustomPrompt)

	body, err := e.callEvaluator(ctx, observations, transcript, stricter)
	if err == nil {
		return body, nil
	}
	return types.ReportBody{}, fmt.Errorf("evaluator structured output still unparseable after stricter retry: %w", err)
}

// callEvaluator acquires the process-wide rate limit and runs one bounded
// Evaluate call.
func (e *Engine) callEvaluator(ctx context.Context, observations []types.Observation, transcript *types.Transcript, policy types.Policy) (types.ReportBody, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return types.ReportBody{}, err
	}
	evalCtx, cancel := context.WithTimeout(ctx, e.cfg.EvaluatorTimeout)
	defer cancel()
	return e.evaluator.Evaluate(evalCtx, observations, transcript, policy)
}

func stricterPrompt(base string) string {
	const demand = "Respond with strictly valid JSON matching the required schema. Do not include commentary, markdown fences, or any text outside the JSON object."
	if base == "" {
		return demand
	}
	return base + " " + demand
}

func partialReport(videoID string, observations []types.Observation, transcript *types.Transcript, err error) types.Report {
	return types.Report{
		VideoID:             videoID,
		Summary:             fmt.Sprintf("error: %s", err.Error()),
		FrameObservations:   observations,
		Transcript:          transcript,
		AnalyzedAt:          time.Now(),
		TotalFramesAnalyzed: int64(len(observations)),
		VideoDuration:       windowDuration(observations),
		Error:               err.Error(),
	}
}

// incidentsFrom extracts non-compliant verdicts for the Report's
// Incidents field, leaving every verdict (compliant or not) in
// AllVerdicts for auditability. A rule already in satisfiedOnce is never
// surfaced as an incident again: it is an at_least_once rule that some
// prior window already satisfied, and an Evaluator re-flagging it (e.g.
// because the phrase wasn't uttered again this window) is exactly the
// mis-fire spec.md §4.6 calls out.
func incidentsFrom(verdicts []types.Verdict, satisfiedOnce map[string]bool) []types.Verdict {
	var out []types.Verdict
	for _, v := range verdicts {
		if !v.Compliant && !satisfiedOnce[v.RuleID] {
			out = append(out, v)
		}
	}
	return out
}

// enforceChecklistExpiry re-checks each checklist-mode verdict's
// ExpiresAt against this window's evidence timestamp at Verdict-build
// time, rather than trusting a status the evaluator set against a
// (possibly stale) window-open timestamp.
func enforceChecklistExpiry(verdicts []types.Verdict, evidenceAt time.Time) {
	for i := range verdicts {
		v := &verdicts[i]
		if v.Mode != types.ModeChecklist || v.ExpiresAt.IsZero() {
			continue
		}
		if evidenceAt.After(v.ExpiresAt) {
			v.Status = types.ChecklistExpired
			v.Compliant = false
		}
	}
}

func windowDuration(observations []types.Observation) float64 {
	if len(observations) == 0 {
		return 0
	}
	min, max := observations[0].Timestamp, observations[0].Timestamp
	for _, o := range observations {
		if o.Timestamp < min {
			min = o.Timestamp
		}
		if o.Timestamp > max {
			max = o.Timestamp
		}
	}
	return max - min
}

func buildPrompt(policy types.Policy) string {
	if policy.CustomPrompt != "" {
		return policy.CustomPrompt
	}
	return "Describe what is visible in this image, focusing on people, actions, and any safety equipment or signage."
}
