package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/ratelimit"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/types"
)

type fakeVLM struct {
	calls int
	err   error
}

func (f *fakeVLM) Describe(ctx context.Context, images [][]byte, prompt string) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]string, len(images))
	for i := range images {
		out[i] = "a person at a workstation"
	}
	return out, nil
}

type fakeEvaluator struct {
	calls     int
	failUntil int
	err       error
	body      types.ReportBody
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, observations []types.Observation, transcript *types.Transcript, policy types.Policy) (types.ReportBody, error) {
	f.calls++
	if f.calls <= f.failUntil {
		return types.ReportBody{}, f.err
	}
	return f.body, nil
}

func testEngine(vlm types.VLM, evaluator types.Evaluator) *Engine {
	return New(Config{BatchSize: 2, VLMTimeout: time.Second, EvaluatorTimeout: time.Second}, vlm, evaluator, ratelimit.New(0, 0))
}

func observationsWithJPEG(n int) []types.Observation {
	out := make([]types.Observation, n)
	for i := range out {
		out[i] = types.Observation{Index: int64(i), Timestamp: float64(i), JPEG: []byte{0xFF, 0xD8}}
	}
	return out
}

func TestProcessFillsDescriptionsAndVerdicts(t *testing.T) {
	vlm := &fakeVLM{}
	evaluator := &fakeEvaluator{body: types.ReportBody{
		Summary:          "all clear",
		OverallCompliant: true,
		Verdicts:         []types.Verdict{{RuleID: "r1", Compliant: true}},
	}}
	e := testEngine(vlm, evaluator)

	obs := observationsWithJPEG(3)
	report := e.Process(context.Background(), WindowInput{VideoID: "v1", Observations: obs, Policy: types.Policy{}})

	if report.Error != "" {
		t.Fatalf("unexpected report error: %s", report.Error)
	}
	if vlm.calls != 2 {
		t.Fatalf("expected 2 batched describe calls for 3 observations at batch size 2, got %d", vlm.calls)
	}
	for _, o := range report.FrameObservations {
		if o.Description == "" {
			t.Fatal("expected every observation to have a description")
		}
	}
	if len(report.AllVerdicts) != 1 {
		t.Fatalf("expected 1 verdict, got %d", len(report.AllVerdicts))
	}
}

func TestProcessRetriesTransientEvaluatorFailure(t *testing.T) {
	vlm := &fakeVLM{}
	evaluator := &fakeEvaluator{failUntil: 2, err: errors.New("request timeout"), body: types.ReportBody{OverallCompliant: true}}
	e := testEngine(vlm, evaluator)
	e.cfg.EvaluatorTimeout = 100 * time.Millisecond

	obs := observationsWithJPEG(1)
	report := e.Process(context.Background(), WindowInput{VideoID: "v1", Observations: obs})

	if report.Error != "" {
		t.Fatalf("expected eventual success, got error: %s", report.Error)
	}
	if evaluator.calls != 3 {
		t.Fatalf("expected 3 evaluator calls (2 failures + 1 success), got %d", evaluator.calls)
	}
}

func TestProcessGivesUpAfterPersistentTransientFailure(t *testing.T) {
	vlm := &fakeVLM{}
	evaluator := &fakeEvaluator{failUntil: 99, err: errors.New("503 service unavailable")}
	e := testEngine(vlm, evaluator)

	obs := observationsWithJPEG(1)
	report := e.Process(context.Background(), WindowInput{VideoID: "v1", Observations: obs})

	if report.Error == "" {
		t.Fatal("expected a partial report with an error after exhausting retries")
	}
	if evaluator.calls != retryMaxAttempt+1 {
		t.Fatalf("expected %d evaluator calls, got %d", retryMaxAttempt+1, evaluator.calls)
	}
	if len(report.FrameObservations) != 1 {
		t.Fatal("expected the partial report to still carry observations")
	}
}

func TestProcessDoesNotRetryPersistentFailure(t *testing.T) {
	vlm := &fakeVLM{}
	evaluator := &fakeEvaluator{failUntil: 99, err: errors.New("invalid policy: missing rules")}
	e := testEngine(vlm, evaluator)

	obs := observationsWithJPEG(1)
	report := e.Process(context.Background(), WindowInput{VideoID: "v1", Observations: obs})

	if report.Error == "" {
		t.Fatal("expected a partial report with an error")
	}
	if evaluator.calls != 1 {
		t.Fatalf("expected exactly 1 evaluator call for a non-transient error, got %d", evaluator.calls)
	}
}

// parseFailureEvaluator always returns ErrEvaluatorParseFailure and
// records the CustomPrompt it was called with, so a test can assert the
// retry actually used a stricter prompt.
type parseFailureEvaluator struct {
	calls   int
	prompts []string
}

func (f *parseFailureEvaluator) Evaluate(ctx context.Context, observations []types.Observation, transcript *types.Transcript, policy types.Policy) (types.ReportBody, error) {
	f.calls++
	f.prompts = append(f.prompts, policy.CustomPrompt)
	return types.ReportBody{}, fmt.Errorf("evaluator returned malformed json: %w", ErrEvaluatorParseFailure)
}

// TestProcessRetriesEvaluatorParseFailureOnceWithStricterPromptThenGivesUp
// mirrors spec.md scenario F: a malformed structured-output response gets
// exactly one retry with a stricter prompt; if that also fails, the
// session still gets a non-empty partial Report.
func TestProcessRetriesEvaluatorParseFailureOnceWithStricterPromptThenGivesUp(t *testing.T) {
	vlm := &fakeVLM{}
	evaluator := &parseFailureEvaluator{}
	e := testEngine(vlm, evaluator)

	obs := observationsWithJPEG(1)
	report := e.Process(context.Background(), WindowInput{
		VideoID:      "v1",
		Observations: obs,
		Policy:       types.Policy{CustomPrompt: "base prompt"},
	})

	if evaluator.calls != 2 {
		t.Fatalf("expected exactly 1 retry (2 calls total) on a parse failure, got %d", evaluator.calls)
	}
	if len(evaluator.prompts) != 2 || evaluator.prompts[1] == evaluator.prompts[0] {
		t.Fatalf("expected the retry to use a stricter prompt than the first attempt, got %+v", evaluator.prompts)
	}
	if !strings.Contains(report.Summary, "error") {
		t.Fatalf("expected the partial report's summary to carry an error marker, got %q", report.Summary)
	}
	if report.Error == "" {
		t.Fatal("expected the partial report's Error field to be populated")
	}
	if len(report.AllVerdicts) != 0 {
		t.Fatalf("expected no verdicts on a persistent parse failure, got %+v", report.AllVerdicts)
	}
}

// TestProcessRecoversFromEvaluatorParseFailureOnStricterRetry covers the
// other half of scenario F's retry policy: a malformed first response
// followed by a valid stricter-prompt response succeeds without falling
// through to a partial Report.
func TestProcessRecoversFromEvaluatorParseFailureOnStricterRetry(t *testing.T) {
	vlm := &fakeVLM{}
	evaluator := &recoveringParseFailureEvaluator{
		body: types.ReportBody{OverallCompliant: true, Summary: "ok", Verdicts: []types.Verdict{{RuleID: "r1", Compliant: true}}},
	}
	e := testEngine(vlm, evaluator)

	obs := observationsWithJPEG(1)
	report := e.Process(context.Background(), WindowInput{VideoID: "v1", Observations: obs})

	if report.Error != "" {
		t.Fatalf("expected the stricter retry to succeed, got error: %s", report.Error)
	}
	if evaluator.calls != 2 {
		t.Fatalf("expected exactly 2 evaluator calls, got %d", evaluator.calls)
	}
	if len(report.AllVerdicts) != 1 {
		t.Fatalf("expected the recovered report to carry the evaluator's verdicts, got %+v", report.AllVerdicts)
	}
}

type recoveringParseFailureEvaluator struct {
	calls int
	body  types.ReportBody
}

func (f *recoveringParseFailureEvaluator) Evaluate(ctx context.Context, observations []types.Observation, transcript *types.Transcript, policy types.Policy) (types.ReportBody, error) {
	f.calls++
	if f.calls == 1 {
		return types.ReportBody{}, fmt.Errorf("evaluator returned malformed json: %w", ErrEvaluatorParseFailure)
	}
	return f.body, nil
}

func TestDescribeFailurePreventsEvaluate(t *testing.T) {
	vlm := &fakeVLM{err: errors.New("vlm unavailable")}
	evaluator := &fakeEvaluator{}
	e := testEngine(vlm, evaluator)

	obs := observationsWithJPEG(1)
	report := e.Process(context.Background(), WindowInput{VideoID: "v1", Observations: obs})

	if report.Error == "" {
		t.Fatal("expected a partial report when describe fails")
	}
	if evaluator.calls != 0 {
		t.Fatalf("expected evaluator not to be called when describe fails, got %d calls", evaluator.calls)
	}
}

func TestEnforceChecklistExpiryFlagsStaleVerdict(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC)
	verdicts := []types.Verdict{
		{RuleID: "badge", Mode: types.ModeChecklist, Compliant: true, Status: types.ChecklistCompliant, ExpiresAt: now.Add(-time.Minute)},
	}

	enforceChecklistExpiry(verdicts, now)

	if verdicts[0].Status != types.ChecklistExpired {
		t.Fatalf("expected status expired, got %s", verdicts[0].Status)
	}
	if verdicts[0].Compliant {
		t.Fatal("expected expired checklist verdict to be non-compliant")
	}
}

func TestIncidentsFromExcludesCompliantVerdicts(t *testing.T) {
	verdicts := []types.Verdict{
		{RuleID: "r1", Compliant: true},
		{RuleID: "r2", Compliant: false},
	}
	incidents := incidentsFrom(verdicts, nil)
	if len(incidents) != 1 || incidents[0].RuleID != "r2" {
		t.Fatalf("expected exactly the non-compliant verdict, got %+v", incidents)
	}
}

func TestIncidentsFromSuppressesSatisfiedOnceRules(t *testing.T) {
	verdicts := []types.Verdict{
		{RuleID: "hello", Compliant: false},
		{RuleID: "helmet", Compliant: false},
	}
	satisfiedOnce := map[string]bool{"hello": true}

	incidents := incidentsFrom(verdicts, satisfiedOnce)
	if len(incidents) != 1 || incidents[0].RuleID != "helmet" {
		t.Fatalf("expected only the unsuppressed rule as an incident, got %+v", incidents)
	}
}
