package session

import (
	"context"
	"testing"
	"time"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/changedetect"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/debounce"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/dispatch"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/keyframesink"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/ratelimit"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/source"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/types"
)

const (
	testWidth  = 16
	testHeight = 12
)

// fakeSource hands out a fixed sequence of synthetic frames, then
// ErrEndOfStream, mirroring this codebase's MockStream pattern adapted
// to the pull-based Source interface.
type fakeSource struct {
	frames []types.Frame
	pos    int
	closed bool
}

func solidFrame(index int64, ts float64, shade byte) types.Frame {
	pixels := make([]byte, testWidth*testHeight*3)
	for i := range pixels {
		pixels[i] = shade
	}
	return types.Frame{Index: index, Timestamp: ts, Width: testWidth, Height: testHeight, Pixels: pixels}
}

func (f *fakeSource) Next(ctx context.Context) (types.Frame, error) {
	select {
	case <-ctx.Done():
		return types.Frame{}, ctx.Err()
	default:
	}
	if f.pos >= len(f.frames) {
		return types.Frame{}, source.ErrEndOfStream
	}
	frame := f.frames[f.pos]
	f.pos++
	return frame, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

type fakeVLM struct{}

func (fakeVLM) Describe(ctx context.Context, images [][]byte, prompt string) ([]string, error) {
	out := make([]string, len(images))
	for i := range images {
		out[i] = "description"
	}
	return out, nil
}

type fakeEvaluator struct {
	body types.ReportBody
}

func (f fakeEvaluator) Evaluate(ctx context.Context, observations []types.Observation, transcript *types.Transcript, policy types.Policy) (types.ReportBody, error) {
	return f.body, nil
}

func testParams(src source.Source) Params {
	engine := dispatch.New(
		dispatch.Config{BatchSize: 2, VLMTimeout: time.Second, EvaluatorTimeout: time.Second},
		fakeVLM{},
		fakeEvaluator{body: types.ReportBody{OverallCompliant: true, Summary: "ok"}},
		ratelimit.New(0, 0),
	)
	return Params{
		ID:             "sess-1",
		Source:         src,
		Policy:         types.Policy{},
		DetectorConfig: changedetect.Config{ChangeThreshold: 0.10, EarlyExitSimilarity: 0.95, Alpha: 0.4, BlurSigma: 1.0},
		DebounceConfig: debounce.Config{MinChangeIntervalS: 0, MaxGapS: 9999},
		SinkConfig:     keyframesink.Config{MaxWidth: 16, JPEGQuality: 0.6, QueueDepth: 8},
		Engine:         engine,
	}
}

func TestFileAnalysisEmitsOneReportThenCompleteExit(t *testing.T) {
	src := &fakeSource{frames: []types.Frame{
		solidFrame(0, 0, 10),
		solidFrame(1, 1, 200),
		solidFrame(2, 2, 200),
	}}

	s := StartFileAnalysis(context.Background(), testParams(src))

	var reports int
	var exitReason types.ExitReason
	for event := range s.Progress() {
		switch event.Kind {
		case types.ProgressReport:
			reports++
		case types.ProgressExit:
			exitReason = event.Exit
		}
	}

	if reports != 1 {
		t.Fatalf("expected exactly 1 report for a file analysis, got %d", reports)
	}
	if exitReason != types.ExitComplete {
		t.Fatalf("expected ExitComplete, got %s", exitReason)
	}
	if !src.closed {
		t.Fatal("expected session to close its source")
	}
}

func TestLiveMonitoringEmitsOneReportPerWindowUntilStopped(t *testing.T) {
	src := &blockingSource{}
	p := testParams(src)
	p.FirstWindowDuration = 20 * time.Millisecond
	p.WindowDuration = 20 * time.Millisecond

	s := StartLiveMonitoring(context.Background(), p)

	var reports int
	var exitReason types.ExitReason
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for event := range s.Progress() {
			switch event.Kind {
			case types.ProgressReport:
				reports++
			case types.ProgressExit:
				exitReason = event.Exit
			}
		}
	}()

	time.Sleep(70 * time.Millisecond)
	s.Stop()

	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("session did not exit after Stop")
	}

	if reports < 2 {
		t.Fatalf("expected at least 2 window reports before stop, got %d", reports)
	}
	if exitReason != types.ExitStopped {
		t.Fatalf("expected ExitStopped, got %s", exitReason)
	}
}

// blockingSource never yields a frame; every Next call simply waits out
// its context, exercising the window-duration timeout path rather than
// the frame-delivery path.
type blockingSource struct{}

func (blockingSource) Next(ctx context.Context) (types.Frame, error) {
	<-ctx.Done()
	return types.Frame{}, ctx.Err()
}

func (blockingSource) Close() error { return nil }

// sequencingEvaluator hands out a fixed ReportBody per call, looping the
// last one once exhausted, so a test can script how an Evaluator's
// answer changes window over window.
type sequencingEvaluator struct {
	bodies []types.ReportBody
	calls  int
}

func (e *sequencingEvaluator) Evaluate(ctx context.Context, observations []types.Observation, transcript *types.Transcript, policy types.Policy) (types.ReportBody, error) {
	i := e.calls
	if i >= len(e.bodies) {
		i = len(e.bodies) - 1
	}
	e.calls++
	return e.bodies[i], nil
}

// TestLiveMonitoringSuppressesIncidentAfterAtLeastOnceSatisfied exercises
// spec.md §4.6's "core correctness property": once an at_least_once rule
// has been reported compliant in one window, a later window's incidents
// must not re-flag it even if the Evaluator (an external collaborator)
// returns a non-compliant verdict for it again.
func TestLiveMonitoringSuppressesIncidentAfterAtLeastOnceSatisfied(t *testing.T) {
	src := &blockingSource{}
	p := testParams(src)
	p.FirstWindowDuration = 15 * time.Millisecond
	p.WindowDuration = 15 * time.Millisecond
	p.Policy = types.Policy{Rules: []types.Rule{
		{ID: "hello", Description: "must say hello", Frequency: types.FrequencyAtLeastOnce},
	}}
	p.Engine = dispatch.New(
		dispatch.Config{BatchSize: 2, VLMTimeout: time.Second, EvaluatorTimeout: time.Second},
		fakeVLM{},
		&sequencingEvaluator{bodies: []types.ReportBody{
			{OverallCompliant: true, Verdicts: []types.Verdict{{RuleID: "hello", Compliant: true}}},
			{OverallCompliant: false, Verdicts: []types.Verdict{{RuleID: "hello", Compliant: false}}},
		}},
		ratelimit.New(0, 0),
	)

	s := StartLiveMonitoring(context.Background(), p)

	var reports []types.Report
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for event := range s.Progress() {
			if event.Kind == types.ProgressReport {
				reports = append(reports, *event.Report)
			}
		}
	}()

	time.Sleep(50 * time.Millisecond)
	s.Stop()

	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("session did not exit after Stop")
	}

	if len(reports) < 2 {
		t.Fatalf("expected at least 2 window reports, got %d", len(reports))
	}
	if len(reports[0].Incidents) != 0 {
		t.Fatalf("window 0 should be compliant with no incidents, got %+v", reports[0].Incidents)
	}
	second := reports[1]
	if len(second.Incidents) != 0 {
		t.Fatalf("window 1 should suppress the already-satisfied at_least_once rule from incidents, got %+v", second.Incidents)
	}
	if len(second.AllVerdicts) != 1 || second.AllVerdicts[0].Compliant {
		t.Fatalf("window 1's AllVerdicts should still record the Evaluator's non-compliant answer, got %+v", second.AllVerdicts)
	}
}
