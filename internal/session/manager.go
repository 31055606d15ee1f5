// Package session implements the Session Manager: it owns one
// analysis's lifecycle end to end, wiring the Frame Source, Capture
// Ring, Change Detector, Debouncer, Keyframe Sink, and Dispatch Engine
// together and exposing a progress stream.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/capturering"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/changedetect"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/debounce"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/dispatch"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/eventbus"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/keyframesink"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/source"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/types"
)

// Params configures a new Session. Source, Engine, and Policy are
// required; Bridge defaults to a no-op publisher.
type Params struct {
	ID     string
	Source source.Source
	Policy types.Policy

	DetectorConfig changedetect.Config
	DebounceConfig debounce.Config
	SinkConfig     keyframesink.Config
	Engine         *dispatch.Engine
	Bridge         eventbus.Publisher

	// WindowDuration and FirstWindowDuration only matter for live
	// sessions; file sessions run to completion as a single window.
	WindowDuration      time.Duration
	FirstWindowDuration time.Duration
}

// Session owns one monitoring session's lifecycle: a file analysis runs
// to completion and emits a single Report, a live monitoring session
// runs until Stop and emits one Report per window.
type Session struct {
	id     string
	kind   types.SessionKind
	src    source.Source
	policy types.Policy

	detector  *changedetect.Detector
	debouncer *debounce.Debouncer
	sink      *keyframesink.Sink
	sinkCfg   keyframesink.Config
	engine    *dispatch.Engine
	ring      *capturering.Ring

	windowDuration      time.Duration
	firstWindowDuration time.Duration
	priorCtx            *dispatch.PriorContext

	bridge eventbus.Publisher
	events chan types.ProgressEvent

	srcErrMu sync.Mutex
	srcErr   error

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *Session) setSrcErr(err error) {
	s.srcErrMu.Lock()
	defer s.srcErrMu.Unlock()
	if s.srcErr == nil {
		s.srcErr = err
	}
}

func (s *Session) getSrcErr() error {
	s.srcErrMu.Lock()
	defer s.srcErrMu.Unlock()
	return s.srcErr
}

func newSession(p Params, kind types.SessionKind) *Session {
	bridge := p.Bridge
	if bridge == nil {
		bridge = eventbus.NoopPublisher{}
	}

	s := &Session{
		id:                  p.ID,
		kind:                kind,
		src:                 p.Source,
		policy:              p.Policy,
		detector:            changedetect.New(p.DetectorConfig),
		debouncer:           debounce.New(p.DebounceConfig),
		sink:                keyframesink.New(p.SinkConfig),
		sinkCfg:             p.SinkConfig,
		engine:              p.Engine,
		windowDuration:      p.WindowDuration,
		firstWindowDuration: p.FirstWindowDuration,
		bridge:              bridge,
		events:              make(chan types.ProgressEvent, 4),
	}
	if kind == types.SessionLive {
		s.ring = capturering.New()
		s.priorCtx = dispatch.NewPriorContext()
	}
	return s
}

// StartFileAnalysis creates and starts a bounded, single-window session
// over a file Source.
func StartFileAnalysis(ctx context.Context, p Params) *Session {
	s := newSession(p, types.SessionFile)
	s.start(ctx)
	return s
}

// StartLiveMonitoring creates and starts an indefinite, multi-window
// session over a live Source.
func StartLiveMonitoring(ctx context.Context, p Params) *Session {
	s := newSession(p, types.SessionLive)
	s.start(ctx)
	return s
}

// Progress returns the Session's ProgressEvent stream. It closes once
// the session has emitted its terminal exit event.
func (s *Session) Progress() <-chan types.ProgressEvent {
	return s.events
}

// Stop cooperatively cancels the session. All components observe
// cancellation at their next suspension point. A VLM or evaluator call in
// flight receives the canceled context, so it is not left to run to
// completion, and the Report of the window being dispatched is discarded.
// Stop does not block; read Progress to know when teardown has finished.
func (s *Session) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Wait blocks until the session's goroutines have fully exited.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.events)
		defer s.teardown()

		if s.kind == types.SessionFile {
			s.runFile(runCtx)
		} else {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.runGrabber(runCtx)
			}()
			s.runLive(runCtx)
		}
	}()
}

func (s *Session) teardown() {
	if err := s.src.Close(); err != nil {
		slog.Warn("session source close failed", "session_id", s.id, "error", err)
	}
	s.sink.Close()
	s.bridge.Close()
	if s.ring != nil {
		s.ring.Close()
	}
}

// detect runs one frame through the detector and gap policy, returning
// the admitted KeyframeCandidate if any.
func (s *Session) detect(f types.Frame) (types.KeyframeCandidate, bool) {
	cand, ok := s.detector.Observe(f)
	var candPtr *types.KeyframeCandidate
	if ok {
		candPtr = &cand
	}
	return s.debouncer.Evaluate(f, candPtr)
}

// admit turns an admitted candidate into an Observation and hands its
// JPEG to the async disk writer.
func (s *Session) admit(cand types.KeyframeCandidate) (types.Observation, bool) {
	obs, err := keyframesink.Encode(s.sinkCfg, cand)
	if err != nil {
		slog.Warn("keyframe encode failed", "session_id", s.id, "index", cand.Frame.Index, "error", err)
		return types.Observation{}, false
	}
	s.sink.Submit(keyframesink.Item{SessionID: s.id, Index: obs.Index, JPEG: obs.JPEG})
	return obs, true
}

func (s *Session) emitReport(windowID int64, report types.Report) {
	report.VideoID = s.id
	event := types.ProgressEvent{SessionID: s.id, Kind: types.ProgressReport, WindowID: windowID, Report: &report, At: time.Now()}
	s.publish(event)
}

func (s *Session) emitExit(reason types.ExitReason, err error) {
	event := types.ProgressEvent{SessionID: s.id, Kind: types.ProgressExit, Exit: reason, Err: err, At: time.Now()}
	s.publish(event)
}

func (s *Session) publish(event types.ProgressEvent) {
	s.events <- event
	s.bridge.Publish(event)
}

// classifyExit maps a Source error to an ExitReason. Anything that isn't
// specifically ErrUnreadableSource is folded into a generic error exit
// rather than claiming a source problem that may not be one.
func classifyExit(err error) types.ExitReason {
	if errors.Is(err, source.ErrUnreadableSource) {
		return types.ExitSourceUnreachable
	}
	return types.ExitReason(types.ExitErrorPrefix + err.Error())
}
