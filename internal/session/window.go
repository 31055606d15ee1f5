package session

import (
	"context"
	"errors"
	"time"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/dispatch"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/source"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/types"
)

// runFile drives a bounded file analysis: pull frames until EndOfStream,
// feed each through detection, and dispatch the whole accumulated
// observation set as the session's single window.
func (s *Session) runFile(ctx context.Context) {
	var observations []types.Observation

	for {
		if ctx.Err() != nil {
			s.emitExit(types.ExitStopped, nil)
			return
		}

		f, err := s.src.Next(ctx)
		if err != nil {
			if errors.Is(err, source.ErrEndOfStream) {
				if cand, ok := s.detector.Finish(); ok {
					if obs, ok := s.admit(cand); ok {
						observations = append(observations, obs)
					}
				}
				break
			}
			if errors.Is(err, source.ErrDecodeError) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				s.emitExit(types.ExitStopped, nil)
				return
			}
			s.emitExit(classifyExit(err), err)
			return
		}

		if cand, ok := s.detect(f); ok {
			if obs, ok := s.admit(cand); ok {
				observations = append(observations, obs)
			}
		}
	}

	report := s.engine.Process(ctx, dispatch.WindowInput{VideoID: s.id, Observations: observations, Policy: s.policy})
	if ctx.Err() != nil {
		s.emitExit(types.ExitStopped, nil)
		return
	}
	s.emitReport(0, report)
	s.emitExit(types.ExitComplete, nil)
}

// windowJob is one item handed from the accumulator goroutine to the
// dispatcher goroutine in runLive. exit is non-nil only for the final
// item: the accumulator has stopped (cleanly or on error) and no more
// windows follow.
type windowJob struct {
	id           int64
	observations []types.Observation
	exit         *windowExit
}

type windowExit struct {
	reason types.ExitReason
	err    error
}

// runLive drives an indefinite live monitoring session. Per spec.md
// §4.7's overlapping discipline, window accumulation must not stall for
// an entire dispatch round-trip (a VLM/evaluator call can run tens of
// seconds — far longer than max_gap's 10s default — and detection
// pausing for that long would leave real blind spots). So accumulation
// and dispatch run on two goroutines, handed off through an unbuffered
// channel: accumulateWindows keeps building window N+1 the instant
// window N is handed off, with no need to wait for N's Report; a full
// window always finishes accumulating even if the channel send that
// follows has to wait for the dispatcher to catch up. The channel's FIFO
// order is what keeps Reports emitted in window-index order, and the
// Engine's own internal mutex (there is exactly one dispatcher goroutine
// per session calling Process) is what keeps Describing/Evaluating
// at-most-one-in-flight.
func (s *Session) runLive(ctx context.Context) {
	jobs := make(chan windowJob)
	go s.accumulateWindows(ctx, jobs)
	s.dispatchWindows(ctx, jobs)
}

// accumulateWindows is the window-N+1-while-N-dispatches half of
// runLive: it drains the Capture Ring into successive windows and hands
// each one off to dispatchWindows, never waiting on a VLM/evaluator
// call itself.
func (s *Session) accumulateWindows(ctx context.Context, jobs chan<- windowJob) {
	defer close(jobs)

	windowID := int64(0)
	duration := s.firstWindowDuration
	if duration <= 0 {
		duration = s.windowDuration
	}

	for {
		observations, stopped, err := s.collectWindow(ctx, duration)
		duration = s.windowDuration

		if err != nil {
			jobs <- windowJob{id: windowID, exit: &windowExit{reason: classifyExit(err), err: err}}
			return
		}
		if stopped {
			jobs <- windowJob{id: windowID, exit: &windowExit{reason: types.ExitStopped}}
			return
		}

		jobs <- windowJob{id: windowID, observations: observations}
		windowID++
	}
}

// dispatchWindows is the other half: it receives each accumulated window
// in order and runs it through the Dispatch Engine, propagating prior
// context and emitting the resulting Report before looking at the next
// window. It terminates (and emits the session's exit event) once it
// receives the accumulator's terminal job.
func (s *Session) dispatchWindows(ctx context.Context, jobs <-chan windowJob) {
	for job := range jobs {
		if job.exit != nil {
			s.emitExit(job.exit.reason, job.exit.err)
			return
		}

		priorText := s.priorCtx.Build(s.policy)
		report := s.engine.Process(ctx, dispatch.WindowInput{
			VideoID:       s.id,
			Observations:  job.observations,
			Policy:        s.policy,
			PriorContext:  priorText,
			SatisfiedOnce: s.priorCtx.SatisfiedSnapshot(),
		})
		if ctx.Err() != nil {
			// Stopped while this window was in dispatch: discard its Report.
			continue
		}
		s.priorCtx.Observe(report.AllVerdicts, s.policy)
		s.emitReport(job.id, report)
	}
}

// runGrabber is the dedicated goroutine that decouples decode rate from
// detector rate for a live session: it pulls frames from the Source as
// fast as they arrive and Puts each into the Capture Ring, where only
// the newest unread frame is ever retained. It exits once ctx is
// canceled or the Source becomes unreadable, closing the Ring either
// way so any blocked Take wakes up.
func (s *Session) runGrabber(ctx context.Context) {
	defer s.ring.Close()

	for {
		if ctx.Err() != nil {
			return
		}

		f, err := s.src.Next(ctx)
		if err != nil {
			if errors.Is(err, source.ErrDecodeError) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			s.setSrcErr(err)
			return
		}

		s.ring.Put(f)
	}
}

// collectWindow drains the Capture Ring for up to duration, running each
// frame through detection. It returns early (stopped=true) if ctx is
// canceled, or with a non-nil err if the grabber observed the source
// fail outright.
func (s *Session) collectWindow(ctx context.Context, duration time.Duration) ([]types.Observation, bool, error) {
	deadline := time.Now().Add(duration)
	var observations []types.Observation

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return observations, false, nil
		}

		f, ok, timedOut := s.ring.TakeTimeout(remaining)
		if timedOut {
			return observations, false, nil
		}
		if !ok {
			if err := s.getSrcErr(); err != nil {
				return observations, false, err
			}
			return observations, true, nil
		}

		if cand, ok := s.detect(f); ok {
			if obs, ok := s.admit(cand); ok {
				observations = append(observations, obs)
			}
		}
	}
}
