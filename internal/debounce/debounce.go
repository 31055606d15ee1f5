// Package debounce implements the Gap Policy: it sits between the Change
// Detector and the Keyframe Sink, suppressing changed-keyframes that
// arrive too close together and forcing a keyframe when the session has
// gone too long without one.
package debounce

import "github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/types"

// Config holds the debouncer's tunables, sourced from config.Detection.
type Config struct {
	MinChangeIntervalS float64
	MaxGapS            float64
}

// Debouncer tracks the timestamp of the last admitted keyframe and
// applies the two-part gap policy to each frame the detector looks at.
// Not safe for concurrent use.
type Debouncer struct {
	cfg          Config
	lastEmitTime float64
	haveEmitted  bool
}

// New creates a Debouncer.
func New(cfg Config) *Debouncer {
	return &Debouncer{cfg: cfg}
}

// Evaluate applies the gap policy for one frame. candidate is whatever
// the Change Detector produced for this frame, or nil if it produced
// nothing. The min-interval suppression is checked first: a changed
// candidate arriving too soon after the last admitted keyframe is
// dropped. Only once that's settled does the max-gap check run, which
// can force a keyframe out of a frame the detector didn't flag at all.
func (d *Debouncer) Evaluate(frame types.Frame, candidate *types.KeyframeCandidate) (types.KeyframeCandidate, bool) {
	if candidate != nil {
		if candidate.Reason == types.ReasonFirst || candidate.Reason == types.ReasonLast {
			d.admit(frame.Timestamp)
			return *candidate, true
		}

		if d.haveEmitted && frame.Timestamp-d.lastEmitTime < d.cfg.MinChangeIntervalS {
			return types.KeyframeCandidate{}, false
		}
		d.admit(frame.Timestamp)
		return *candidate, true
	}

	if d.haveEmitted && frame.Timestamp-d.lastEmitTime >= d.cfg.MaxGapS {
		d.admit(frame.Timestamp)
		return types.KeyframeCandidate{Frame: frame, Reason: types.ReasonMaxGap, Score: 1.0}, true
	}

	return types.KeyframeCandidate{}, false
}

func (d *Debouncer) admit(timestamp float64) {
	d.lastEmitTime = timestamp
	d.haveEmitted = true
}
