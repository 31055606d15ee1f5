// Package changedetect implements the Change Detector: the two-stage
// algorithm that decides which decoded frames become keyframe candidates.
// A cheap global color-histogram correlation runs on every frame; only
// frames that fail its early-exit threshold pay for the more expensive
// windowed luminance SSIM comparison.
package changedetect

import (
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/types"
)

// Config holds the detector's tunables, sourced from config.Detection.
type Config struct {
	ChangeThreshold     float64
	EarlyExitSimilarity float64
	Alpha               float64
	BlurSigma           float64
}

// lastFrameGrace is how long after the last emitted keyframe the detector
// will still emit a closing ReasonLast candidate on Finish.
const lastFrameGrace = 0.5

// Detector holds the running reference keyframe and evaluates each new
// frame against it. It is not safe for concurrent use; a session drives
// it from a single goroutine.
type Detector struct {
	cfg Config

	hasReference bool
	refHist      [hueBins][satBins]float64
	refLuma      []byte
	refWidth     int
	refHeight    int

	lastFrame        types.Frame
	haveLastFrame    bool
	lastEmittedIndex int64
	lastEmitTime     float64
}

// New creates a Detector with no reference frame yet.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg, lastEmittedIndex: -1}
}

// Observe evaluates a frame against the current reference. It returns a
// KeyframeCandidate and true if the frame should be dispatched downstream.
func (d *Detector) Observe(f types.Frame) (types.KeyframeCandidate, bool) {
	d.lastFrame = f
	d.haveLastFrame = true

	resolutionChanged := d.hasReference && (f.Width != d.refWidth || f.Height != d.refHeight)
	if !d.hasReference || resolutionChanged {
		return d.emitFirst(f)
	}

	analysisPixels := blurRGB(downsample(f.Pixels, f.Width, f.Height), analysisWidth, analysisHeight, d.cfg.BlurSigma)
	curHist := hsvHistogram(analysisPixels)
	globalSimilarity := histogramCorrelation(curHist, d.refHist)

	if globalSimilarity >= d.cfg.EarlyExitSimilarity {
		return types.KeyframeCandidate{}, false
	}

	curLuma := luminance(analysisPixels)
	localSimilarity := windowedSSIM(curLuma, d.refLuma, analysisWidth, analysisHeight)

	changeScore := 1 - (d.cfg.Alpha*globalSimilarity + (1-d.cfg.Alpha)*localSimilarity)
	if changeScore < d.cfg.ChangeThreshold {
		return types.KeyframeCandidate{}, false
	}

	d.setReference(f, curHist, curLuma)
	d.lastEmittedIndex = f.Index
	d.lastEmitTime = f.Timestamp
	return types.KeyframeCandidate{Frame: f, Reason: types.ReasonChanged, Score: changeScore}, true
}

// Finish is called once the source is exhausted. If the last observed
// frame wasn't itself emitted and at least lastFrameGrace seconds have
// passed since the last emission, it is emitted with ReasonLast so a
// session never ends without a keyframe describing its final state.
func (d *Detector) Finish() (types.KeyframeCandidate, bool) {
	if !d.haveLastFrame {
		return types.KeyframeCandidate{}, false
	}
	if d.lastFrame.Index == d.lastEmittedIndex {
		return types.KeyframeCandidate{}, false
	}
	if d.lastFrame.Timestamp-d.lastEmitTime < lastFrameGrace {
		return types.KeyframeCandidate{}, false
	}

	f := d.lastFrame
	analysisPixels := blurRGB(downsample(f.Pixels, f.Width, f.Height), analysisWidth, analysisHeight, d.cfg.BlurSigma)
	d.setReference(f, hsvHistogram(analysisPixels), luminance(analysisPixels))
	d.lastEmittedIndex = f.Index
	d.lastEmitTime = f.Timestamp
	return types.KeyframeCandidate{Frame: f, Reason: types.ReasonLast, Score: 1.0}, true
}

func (d *Detector) emitFirst(f types.Frame) (types.KeyframeCandidate, bool) {
	analysisPixels := blurRGB(downsample(f.Pixels, f.Width, f.Height), analysisWidth, analysisHeight, d.cfg.BlurSigma)
	d.setReference(f, hsvHistogram(analysisPixels), luminance(analysisPixels))
	d.lastEmittedIndex = f.Index
	d.lastEmitTime = f.Timestamp
	return types.KeyframeCandidate{Frame: f, Reason: types.ReasonFirst, Score: 1.0}, true
}

func (d *Detector) setReference(f types.Frame, hist [hueBins][satBins]float64, luma []byte) {
	d.hasReference = true
	d.refHist = hist
	d.refLuma = luma
	d.refWidth = f.Width
	d.refHeight = f.Height
}
