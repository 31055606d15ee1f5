package types

import "context"

// VLM describes an image and is the sole external collaborator the
// Dispatch Engine calls during its Describing state. Exactly one call is
// in flight per session at a time (spec §4.6).
type VLM interface {
	// Describe returns one textual description per input image, in
	// order. prompt is a condensed, policy-derived string.
	Describe(ctx context.Context, images [][]byte, prompt string) ([]string, error)
}

// Evaluator turns observations, an optional transcript, and a policy into
// a structured Report body. Exactly one call is in flight per session at
// a time (spec §4.6, Evaluating state).
type Evaluator interface {
	Evaluate(ctx context.Context, observations []Observation, transcript *Transcript, policy Policy) (ReportBody, error)
}

// ReportBody is the portion of a Report the Evaluator collaborator is
// responsible for producing.
type ReportBody struct {
	Summary          string
	OverallCompliant bool
	Verdicts         []Verdict
	Recommendations  string
}

// Transcriber converts audio bytes to text. Optional: only called when a
// Policy's IncludeAudio is set.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, languageHint string) (Transcript, error)
}
