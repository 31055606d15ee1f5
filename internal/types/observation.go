package types

import "time"

// Observation is a keyframe that has been made transport-ready and,
// eventually, described by the VLM collaborator.
type Observation struct {
	// Index is strictly monotonic within a session (spec invariant 1).
	Index int64 `json:"index"`
	// Timestamp is the keyframe's media timestamp in seconds.
	Timestamp float64 `json:"timestamp"`
	// JPEG is the downscaled, encoded image sent to the VLM.
	JPEG []byte `json:"image_base64"`
	// Reason is the trigger reason inherited from the KeyframeCandidate.
	Reason Reason `json:"trigger"`
	// ChangeScore is the score that produced this observation.
	ChangeScore float64 `json:"change_score"`
	// Description is filled in by the Dispatch Engine after the VLM call
	// returns; empty until then.
	Description string `json:"description"`
}

// TranscriptSegment is one utterance span from the Transcriber
// collaborator.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the full audio-to-text result for a window or file.
type Transcript struct {
	FullText string              `json:"full_text"`
	Segments []TranscriptSegment `json:"segments"`
	Language string              `json:"language,omitempty"`
	Duration float64             `json:"duration,omitempty"`
}

// ChecklistStatus is the lifecycle state of a checklist-mode Verdict.
type ChecklistStatus string

const (
	ChecklistPending   ChecklistStatus = "pending"
	ChecklistCompliant ChecklistStatus = "compliant"
	ChecklistExpired   ChecklistStatus = "expired"
)

// Verdict is the evaluator's judgment of a single Rule against a window's
// evidence.
type Verdict struct {
	RuleID     string          `json:"rule_id"`
	Compliant  bool            `json:"compliant"`
	Severity   Severity        `json:"severity"`
	Reason     string          `json:"reason"`
	EvidenceAt float64         `json:"evidence_at"`
	Mode       Mode            `json:"mode"`
	Status     ChecklistStatus `json:"status,omitempty"`
	ExpiresAt  time.Time       `json:"expires_at,omitempty"`
}

// Report is the output of one analysis window (or the single window of a
// file analysis).
type Report struct {
	VideoID             string        `json:"video_id"`
	Summary             string        `json:"summary"`
	OverallCompliant    bool          `json:"overall_compliant"`
	AllVerdicts         []Verdict     `json:"all_verdicts"`
	Incidents           []Verdict     `json:"incidents"`
	Recommendations     string        `json:"recommendations,omitempty"`
	FrameObservations   []Observation `json:"frame_observations"`
	Transcript          *Transcript   `json:"transcript,omitempty"`
	AnalyzedAt          time.Time     `json:"analyzed_at"`
	TotalFramesAnalyzed int64         `json:"total_frames_analyzed"`
	VideoDuration       float64       `json:"video_duration"`
	Error               string        `json:"error,omitempty"`
}
