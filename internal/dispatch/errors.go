package dispatch

import (
	"context"
	"errors"
	"strings"
)

// ErrTransient is a sentinel collaborators can wrap to mark an error as
// transient (timeout, 429, 5xx) without the dispatch engine having to
// parse their error strings. errors.Is(err, ErrTransient) is the
// preferred classification path; isTransient below is a fallback for
// collaborators that just return a plain error, mirroring this
// codebase's keyword-based GStreamer error classifier.
var ErrTransient = errors.New("transient dispatch failure")

// ErrEvaluatorParseFailure is a sentinel the Evaluator collaborator wraps
// when its structured output couldn't be parsed or validated (spec §7's
// EvaluatorParseFailure kind). It gets a single immediate retry with a
// stricter prompt, per spec §4.6 — a narrower policy than the general
// exponential-backoff retry isTransient below governs.
var ErrEvaluatorParseFailure = errors.New("evaluator structured output parse failure")

// isTransient decides whether a Describing/Evaluating failure should be
// retried (per spec: timeout, 429, 5xx) or treated as persistent.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	keywords := []string{"timeout", "429", "500", "502", "503", "504", "too many requests", "temporarily unavailable"}
	for _, kw := range keywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// isParseFailure decides whether an Evaluating failure is an
// EvaluatorParseFailure: the Evaluator returned something that couldn't
// be parsed or validated as structured output, rather than a network or
// rate-limit problem.
func isParseFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEvaluatorParseFailure) {
		return true
	}

	msg := strings.ToLower(err.Error())
	keywords := []string{"malformed json", "invalid json", "json unmarshal", "could not parse", "unparseable", "structured output", "schema validation"}
	for _, kw := range keywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
