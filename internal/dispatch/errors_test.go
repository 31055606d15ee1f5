package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsTransientClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"wrapped sentinel", fmt.Errorf("vlm call: %w", ErrTransient), true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"timeout keyword", errors.New("request timeout after 30s"), true},
		{"429 keyword", errors.New("received 429 from provider"), true},
		{"503 keyword", errors.New("upstream returned 503"), true},
		{"validation error", errors.New("invalid policy: missing rules"), false},
		{"nil error", nil, false},
	}
	for _, c := range cases {
		if got := isTransient(c.err); got != c.want {
			t.Errorf("%s: isTransient(%v) = %v, want %v", c.name, c.err, got, c.want)
		}
	}
}

func TestIsParseFailureClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"wrapped sentinel", fmt.Errorf("evaluate: %w", ErrEvaluatorParseFailure), true},
		{"malformed json keyword", errors.New("malformed json in response"), true},
		{"could not parse keyword", errors.New("could not parse structured output"), true},
		{"timeout is not a parse failure", errors.New("request timeout after 30s"), false},
		{"validation error is not a parse failure", errors.New("invalid policy: missing rules"), false},
		{"nil error", nil, false},
	}
	for _, c := range cases {
		if got := isParseFailure(c.err); got != c.want {
			t.Errorf("%s: isParseFailure(%v) = %v, want %v", c.name, c.err, got, c.want)
		}
	}
}
