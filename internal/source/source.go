// Package source implements the Frame Source component: a lazy sequence
// of decoded Frames from either a bounded file or an unbounded live RTSP
// stream, backed by GStreamer.
//
// Both Sources are sequential-decode only. Random-access seek is
// forbidden by contract (container seek on H.264/H.265 is far slower
// than sequential decode with a frame counter) — callers must maintain
// their own index, which both implementations do internally.
package source

import (
	"context"
	"errors"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/types"
)

// ErrUnreadableSource means the source could not be opened, or a live
// source exhausted its recoverable-decode-error budget. Fatal to the
// session.
var ErrUnreadableSource = errors.New("source: unreadable")

// ErrDecodeError is a transient decode failure; the caller should skip
// the frame and continue (live sources) or treat it as a one-off and
// keep reading (file sources rarely see these).
var ErrDecodeError = errors.New("source: decode error")

// ErrEndOfStream is returned by Next on bounded sources once the last
// frame has been delivered. Live sources never return it.
var ErrEndOfStream = errors.New("source: end of stream")

// Source produces a sequence of Frames. Implementations are not safe for
// concurrent use of Next — callers read from a single goroutine (the
// grabber, in session terms).
type Source interface {
	// Next returns the next frame, ErrEndOfStream, or a wrapped
	// ErrDecodeError / ErrUnreadableSource.
	Next(ctx context.Context) (types.Frame, error)

	// Close releases decoder resources. Safe to call more than once.
	Close() error
}

// Open creates a Source from a file path or an rtsp:// URL. File paths
// produce a bounded Source; rtsp:// URLs produce an unbounded one with
// automatic reconnection.
func Open(ctx context.Context, uri string, opts Options) (Source, error) {
	if isRTSP(uri) {
		return newLiveSource(ctx, uri, opts)
	}
	return newFileSource(uri, opts)
}

func isRTSP(uri string) bool {
	return len(uri) >= 7 && uri[:7] == "rtsp://"
}

// Options configures a Source at open time.
type Options struct {
	Width  int
	Height int
	// SampleIntervalS throttles decode-to-delivery rate on both file and
	// live sources (spec's sample_interval); zero means deliver every
	// decoded frame.
	SampleIntervalS float64
	// IdleTimeoutS is the time with no frames before a live source is
	// considered stalled and forced to reconnect (spec's 5s default).
	IdleTimeoutS float64
}
