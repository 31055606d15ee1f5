// Package capturering implements the Capture Ring: a single-slot buffer
// that decouples decode rate from detector rate on live sources. It
// retains only the newest frame; any unread predecessor is dropped. This
// is the mechanism spec invariant 2 relies on for bounded memory
// (peak retained decoded-frame memory independent of session duration).
package capturering

import (
	"sync"
	"time"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/types"
)

// Ring is a single-slot mailbox. One grabber goroutine calls Put as fast
// as the Source yields; one detector goroutine calls Take. Put never
// blocks; Take blocks until a frame is present.
type Ring struct {
	mu    sync.Mutex
	cond  *sync.Cond
	frame *types.Frame
	drops uint64

	closed bool
}

// New creates an empty Ring.
func New() *Ring {
	r := &Ring{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Put overwrites any unread frame. If a frame was already sitting in the
// slot unconsumed, it is dropped and the drop counter increments — no
// Frame is retained after its successor has been accepted (spec
// invariant 4).
func (r *Ring) Put(f types.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if r.frame != nil {
		r.drops++
	}
	r.frame = &f
	r.cond.Signal()
}

// Take blocks until a frame is available or the Ring is closed, in which
// case ok is false.
func (r *Ring) Take() (types.Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.frame == nil && !r.closed {
		r.cond.Wait()
	}
	if r.frame == nil {
		return types.Frame{}, false
	}

	f := *r.frame
	r.frame = nil
	return f, true
}

// TakeTimeout behaves like Take but gives up after d, returning
// timedOut=true instead of blocking indefinitely. This is what lets a
// window's frame collection loop respect a deadline without polling.
func (r *Ring) TakeTimeout(d time.Duration) (f types.Frame, ok bool, timedOut bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deadline := time.Now().Add(d)
	for r.frame == nil && !r.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return types.Frame{}, false, true
		}
		timer := time.AfterFunc(remaining, func() {
			r.mu.Lock()
			r.cond.Broadcast()
			r.mu.Unlock()
		})
		r.cond.Wait()
		timer.Stop()
	}
	if r.frame == nil {
		return types.Frame{}, false, false
	}

	frame := *r.frame
	r.frame = nil
	return frame, true, false
}

// Close wakes any blocked Take and makes further Puts no-ops.
func (r *Ring) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.cond.Broadcast()
}

// Drops returns the number of frames dropped because the detector hadn't
// consumed the previous one yet.
func (r *Ring) Drops() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drops
}
