// Package keyframesink implements the Keyframe Sink: it turns an
// accepted KeyframeCandidate into a compressed Observation (downscale,
// JPEG encode), then optionally persists the JPEG to disk off the
// detection path so a slow write never stalls frame capture.
package keyframesink

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/types"
)

// Config holds the sink's tunables, sourced from config.SinkConfig.
type Config struct {
	MaxWidth    int
	JPEGQuality float64
	OutputDir   string
	QueueDepth  int
}

// Item is one keyframe that has been encoded and is ready for the
// optional disk writer.
type Item struct {
	SessionID string
	Index     int64
	JPEG      []byte
}

// Encode builds an Observation from a KeyframeCandidate: downscale to
// cfg.MaxWidth preserving aspect ratio, then JPEG-encode at
// cfg.JPEGQuality. This runs synchronously on the detection path — it's
// cheap relative to frame decode because it only runs once per admitted
// keyframe, never once per frame.
func Encode(cfg Config, candidate types.KeyframeCandidate) (types.Observation, error) {
	f := candidate.Frame
	resized := resizeRGB(f.Pixels, f.Width, f.Height, cfg.MaxWidth)

	buf, err := encodeJPEGQuality(resized, int(cfg.JPEGQuality*100))
	if err != nil {
		return types.Observation{}, fmt.Errorf("encode keyframe: %w", err)
	}

	return types.Observation{
		Index:       f.Index,
		Timestamp:   f.Timestamp,
		JPEG:        buf,
		Reason:      candidate.Reason,
		ChangeScore: candidate.Score,
	}, nil
}

// Sink owns a single disk-writer worker reading from a bounded queue.
// When the queue is full, Submit drops the oldest still-pending item
// rather than blocking the caller or refusing the newest one — mirroring
// this codebase's drop-oldest DropOld subscriber policy, just applied to
// a work queue instead of a frame bus. A Sink with no OutputDir
// configured is a no-op: Submit still drains but nothing is written.
type Sink struct {
	cfg Config

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Item
	closed  bool
	dropped uint64
	errors  uint64

	wg sync.WaitGroup
}

// New creates a Sink and starts its writer worker.
func New(cfg Config) *Sink {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 16
	}
	s := &Sink{cfg: cfg}
	s.cond = sync.NewCond(&s.mu)
	s.wg.Add(1)
	go s.run()
	return s
}

// Submit enqueues a keyframe's JPEG bytes for an async disk write. It
// never blocks: if the queue is already at capacity, the oldest pending
// item is dropped to make room for this one.
func (s *Sink) Submit(item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.cfg.OutputDir == "" {
		return
	}
	if len(s.queue) >= s.cfg.QueueDepth {
		s.queue = s.queue[1:]
		s.dropped++
	}
	s.queue = append(s.queue, item)
	s.cond.Signal()
}

// Dropped returns the number of queued items discarded to make room for
// newer submissions.
func (s *Sink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Errors returns the number of disk writes that failed.
func (s *Sink) Errors() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

// Close stops accepting new items, waits for the worker to write every
// item still queued, and returns.
func (s *Sink) Close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Sink) run() {
	defer s.wg.Done()
	for {
		item, ok := s.take()
		if !ok {
			return
		}
		if err := s.writeToDisk(item); err != nil {
			s.mu.Lock()
			s.errors++
			s.mu.Unlock()
		}
	}
}

func (s *Sink) take() (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.queue) == 0 {
		return Item{}, false
	}

	item := s.queue[0]
	s.queue = s.queue[1:]
	return item, true
}

// writeToDisk names the file by session ID and observation index so a
// retried dispatch that resubmits the same observation overwrites rather
// than duplicates it.
func (s *Sink) writeToDisk(item Item) error {
	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s_%08d.jpg", item.SessionID, item.Index)
	path := filepath.Join(s.cfg.OutputDir, name)
	return os.WriteFile(path, item.JPEG, 0o644)
}
