package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/types"
)

// liveSource captures an RTSP stream: rtspsrc ! rtph264depay ! avdec_h264
// ! videoconvert ! videoscale ! appsink. It never reaches EndOfStream;
// decode errors are recoverable via bounded exponential backoff (spec
// §4.1: 100ms–5s, reset on success, give up after 30 consecutive
// failures).
type liveSource struct {
	url    string
	width  int
	height int
	idle   time.Duration

	mu       sync.Mutex
	pipeline *gst.Pipeline
	index    int64
	started  time.Time

	// sampleInterval throttles delivery to at most one frame per interval
	// (spec's sample_interval, §6) so decode doesn't outpace the desired
	// polling cadence; zero means deliver every decoded frame.
	sampleInterval time.Duration
	lastSample     time.Time

	frames chan frameOrErr
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newLiveSource(parent context.Context, url string, opts Options) (Source, error) {
	idle := opts.IdleTimeoutS
	if idle <= 0 {
		idle = 5
	}

	ls := &liveSource{
		url:            url,
		width:          opts.Width,
		height:         opts.Height,
		idle:           time.Duration(idle * float64(time.Second)),
		sampleInterval: time.Duration(opts.SampleIntervalS * float64(time.Second)),
		frames:         make(chan frameOrErr, 4),
		started:        time.Now(),
		done:           make(chan struct{}),
	}
	ls.ctx, ls.cancel = context.WithCancel(parent)

	go ls.run()

	return ls, nil
}

// run owns the reconnect loop: it keeps calling connectAndStream until the
// caller cancels, or 30 consecutive decode/connect failures accumulate.
func (ls *liveSource) run() {
	defer close(ls.done)

	bo := newBackoff()
	for {
		if ls.ctx.Err() != nil {
			return
		}

		ls.mu.Lock()
		indexBefore := ls.index
		ls.mu.Unlock()

		err := ls.connectAndStream()
		if err == nil {
			// connectAndStream only returns nil on ctx cancellation.
			return
		}

		// A connection that delivered frames counts as a success, so the
		// failure streak starts over.
		ls.mu.Lock()
		decoded := ls.index != indexBefore
		ls.mu.Unlock()
		if decoded {
			bo.reset()
		}

		delay, ok := bo.next()
		if !ok {
			ls.frames <- frameOrErr{err: fmt.Errorf("%w: %d consecutive decode failures: %v", ErrUnreadableSource, bo.maxRetries, err)}
			return
		}

		select {
		case <-time.After(delay):
		case <-ls.ctx.Done():
			return
		}
	}
}

func (ls *liveSource) connectAndStream() error {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	rtspsrc, _ := gst.NewElement("rtspsrc")
	rtspsrc.SetProperty("location", ls.url)
	rtspsrc.SetProperty("protocols", 4) // TCP
	rtspsrc.SetProperty("latency", 200)

	rtph264depay, _ := gst.NewElement("rtph264depay")
	avdecH264, _ := gst.NewElement("avdec_h264")
	videoconvert, _ := gst.NewElement("videoconvert")
	videoscale, _ := gst.NewElement("videoscale")

	caps := gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=RGB,width=%d,height=%d", ls.width, ls.height,
	))
	capsfilter, _ := gst.NewElement("capsfilter")
	capsfilter.SetProperty("caps", caps)

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("creating appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	pipeline.AddMany(rtspsrc, rtph264depay, avdecH264, videoconvert, videoscale, capsfilter, appsink.Element)
	gst.ElementLinkMany(rtph264depay, avdecH264, videoconvert, videoscale, capsfilter, appsink.Element)

	rtspsrc.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		sinkPad := rtph264depay.GetStaticPad("sink")
		if sinkPad != nil && !sinkPad.IsLinked() {
			srcPad.Link(sinkPad)
		}
	})

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return ls.onNewSample(sink)
		},
	})

	ls.mu.Lock()
	ls.pipeline = pipeline
	ls.mu.Unlock()

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return fmt.Errorf("setting pipeline to playing: %w", err)
	}

	bus := pipeline.GetPipelineBus()
	lastFrame := time.Now()
	for {
		select {
		case <-ls.ctx.Done():
			pipeline.SetState(gst.StateNull)
			return nil
		default:
		}

		msg := bus.TimedPop(100 * time.Millisecond)
		if msg == nil {
			ls.mu.Lock()
			if ls.lastSample.After(lastFrame) {
				lastFrame = ls.lastSample
			}
			ls.mu.Unlock()
			if time.Since(lastFrame) > ls.idle {
				pipeline.SetState(gst.StateNull)
				return fmt.Errorf("%w: idle timeout exceeded", ErrDecodeError)
			}
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			pipeline.SetState(gst.StateNull)
			return fmt.Errorf("%w: %s", ErrDecodeError, gerr.Error())
		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				_, newState := msg.ParseStateChanged()
				if newState == gst.StatePlaying {
					lastFrame = time.Now()
				}
			}
		}
	}
}

func (ls *liveSource) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowError
	}

	mapInfo := buffer.Map(gst.MapRead)
	defer buffer.Unmap()
	data := mapInfo.Bytes()
	if len(data) == 0 {
		return gst.FlowOK
	}

	ls.mu.Lock()
	if ls.sampleInterval > 0 && !ls.lastSample.IsZero() && time.Since(ls.lastSample) < ls.sampleInterval {
		ls.mu.Unlock()
		return gst.FlowOK
	}
	ls.lastSample = time.Now()
	idx := ls.index
	ls.index++
	ls.mu.Unlock()

	pixels := make([]byte, len(data))
	copy(pixels, data)

	frame := types.Frame{
		Index:     idx,
		Timestamp: time.Since(ls.started).Seconds(),
		Width:     ls.width,
		Height:    ls.height,
		Pixels:    pixels,
	}

	select {
	case ls.frames <- frameOrErr{frame: frame}:
	default:
		// Live source: drop rather than block, matching the upstream
		// appsink's own drop=true policy. The Capture Ring downstream
		// provides the real memory bound; this channel is just a
		// handoff buffer.
	}

	return gst.FlowOK
}

func (ls *liveSource) Next(ctx context.Context) (types.Frame, error) {
	select {
	case item, ok := <-ls.frames:
		if !ok {
			return types.Frame{}, ErrUnreadableSource
		}
		return item.frame, item.err
	case <-ls.ctx.Done():
		return types.Frame{}, context.Canceled
	case <-ctx.Done():
		return types.Frame{}, ctx.Err()
	}
}

func (ls *liveSource) Close() error {
	ls.cancel()
	select {
	case <-ls.done:
	case <-time.After(3 * time.Second):
	}
	return nil
}
