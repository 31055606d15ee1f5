package source

import (
	"context"
	"fmt"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/types"
)

// fileSource decodes a local file sequentially: filesrc ! decodebin !
// videoconvert ! videoscale ! appsink. Container (PTS) timestamps are
// honored per spec §4.1 — no seeking is ever performed, only a counter
// that increments as frames arrive off the appsink.
type fileSource struct {
	path   string
	width  int
	height int

	pipeline *gst.Pipeline
	appsink  *app.Sink

	frames chan frameOrErr
	eos    bool
	index  int64

	// sampleInterval throttles delivery to at most one frame per interval
	// (spec's sample_interval, §6) so decode doesn't outpace the desired
	// polling cadence; zero means deliver every decoded frame.
	sampleInterval time.Duration
	lastSample     time.Time
}

type frameOrErr struct {
	frame types.Frame
	err   error
}

func newFileSource(path string, opts Options) (Source, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("%w: creating pipeline: %v", ErrUnreadableSource, err)
	}

	filesrc, err := gst.NewElement("filesrc")
	if err != nil {
		return nil, fmt.Errorf("%w: filesrc: %v", ErrUnreadableSource, err)
	}
	filesrc.SetProperty("location", path)

	decodebin, err := gst.NewElement("decodebin")
	if err != nil {
		return nil, fmt.Errorf("%w: decodebin: %v", ErrUnreadableSource, err)
	}

	videoconvert, _ := gst.NewElement("videoconvert")
	videoscale, _ := gst.NewElement("videoscale")

	caps := gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=RGB,width=%d,height=%d", opts.Width, opts.Height,
	))
	capsfilter, _ := gst.NewElement("capsfilter")
	capsfilter.SetProperty("caps", caps)

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("%w: appsink: %v", ErrUnreadableSource, err)
	}
	appsink.SetProperty("sync", false)

	pipeline.AddMany(filesrc, decodebin, videoconvert, videoscale, capsfilter, appsink.Element)
	filesrc.Link(decodebin)
	gst.ElementLinkMany(videoconvert, videoscale, capsfilter, appsink.Element)

	fs := &fileSource{
		path:           path,
		width:          opts.Width,
		height:         opts.Height,
		pipeline:       pipeline,
		appsink:        appsink,
		frames:         make(chan frameOrErr, 4),
		sampleInterval: time.Duration(opts.SampleIntervalS * float64(time.Second)),
	}

	decodebin.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		sinkPad := videoconvert.GetStaticPad("sink")
		if sinkPad != nil && !sinkPad.IsLinked() {
			srcPad.Link(sinkPad)
		}
	})

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return fs.onNewSample(sink)
		},
		EOSFunc: func(sink *app.Sink) {
			fs.frames <- frameOrErr{err: ErrEndOfStream}
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("%w: starting pipeline: %v", ErrUnreadableSource, err)
	}

	go fs.watchBus()

	return fs, nil
}

func (fs *fileSource) watchBus() {
	bus := fs.pipeline.GetPipelineBus()
	for {
		msg := bus.TimedPop(100 * time.Millisecond)
		if msg == nil {
			if fs.eos {
				return
			}
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			fs.frames <- frameOrErr{err: fmt.Errorf("%w: %s", ErrUnreadableSource, gerr.Error())}
			return
		}
	}
}

func (fs *fileSource) onNewSample(sink *app.Sink) gst.FlowReturn {
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

	if fs.sampleInterval > 0 {
		now := time.Now()
		if !fs.lastSample.IsZero() && now.Sub(fs.lastSample) < fs.sampleInterval {
			return gst.FlowOK
		}
		fs.lastSample = now
	}

	pixels := make([]byte, len(data))
	copy(pixels, data)

	ts := float64(buffer.PresentationTimestamp()) / float64(time.Second)

	frame := types.Frame{
		Index:     fs.index,
		Timestamp: ts,
		Width:     fs.width,
		Height:    fs.height,
		Pixels:    pixels,
	}
	fs.index++

	select {
	case fs.frames <- frameOrErr{frame: frame}:
	default:
		// Bounded buffer full: block until the reader takes a frame rather
		// than drop, since file sources must not skip frames the detector
		// hasn't seen yet.
		fs.frames <- frameOrErr{frame: frame}
	}

	return gst.FlowOK
}

func (fs *fileSource) Next(ctx context.Context) (types.Frame, error) {
	select {
	case item, ok := <-fs.frames:
		if !ok {
			return types.Frame{}, ErrEndOfStream
		}
		if item.err == ErrEndOfStream {
			fs.eos = true
		}
		return item.frame, item.err
	case <-ctx.Done():
		return types.Frame{}, ctx.Err()
	}
}

func (fs *fileSource) Close() error {
	if fs.pipeline == nil {
		return nil
	}
	err := fs.pipeline.SetState(gst.StateNull)
	fs.pipeline = nil
	return err
}
