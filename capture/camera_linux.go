//go:build linux

package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"go2tv.app/screenrec/internal/logging"
	"go2tv.app/screenrec/media"
)

const cameraPipelineFormat = "v4l2src device=%s ! videoconvert ! videoscale ! " +
	"video/x-raw,format=BGRA,width=%d,height=%d ! " +
	"appsink name=sink sync=false max-buffers=1 drop=true"

var gstInitOnce sync.Once

type cameraSource struct {
	pipeline *gst.Pipeline
	slot     *frameSlot
	size     media.Resolution
	device   string
	log      *logging.Logger
	faults   *faultSignal

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func openCamera(ctx context.Context, device string, res media.Resolution, log *logging.Logger) (*cameraSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	gstInitOnce.Do(func() { gst.Init(nil) })

	pipeline, err := gst.NewPipelineFromString(fmt.Sprintf(cameraPipelineFormat, device, res.Width, res.Height))
	if err != nil {
		return nil, fmt.Errorf("camera pipeline: %w", err)
	}
	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("camera appsink: %w", err)
	}

	c := &cameraSource{
		pipeline: pipeline,
		slot:     &frameSlot{},
		size:     res,
		device:   device,
		log:      log,
		faults:   newFaultSignal(),
		done:     make(chan struct{}),
	}
	app.SinkFromElement(elem).SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: c.onSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("camera start %s: %w", device, err)
	}

	c.wg.Add(1)
	go c.watchBus()

	log.Info("camera pipeline playing", "device", device, "size", res.String())
	return c, nil
}

func (c *cameraSource) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}
	mapInfo := buffer.Map(gst.MapRead)
	if data := mapInfo.Bytes(); len(data) > 0 {
		c.slot.Store(data, c.size.Width, c.size.Height, 0)
	}
	buffer.Unmap()
	return gst.FlowOK
}

func (c *cameraSource) watchBus() {
	defer c.wg.Done()
	bus := c.pipeline.GetPipelineBus()
	for {
		select {
		case <-c.done:
			return
		default:
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			c.log.Error("camera pipeline error", "device", c.device, "error", gerr.Error(), "debug", gerr.DebugString())
			c.faults.report(fmt.Errorf("%w: camera %s: %s", ErrSourceLost, c.device, gerr.Error()))
		case gst.MessageEOS:
			c.log.Warn("camera pipeline reached end of stream", "device", c.device)
			c.faults.report(fmt.Errorf("%w: camera %s reached end of stream", ErrSourceLost, c.device))
		}
	}
}

func (c *cameraSource) Kind() Kind             { return KindCamera }
func (c *cameraSource) Size() media.Resolution { return c.size }
func (c *cameraSource) Ready() bool            { return c.slot.Ready() }
func (c *cameraSource) Faults() <-chan error   { return c.faults.Faults() }

func (c *cameraSource) View(fn func(*media.Frame)) bool {
	return c.slot.View(fn)
}

func (c *cameraSource) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		if err := c.pipeline.SetState(gst.StateNull); err != nil {
			c.closeErr = errors.Join(c.closeErr, fmt.Errorf("camera stop: %w", err))
		}
		stored, dropped := c.slot.Stats()
		c.log.Debug("camera pipeline closed", "device", c.device, "frames", stored, "dropped", dropped)
	})
	return c.closeErr
}
