package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stillcap/stillcap/v4l2"
)

// ErrReadTimeout indicates no frame became ready within the wait bound. The
// cycle is aborted but the device is not necessarily broken.
var ErrReadTimeout = errors.New("frame wait timed out")

// DefaultWaitBound is the readiness wait applied to each dequeue when the
// request does not override it.
const DefaultWaitBound = 10 * time.Second

// selectorState tracks progress of one frame-selection run.
type selectorState uint8

const (
	// selectorIdle is the initial state before buffers exist.
	selectorIdle selectorState = iota
	// selectorBuffersReady means the buffer ring is mapped and queued.
	selectorBuffersReady
	// selectorStreaming means the device is delivering frames.
	selectorStreaming
	// selectorWaiting means the selector is blocked on frame readiness.
	selectorWaiting
	// selectorDiscarding means an intermediate frame is being requeued.
	selectorDiscarding
	// selectorTargetReached is the terminal success state.
	selectorTargetReached
	// selectorFailed is the terminal failure state.
	selectorFailed
)

func (s selectorState) String() string {
	switch s {
	case selectorIdle:
		return "idle"
	case selectorBuffersReady:
		return "buffers-ready"
	case selectorStreaming:
		return "streaming"
	case selectorWaiting:
		return "waiting"
	case selectorDiscarding:
		return "discarding"
	case selectorTargetReached:
		return "target-reached"
	case selectorFailed:
		return "failed"
	}
	return "unknown"
}

// frameSelector drives a streaming device until the target sequential frame
// has been dequeued. Intermediate frames are requeued untouched; the target
// frame is retained for the caller to requeue after extraction.
type frameSelector struct {
	dev         Device
	targetFrame int
	waitBound   time.Duration
	state       selectorState

	// applyControls runs once, immediately before dequeuing the frame at
	// controlFrame(). It gives pending control writes several discarded
	// frames to settle instead of landing abruptly on the saved frame.
	applyControls func() error
}

// controlFrame returns the zero-based frame index before which pending
// controls are applied: a third of the way to the target, or the very first
// frame for tiny targets.
func (f *frameSelector) controlFrame() int {
	if f.targetFrame <= 2 {
		return 0
	}
	return f.targetFrame / 3
}

// run streams until the target frame is retained. It returns the retained
// buffer; the caller owns requeueing it. On failure the state is
// selectorFailed and the error describes the terminal condition.
func (f *frameSelector) run(ctx context.Context) (v4l2.QueuedBuffer, error) {
	f.state = selectorStreaming
	ctrlFrame := f.controlFrame()

	for frame := 0; ; frame++ {
		if err := ctx.Err(); err != nil {
			f.state = selectorFailed
			return v4l2.QueuedBuffer{}, err
		}
		if frame == ctrlFrame && f.applyControls != nil {
			if err := f.applyControls(); err != nil {
				// Control writes are advisory for the frame itself; a
				// failed write does not abort the capture.
				logrus.WithFields(logrus.Fields{
					"function": "frameSelector.run",
					"device":   f.dev.Path(),
					"frame":    frame,
					"error":    err,
				}).Warn("pending control application failed")
			}
		}

		f.state = selectorWaiting
		ready, err := f.dev.WaitFrame(f.waitBound)
		if err != nil {
			f.state = selectorFailed
			return v4l2.QueuedBuffer{}, err
		}
		if ready == 0 {
			f.state = selectorFailed
			return v4l2.QueuedBuffer{}, fmt.Errorf("%w: frame %d after %s", ErrReadTimeout, frame, f.waitBound)
		}
		if ready > 1 {
			logrus.WithFields(logrus.Fields{
				"function": "frameSelector.run",
				"device":   f.dev.Path(),
				"ready":    ready,
			}).Warn("more than one descriptor reported ready")
		}

		buf, err := f.dev.DequeueBuffer()
		if err != nil {
			f.state = selectorFailed
			return v4l2.QueuedBuffer{}, err
		}

		if frame+1 == f.targetFrame {
			f.state = selectorTargetReached
			logrus.WithFields(logrus.Fields{
				"function": "frameSelector.run",
				"device":   f.dev.Path(),
				"frame":    frame,
				"index":    buf.Index,
				"sequence": buf.Sequence,
				"bytes":    buf.BytesUsed,
			}).Debug("target frame retained")
			return buf, nil
		}

		f.state = selectorDiscarding
		if err := f.dev.QueueBuffer(buf.Index); err != nil {
			f.state = selectorFailed
			return v4l2.QueuedBuffer{}, err
		}
	}
}
