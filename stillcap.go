// Package stillcap periodically captures a single stable frame from a
// streaming video-capture device and keeps the device's exposure-related
// hardware controls converging on operator-chosen targets.
//
// The package composes two subsystems: a buffer-managed capture pipeline
// (package capture) that streams until a chosen sequential frame and
// measures it, and a closed-loop tuner (package tuning) that turns those
// measurements into control adjustments for the following cycle. The
// feedback loop is strictly one cycle delayed.
//
// Example:
//
//	dev, err := v4l2.Open("/dev/video0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Close()
//
//	eng := stillcap.New(dev, stillcap.Options{})
//	eng.SetPropertyTarget(tuning.Brightness, tuning.Day, 100, 140)
//	eng.AddTuner(tuning.Day, tuning.Tuner{
//	    Property:  tuning.Brightness,
//	    ControlID: 0x00980900,
//	    RangeMin:  10,
//	    RangeMax:  90,
//	})
//
//	outcome, err := eng.CaptureOneFrame(context.Background(), capture.Request{
//	    TargetFrame: 80,
//	    SavePath:    "/tmp/still.jpg",
//	})
//	if err == nil && outcome.Statistics.Available() {
//	    eng.TuneAfterCapture(outcome.Statistics, tuning.Day)
//	}
package stillcap

import (
	"context"
	"math/rand"

	"github.com/stillcap/stillcap/capture"
	"github.com/stillcap/stillcap/imaging"
	"github.com/stillcap/stillcap/tuning"
	"github.com/stillcap/stillcap/v4l2"
)

// Device is the full device surface the engine drives: the streaming side
// used by the pipeline plus the control side used by the tuner. It is
// satisfied by *v4l2.Device.
type Device interface {
	capture.Device
	tuning.ControlReader
}

// Options configure an Engine.
type Options struct {
	// Focus names the optional auto/manual focus control pair so manual
	// focus writes disable auto-focus first.
	Focus capture.FocusControls

	// DeferTeardown moves stream-off and buffer release to a background
	// goroutine; the engine still refuses overlapping cycles.
	DeferTeardown bool

	// Rand overrides the random source used for tuning step caps. Nil
	// selects a time-seeded source.
	Rand *rand.Rand
}

// Engine is the caller-facing surface: one capture cycle per period, the
// pending control batch between cycles, and the tuning tables. It is not
// safe for concurrent use; the single-flight model expects one logical
// caller.
type Engine struct {
	pipeline *capture.Pipeline
	tuner    *tuning.Engine
	pending  map[uint32]v4l2.ControlSetting
}

// New returns an engine bound to an open, already-configured device.
func New(dev Device, opts Options) *Engine {
	pipe := capture.NewPipeline(dev)
	pipe.Focus = opts.Focus
	pipe.DeferTeardown = opts.DeferTeardown
	return &Engine{
		pipeline: pipe,
		tuner:    tuning.NewEngine(dev, tuning.NewState(), opts.Rand),
		pending:  make(map[uint32]v4l2.ControlSetting),
	}
}

// pendingBatch snapshots the pending settings as a slice.
func (e *Engine) pendingBatch() []v4l2.ControlSetting {
	if len(e.pending) == 0 {
		return nil
	}
	batch := make([]v4l2.ControlSetting, 0, len(e.pending))
	for _, s := range e.pending {
		batch = append(batch, s)
	}
	return batch
}

// CaptureOneFrame runs one capture cycle, applying the pending control batch
// a third of the way to the target frame. The batch is kept when the cycle
// fails so the settings land during the next attempt. A broken outcome means
// the caller must close and reopen the device before the next cycle.
func (e *Engine) CaptureOneFrame(ctx context.Context, req capture.Request) (capture.Outcome, error) {
	outcome, err := e.pipeline.CaptureOneFrame(ctx, req, e.pendingBatch())
	if err == nil {
		e.pending = make(map[uint32]v4l2.ControlSetting)
	}
	return outcome, err
}

// ApplyControlSettings merges settings into the pending batch, keeping at
// most one entry per control ID. The batch is written to the device during
// the next capture cycle.
func (e *Engine) ApplyControlSettings(settings []v4l2.ControlSetting) {
	for _, s := range settings {
		e.pending[s.ID] = s
	}
}

// TuneAfterCapture feeds one frame's statistics to the tuner and queues the
// resulting adjustments for the next cycle. It returns the settings it
// queued.
func (e *Engine) TuneAfterCapture(stats imaging.FrameStatistics, tod tuning.TimeOfDay) []v4l2.ControlSetting {
	settings := e.tuner.TuneAfterCapture(stats, tod)
	e.ApplyControlSettings(settings)
	return settings
}

// ResetTuningCursors rewinds every candidate rotation cursor.
func (e *Engine) ResetTuningCursors() {
	e.tuner.State().ResetCursors()
}

// SetPropertyTarget sets the preferred band for a property in a time-of-day
// bucket. A negative night bound disables the night band so day values are
// reused all day.
func (e *Engine) SetPropertyTarget(property tuning.Property, tod tuning.TimeOfDay, min, max float64) error {
	return e.tuner.State().SetTarget(property, tod, min, max)
}

// AddTuner registers a tuning rule for a time-of-day bucket.
func (e *Engine) AddTuner(tod tuning.TimeOfDay, t tuning.Tuner) error {
	return e.tuner.State().AddTuner(tod, t)
}
