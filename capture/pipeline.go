package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stillcap/stillcap/imaging"
	"github.com/stillcap/stillcap/v4l2"
)

// ErrSessionActive indicates a capture cycle was started while a previous
// session on the same pipeline, including a deferred teardown, still owned
// the device. This is a caller bug, not a transient condition.
var ErrSessionActive = errors.New("capture session already active")

const (
	// DefaultBufferCount is used when a request's buffer count is missing
	// or outside the accepted window.
	DefaultBufferCount = 16
	// MaxBufferCount bounds how many buffers one request may ask for.
	MaxBufferCount = 512
)

// Request describes one capture cycle.
type Request struct {
	// TargetFrame is the 1-based sequential frame to retain. Earlier frames
	// are dequeued and requeued untouched so exposure can settle.
	TargetFrame int

	// BufferCount is the size of the buffer ring. Values outside 1..512
	// fall back to DefaultBufferCount.
	BufferCount uint32

	// SavePath, when non-empty, is where the frame is written. Empty means
	// a statistics-only cycle.
	SavePath string

	// SaveQuality is forwarded to formats that accept one (0..100).
	SaveQuality int

	// SaveRaw writes the dequeued payload bytes verbatim instead of
	// re-encoding the decoded image. Captions are not possible in this mode.
	SaveRaw bool

	// Caption, when non-nil, is composited onto the frame after statistics
	// are taken and before saving.
	Caption *imaging.CaptionSpec

	// WaitBound overrides the per-frame readiness timeout. Zero means
	// DefaultWaitBound.
	WaitBound time.Duration
}

// normalize fills defaults and corrects out-of-window values.
func (r Request) normalize() Request {
	if r.TargetFrame < 1 {
		r.TargetFrame = 1
	}
	if r.BufferCount < 1 || r.BufferCount > MaxBufferCount {
		r.BufferCount = DefaultBufferCount
	}
	if r.WaitBound <= 0 {
		r.WaitBound = DefaultWaitBound
	}
	return r
}

// PhaseTimings is the wall-clock breakdown of one cycle. Teardown phases are
// zero when teardown was deferred to the background worker.
type PhaseTimings struct {
	Setup     time.Duration
	StreamOn  time.Duration
	Frames    time.Duration
	Load      time.Duration
	Stats     time.Duration
	Save      time.Duration
	StreamOff time.Duration
	Teardown  time.Duration
	Total     time.Duration
}

// log emits the per-phase share of the cycle the way long-exposure debugging
// wants to see it.
func (t PhaseTimings) log(device string) {
	total := t.Total
	if total <= 0 {
		return
	}
	pct := func(d time.Duration) float64 {
		return 100 * float64(d) / float64(total)
	}
	logrus.WithFields(logrus.Fields{
		"function":      "PhaseTimings.log",
		"device":        device,
		"total":         total,
		"setup_pct":     pct(t.Setup),
		"streamon_pct":  pct(t.StreamOn),
		"frames_pct":    pct(t.Frames),
		"load_pct":      pct(t.Load),
		"stats_pct":     pct(t.Stats),
		"save_pct":      pct(t.Save),
		"streamoff_pct": pct(t.StreamOff),
		"teardown_pct":  pct(t.Teardown),
	}).Debug("capture phase timing breakdown")
}

// Outcome is the result of one capture cycle. Broken means the device should
// be closed and reopened before the next cycle; Statistics carries the -1
// sentinel in every field when no frame could be measured.
type Outcome struct {
	Broken     bool
	Statistics imaging.FrameStatistics
	Timings    PhaseTimings
}

// Pipeline runs capture cycles against one device. It enforces single-flight
// session ownership: CaptureOneFrame returns ErrSessionActive when invoked
// while an earlier cycle or its deferred teardown is still live.
type Pipeline struct {
	dev Device

	// Focus names the optional auto/manual focus control pair used to order
	// pending control writes.
	Focus FocusControls

	// DeferTeardown moves stream-off and buffer release to a background
	// goroutine. The session stays owned until that goroutine finishes, so
	// overlapping sessions remain impossible.
	DeferTeardown bool

	mu   sync.Mutex
	busy bool
}

// NewPipeline returns a pipeline bound to dev.
func NewPipeline(dev Device) *Pipeline {
	return &Pipeline{dev: dev}
}

func (p *Pipeline) acquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy {
		return false
	}
	p.busy = true
	return true
}

func (p *Pipeline) releaseSession() {
	p.mu.Lock()
	p.busy = false
	p.mu.Unlock()
}

// CaptureOneFrame runs one full cycle: set up the buffer ring, stream until
// the target frame, extract statistics, optionally caption and save, then
// tear everything down. Teardown runs on every exit path. The pending
// settings are applied a third of the way to the target frame.
func (p *Pipeline) CaptureOneFrame(ctx context.Context, req Request, pending []v4l2.ControlSetting) (Outcome, error) {
	if !p.acquire() {
		return Outcome{}, ErrSessionActive
	}

	req = req.normalize()
	outcome := Outcome{Statistics: imaging.Unavailable()}
	log := logrus.WithFields(logrus.Fields{
		"function": "Pipeline.CaptureOneFrame",
		"device":   p.dev.Path(),
		"target":   req.TargetFrame,
		"buffers":  req.BufferCount,
	})
	start := time.Now()

	set, err := setupBuffers(p.dev, req.BufferCount)
	outcome.Timings.Setup = time.Since(start)
	if err != nil {
		p.releaseSession()
		outcome.Broken = true
		outcome.Timings.Total = time.Since(start)
		log.WithField("error", err).Error("buffer setup failed")
		return outcome, err
	}

	streaming := false
	teardown := func() {
		offStart := time.Now()
		if streaming {
			if err := p.dev.StreamOff(); err != nil {
				log.WithField("error", err).Warn("stream off failed")
			}
		}
		outcome.Timings.StreamOff = time.Since(offStart)
		tdStart := time.Now()
		set.close()
		if err := set.release(); err != nil {
			log.WithField("error", err).Warn("buffer release failed")
		}
		outcome.Timings.Teardown = time.Since(tdStart)
		p.releaseSession()
	}

	onStart := time.Now()
	if err := p.dev.StreamOn(); err != nil {
		outcome.Timings.StreamOn = time.Since(onStart)
		outcome.Broken = true
		teardown()
		outcome.Timings.Total = time.Since(start)
		log.WithField("error", err).Error("stream on failed")
		return outcome, err
	}
	streaming = true
	outcome.Timings.StreamOn = time.Since(onStart)

	selector := &frameSelector{
		dev:         p.dev,
		targetFrame: req.TargetFrame,
		waitBound:   req.WaitBound,
		applyControls: func() error {
			applySettings(p.dev, pending, p.Focus)
			return nil
		},
	}

	framesStart := time.Now()
	retained, err := selector.run(ctx)
	outcome.Timings.Frames = time.Since(framesStart)
	if err != nil {
		// A bare timeout may be transient; everything else marks the
		// device broken.
		outcome.Broken = !errors.Is(err, ErrReadTimeout)
		teardown()
		outcome.Timings.Total = time.Since(start)
		log.WithField("error", err).Error("frame selection failed")
		return outcome, err
	}

	payload := set.data(retained.Index)
	if retained.BytesUsed > 0 && int(retained.BytesUsed) <= len(payload) {
		payload = payload[:retained.BytesUsed]
	}
	err = p.extract(req, payload, &outcome, log)

	// The retained slot goes back into the ring before teardown so the
	// driver sees a complete set.
	if qerr := p.dev.QueueBuffer(retained.Index); qerr != nil {
		log.WithField("error", qerr).Warn("failed to requeue retained buffer")
		outcome.Broken = true
	}

	if p.DeferTeardown {
		outcome.Timings.Total = time.Since(start)
		result := outcome
		go func() {
			teardown()
			outcome.Timings.log(p.dev.Path())
		}()
		return result, err
	}

	teardown()
	outcome.Timings.Total = time.Since(start)
	outcome.Timings.log(p.dev.Path())
	return outcome, err
}

// extract decodes the payload, measures it, and performs the optional
// caption and save steps. Decode and save failures leave the device usable;
// only the statistics availability changes.
func (p *Pipeline) extract(req Request, payload []byte, outcome *Outcome, log *logrus.Entry) error {
	loadStart := time.Now()
	img, err := imaging.Decode(payload)
	outcome.Timings.Load = time.Since(loadStart)
	if err != nil {
		log.WithField("error", err).Warn("frame decode failed")
		return err
	}

	statsStart := time.Now()
	outcome.Statistics = imaging.Statistics(img)
	outcome.Timings.Stats = time.Since(statsStart)

	if req.SavePath == "" {
		return nil
	}

	saveStart := time.Now()
	defer func() { outcome.Timings.Save = time.Since(saveStart) }()

	if req.SaveRaw {
		if err := imaging.SaveRaw(req.SavePath, payload); err != nil {
			log.WithField("error", err).Warn("raw save failed")
		}
		return nil
	}
	if req.Caption != nil {
		img = imaging.Annotate(img, *req.Caption)
	}
	if err := imaging.Save(img, req.SavePath, req.SaveQuality); err != nil {
		log.WithField("error", err).Warn("image save failed")
	}
	return nil
}
