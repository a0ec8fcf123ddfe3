package tuning

import (
	"math/rand"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stillcap/stillcap/imaging"
	"github.com/stillcap/stillcap/v4l2"
)

// ControlReader is the device surface the tuner needs: descriptors and
// current values. It is satisfied by *v4l2.Device; tests substitute a mock.
type ControlReader interface {
	QueryControl(id uint32) (v4l2.ControlDescriptor, error)
	GetControl(id uint32) (int32, error)
}

// Engine computes control adjustments from frame statistics. It adjusts at
// most one control per tracked property per call and records every adjusted
// control so two properties never fight over one control in the same cycle.
type Engine struct {
	dev   ControlReader
	state *State
	rng   *rand.Rand
}

// NewEngine returns an engine over the caller-owned state. A nil rng selects
// a time-seeded source; tests pass a fixed one.
func NewEngine(dev ControlReader, state *State, rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{dev: dev, state: state, rng: rng}
}

// State exposes the engine's tuning tables for configuration.
func (e *Engine) State() *State {
	return e.state
}

// lastValue picks the statistic backing a property.
func lastValue(stats imaging.FrameStatistics, property Property) float64 {
	switch property {
	case Brightness:
		return stats.Brightness
	case Contrast:
		return stats.Contrast
	case Saturation:
		return stats.Saturation
	}
	return -1
}

// masked reports whether tuning a property is pointless this cycle because a
// more fundamental property is far outside its band. Contrast is masked by
// extreme brightness (blackout and whiteout have no contrast to adjust) and
// saturation additionally by extreme contrast. "Far outside" means beyond
// the band by more than half the band's half-width.
func (e *Engine) masked(property Property, stats imaging.FrameStatistics, tod TimeOfDay) bool {
	outside := func(by Property) bool {
		band, ok := e.state.target(by, tod)
		if !ok {
			return false
		}
		last := lastValue(stats, by)
		if last < 0 {
			return true
		}
		margin := (band.Max - band.Min) / 4
		return last < band.Min-margin || last > band.Max+margin
	}

	switch property {
	case Contrast:
		return outside(Brightness)
	case Saturation:
		return outside(Brightness) || outside(Contrast)
	}
	return false
}

// canMove reports whether the control's value has room to move in the
// direction the property needs, within the effective bounds.
func canMove(t Tuner, last, targetMid float64, current, lo, hi int32) bool {
	switch {
	case last < targetMid:
		if t.NegativeEffect {
			return current > lo
		}
		return current < hi
	case last > targetMid:
		if t.NegativeEffect {
			return current < hi
		}
		return current > lo
	}
	return false
}

// power selects the damping power for a property/control pairing. The fast
// power is used only when the control drives its property directly (same
// name, or Gain for Brightness) and the frame is outside the preferred band;
// indirect drivers like Gamma move every property at once and get the slow
// power so they adjust less aggressively.
func (e *Engine) power(property Property, controlName string, outsideBand bool, tod TimeOfDay) float64 {
	fast, slow := tunePowers(tod)
	if !outsideBand {
		return slow
	}
	if strings.EqualFold(controlName, property.String()) {
		return fast
	}
	if property == Brightness && strings.EqualFold(controlName, "Gain") {
		return fast
	}
	return slow
}

// TuneAfterCapture consumes one frame's statistics and returns the control
// settings to apply during the next capture cycle. Properties are visited in
// fixed order; each emits at most one setting. Controls that cannot be read,
// are not plain integers, or cannot move in the needed direction are skipped
// and the rotation cursor tries the next candidate, for at most one full
// rotation per property.
func (e *Engine) TuneAfterCapture(stats imaging.FrameStatistics, tod TimeOfDay) []v4l2.ControlSetting {
	var settings []v4l2.ControlSetting
	adjusted := make(map[uint32]bool)

	for _, property := range Properties {
		last := lastValue(stats, property)
		if last < 0 {
			continue
		}
		if e.masked(property, stats, tod) {
			logrus.WithFields(logrus.Fields{
				"function": "Engine.TuneAfterCapture",
				"property": property.String(),
				"tod":      tod.String(),
			}).Debug("property masked this cycle")
			continue
		}
		band, ok := e.state.target(property, tod)
		if !ok {
			continue
		}

		if setting, ok := e.tuneProperty(property, tod, last, band, adjusted); ok {
			adjusted[setting.ID] = true
			settings = append(settings, setting)
		}
	}
	return settings
}

// tuneProperty rotates through a property's candidate tuners and adjusts the
// first usable one.
func (e *Engine) tuneProperty(property Property, tod TimeOfDay, last float64, band Target, adjusted map[uint32]bool) (v4l2.ControlSetting, bool) {
	tuners := e.state.tunersFor(property, tod)
	n := len(tuners)
	if n == 0 {
		return v4l2.ControlSetting{}, false
	}

	log := logrus.WithFields(logrus.Fields{
		"function": "Engine.tuneProperty",
		"property": property.String(),
		"tod":      tod.String(),
	})
	start := e.state.cursor(property, tod) % n

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		t := tuners[idx]
		if adjusted[t.ControlID] {
			continue
		}

		desc, err := e.dev.QueryControl(t.ControlID)
		if err != nil {
			log.WithFields(logrus.Fields{
				"control": t.ControlID,
				"error":   err,
			}).Debug("skipping unreadable control")
			continue
		}
		if desc.Type != v4l2.ControlTypeInteger {
			continue
		}
		current, err := e.dev.GetControl(t.ControlID)
		if err != nil {
			log.WithFields(logrus.Fields{
				"control": t.ControlID,
				"error":   err,
			}).Debug("skipping control with unreadable value")
			continue
		}

		lo := clampI32(t.RangeMin, desc.Minimum, desc.Maximum)
		hi := clampI32(t.RangeMax, desc.Minimum, desc.Maximum)
		if hi <= lo {
			continue
		}

		// A sibling tuner for another property may have legitimately pushed
		// the shared control outside this tuner's range; encourage-limits
		// tuners then consider the widest bounds any sibling allows.
		mid := band.Midpoint()
		if t.EncourageLimits {
			if (last < mid && current > hi) || (last > mid && current < lo) {
				lo, hi = e.state.widestBounds(t.ControlID, tod, lo, hi)
				lo = clampI32(lo, desc.Minimum, desc.Maximum)
				hi = clampI32(hi, desc.Minimum, desc.Maximum)
			}
		}

		if !canMove(t, last, mid, current, lo, hi) {
			continue
		}

		outsideBand := !band.Contains(last)
		value, ok := computeTunedValue(tuneInput{
			tuner:   t,
			desc:    desc,
			lo:      lo,
			hi:      hi,
			last:    last,
			target:  band,
			current: current,
			power:   e.power(property, desc.Name, outsideBand, tod),
		}, e.rng)
		if !ok {
			continue
		}

		e.state.setCursor(property, tod, (idx+1)%n)
		log.WithFields(logrus.Fields{
			"control": desc.Name,
			"from":    current,
			"to":      value,
			"last":    last,
			"target":  mid,
		}).Debug("control adjusted")
		return v4l2.ControlSetting{ID: t.ControlID, Value: v4l2.Integer(value)}, true
	}
	return v4l2.ControlSetting{}, false
}
