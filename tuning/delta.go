package tuning

import (
	"math"
	"math/rand"

	"github.com/stillcap/stillcap/v4l2"
)

// frameRange is the span of the 0..255 photometric scale.
const frameRange = 255.0

// migratePower damps the drift of an out-of-range control value back toward
// its tuner's nearest bound.
const migratePower = 1.5

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampI32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// tunePowers returns the fast and slow damping powers for the bucket. Night
// tunes more carefully because a single headlight in a dark view produces
// huge apparent property deltas.
func tunePowers(tod TimeOfDay) (fast, slow float64) {
	if tod == Night {
		return 1.1, 1.2
	}
	return 1.05, 1.15
}

// appliedDelta converts a required property change into a damped control
// step, all in range fractions. The magnitude is |target-value|^power so
// adjustment stays gentle near the target and stronger far from it, and is
// bounded by half the remaining distance to the control bound in the step
// direction, which keeps successive steps from saturating and keeps larger
// property deltas from ever producing smaller steps.
func appliedDelta(valFrac, tgtFrac, ctrlFrac, power float64) float64 {
	d := tgtFrac - valFrac
	if d == 0 {
		return 0
	}
	mag := math.Pow(math.Abs(d), power)
	if d > 0 {
		if half := (1 - ctrlFrac) / 2; mag > half {
			mag = half
		}
		return mag
	}
	if half := ctrlFrac / 2; mag > half {
		mag = half
	}
	return -mag
}

// stepCap bounds the absolute per-cycle control step. Wide ranges get a
// randomized 1..15% cap so repeated frames do not show a visible lockstep
// crawl; narrow ranges move one step at a time.
func stepCap(rng *rand.Rand, ctrlRange int32) int32 {
	if ctrlRange <= 15 {
		return 1
	}
	if ctrlRange <= 100 {
		return int32(float64(ctrlRange) * (0.01 + rng.Float64()*0.14))
	}
	return rng.Int31n(15) + 1
}

// tuneInput is everything the delta law needs for one control adjustment.
// lo and hi are the effective tuner bounds, already clamped into the
// hardware range and widened across sibling tuners where applicable.
type tuneInput struct {
	tuner   Tuner
	desc    v4l2.ControlDescriptor
	lo      int32
	hi      int32
	last    float64
	target  Target
	current int32
	power   float64
}

// computeTunedValue applies the full delta law and returns the new control
// value. ok is false when the required change is too small to matter or the
// law lands back on the current value.
func computeTunedValue(in tuneInput, rng *rand.Rand) (int32, bool) {
	if in.hi <= in.lo {
		return 0, false
	}

	// A value parked outside the preferred range without encourage-limits
	// drifts back toward the nearest bound instead of being tuned.
	if !in.tuner.EncourageLimits && (in.current < in.lo || in.current > in.hi) {
		return migrateTowardRange(in)
	}

	ctrlRange := float64(in.hi - in.lo)
	valFrac := clamp01(in.last / frameRange)
	tgtFrac := clamp01(in.target.Midpoint() / frameRange)

	// A frame delta below a tenth of one control step cannot move the
	// control meaningfully.
	minCtrlDelta := 1 / ctrlRange
	if math.Abs(tgtFrac-valFrac) <= minCtrlDelta/10 {
		return 0, false
	}

	ctrlFrac := clamp01(float64(in.current-in.lo) / ctrlRange)
	step := appliedDelta(valFrac, tgtFrac, ctrlFrac, in.power)
	if in.tuner.NegativeEffect {
		step = -step
	}
	if step == 0 {
		return 0, false
	}

	newVal := float64(in.lo) + clamp01(ctrlFrac+step)*ctrlRange

	limit := float64(stepCap(rng, in.hi-in.lo))
	if d := newVal - float64(in.current); math.Abs(d) > limit {
		if d >= 0 {
			newVal = float64(in.current) + limit
		} else {
			newVal = float64(in.current) - limit
		}
	}

	result := int32(newVal)
	if result == in.current {
		// The real delta rounded away; nudge one step in its direction so
		// the control keeps following actual scene changes.
		if step > 0 {
			result = in.current + 1
		} else {
			result = in.current - 1
		}
	}

	result = clampI32(result, in.lo, in.hi)
	if result == in.current {
		return 0, false
	}
	return result, true
}

// migrateTowardRange moves an out-of-range value toward the nearest tuner
// bound with the same damped law, over the whole hardware range, so a
// control shared between properties with different preferred sub-ranges
// never jumps discontinuously.
func migrateTowardRange(in tuneInput) (int32, bool) {
	hwRange := float64(in.desc.Maximum - in.desc.Minimum)
	if hwRange <= 0 {
		return 0, false
	}
	bound := in.lo
	if in.current > in.hi {
		bound = in.hi
	}

	ctrlFrac := clamp01(float64(in.current-in.desc.Minimum) / hwRange)
	tgtFrac := clamp01(float64(bound-in.desc.Minimum) / hwRange)
	step := appliedDelta(ctrlFrac, tgtFrac, ctrlFrac, migratePower)
	if step == 0 {
		return 0, false
	}

	result := int32(float64(in.current) + step*hwRange)
	if result == in.current {
		if step > 0 {
			result = in.current + 1
		} else {
			result = in.current - 1
		}
	}
	result = clampI32(result, in.desc.Minimum, in.desc.Maximum)
	if result == in.current {
		return 0, false
	}
	return result, true
}
