package tuning

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillcap/stillcap/v4l2"
)

func testDescriptor(min, max int32) v4l2.ControlDescriptor {
	return v4l2.ControlDescriptor{
		ID:      0x00980900,
		Name:    "Brightness",
		Type:    v4l2.ControlTypeInteger,
		Minimum: min,
		Maximum: max,
		Step:    1,
	}
}

func TestAppliedDelta(t *testing.T) {
	tests := []struct {
		name     string
		val, tgt float64
		ctrl     float64
		power    float64
		want     float64
	}{
		{"at target", 0.5, 0.5, 0.5, 1.1, 0},
		{"increase", 0.2, 0.6, 0.5, 1.0, 0.25}, // 0.4 capped at half remaining
		{"decrease", 0.6, 0.2, 0.5, 1.0, -0.25},
		{"small increase uncapped", 0.45, 0.5, 0.5, 1.0, 0.05},
		{"at high bound", 0.2, 0.6, 1.0, 1.1, 0},
		{"at low bound", 0.6, 0.2, 0.0, 1.1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := appliedDelta(tt.val, tt.tgt, tt.ctrl, tt.power)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestAppliedDeltaMonotone(t *testing.T) {
	// A larger required property change never produces a smaller step.
	for _, ctrlFrac := range []float64{0.0, 0.3, 0.5, 0.9} {
		prev := 0.0
		for d := 0.01; d <= 1.0; d += 0.01 {
			got := appliedDelta(0, d, ctrlFrac, 1.15)
			assert.GreaterOrEqual(t, got+1e-12, prev,
				"ctrlFrac %f delta %f", ctrlFrac, d)
			prev = got
		}
	}
}

func TestStepCap(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	assert.Equal(t, int32(1), stepCap(rng, 10))
	assert.Equal(t, int32(1), stepCap(rng, 15))

	for i := 0; i < 100; i++ {
		mid := stepCap(rng, 80)
		assert.GreaterOrEqual(t, mid, int32(0))
		assert.LessOrEqual(t, mid, int32(12))

		wide := stepCap(rng, 1000)
		assert.GreaterOrEqual(t, wide, int32(1))
		assert.LessOrEqual(t, wide, int32(15))
	}
}

func TestTunePowers(t *testing.T) {
	dayFast, daySlow := tunePowers(Day)
	nightFast, nightSlow := tunePowers(Night)
	assert.Equal(t, 1.05, dayFast)
	assert.Equal(t, 1.15, daySlow)
	assert.Equal(t, 1.1, nightFast)
	assert.Equal(t, 1.2, nightSlow)
}

func TestComputeTunedValueDiscardsTinyDelta(t *testing.T) {
	// Frame delta below a tenth of one control step is noise.
	in := tuneInput{
		tuner:   Tuner{Property: Brightness, ControlID: 1, RangeMin: 0, RangeMax: 100, EncourageLimits: true},
		desc:    testDescriptor(0, 100),
		lo:      0,
		hi:      100,
		last:    120,
		target:  Target{Min: 120.1, Max: 120.3},
		current: 50,
		power:   1.05,
	}
	_, ok := computeTunedValue(in, rand.New(rand.NewSource(1)))
	assert.False(t, ok)
}

func TestComputeTunedValueDirection(t *testing.T) {
	base := tuneInput{
		tuner:   Tuner{Property: Brightness, ControlID: 1, RangeMin: 0, RangeMax: 100, EncourageLimits: true},
		desc:    testDescriptor(0, 100),
		lo:      0,
		hi:      100,
		target:  Target{Min: 100, Max: 140},
		current: 50,
		power:   1.05,
	}

	dark := base
	dark.last = 30
	up, ok := computeTunedValue(dark, rand.New(rand.NewSource(1)))
	require.True(t, ok)
	assert.Greater(t, up, int32(50))

	bright := base
	bright.last = 220
	down, ok := computeTunedValue(bright, rand.New(rand.NewSource(1)))
	require.True(t, ok)
	assert.Less(t, down, int32(50))

	negative := dark
	negative.tuner.NegativeEffect = true
	inverted, ok := computeTunedValue(negative, rand.New(rand.NewSource(1)))
	require.True(t, ok)
	assert.Less(t, inverted, int32(50))
}

func TestComputeTunedValueMonotone(t *testing.T) {
	// Same control, same seed, growing distance from target: the applied
	// step magnitude never shrinks.
	base := tuneInput{
		tuner:   Tuner{Property: Brightness, ControlID: 1, RangeMin: 0, RangeMax: 200, EncourageLimits: true},
		desc:    testDescriptor(0, 200),
		lo:      0,
		hi:      200,
		target:  Target{Min: 180, Max: 220},
		current: 100,
		power:   1.15,
	}

	prev := 0.0
	for last := 190.0; last >= 10; last -= 10 {
		in := base
		in.last = last
		value, ok := computeTunedValue(in, rand.New(rand.NewSource(42)))
		if !ok {
			continue
		}
		step := math.Abs(float64(value - base.current))
		assert.GreaterOrEqual(t, step, prev, "last %f", last)
		prev = step
	}
}

func TestComputeTunedValueNudges(t *testing.T) {
	// A narrow control cannot express a small fractional step; it still
	// moves one unit in the right direction.
	in := tuneInput{
		tuner:   Tuner{Property: Brightness, ControlID: 1, RangeMin: 0, RangeMax: 10, EncourageLimits: true},
		desc:    testDescriptor(0, 10),
		lo:      0,
		hi:      10,
		last:    110,
		target:  Target{Min: 100, Max: 140},
		current: 5,
		power:   1.15,
	}
	value, ok := computeTunedValue(in, rand.New(rand.NewSource(1)))
	require.True(t, ok)
	assert.Equal(t, int32(6), value)
}

func TestMigrateTowardRange(t *testing.T) {
	// Without encourage-limits an out-of-range value drifts toward the
	// nearest bound instead of snapping to it.
	in := tuneInput{
		tuner:   Tuner{Property: Contrast, ControlID: 1, RangeMin: 40, RangeMax: 60},
		desc:    testDescriptor(0, 255),
		lo:      40,
		hi:      60,
		last:    30,
		target:  Target{Min: 100, Max: 140},
		current: 200,
		power:   1.15,
	}
	value, ok := computeTunedValue(in, rand.New(rand.NewSource(1)))
	require.True(t, ok)
	assert.Less(t, value, int32(200))
	assert.Greater(t, value, int32(60), "migration approaches the bound, never jumps to it")

	low := in
	low.current = 10
	value, ok = computeTunedValue(low, rand.New(rand.NewSource(1)))
	require.True(t, ok)
	assert.Greater(t, value, int32(10))
	assert.Less(t, value, int32(40))
}
