package tuning

import "errors"

// ErrConfiguration indicates a tuner or target was rejected at registration
// time: inverted or zero-width range, or an unusable property.
var ErrConfiguration = errors.New("invalid tuning configuration")

// Property is a tracked photometric image property.
type Property uint8

const (
	// Brightness is the mean value channel of the frame.
	Brightness Property = iota
	// Contrast is the mean per-channel standard deviation of the frame.
	Contrast
	// Saturation is the mean saturation channel of the frame.
	Saturation
)

// Properties is the fixed tuning order. Brightness first because contrast
// and saturation adjustments are meaningless near blackout or whiteout.
var Properties = [3]Property{Brightness, Contrast, Saturation}

func (p Property) String() string {
	switch p {
	case Brightness:
		return "Brightness"
	case Contrast:
		return "Contrast"
	case Saturation:
		return "Saturation"
	}
	return "unknown"
}

// TimeOfDay selects which target and tuner tables are active.
type TimeOfDay uint8

const (
	// Day selects the daytime tables.
	Day TimeOfDay = iota
	// Night selects the nighttime tables; night targets fall back to day
	// values when disabled.
	Night
)

func (t TimeOfDay) String() string {
	if t == Night {
		return "night"
	}
	return "day"
}

// Tuner is one configured tuning rule: which control moves which property,
// over which sub-range, and with which polarity and limit policy. Multiple
// tuners may reference the same control for different properties.
type Tuner struct {
	Property  Property
	ControlID uint32

	// RangeMin and RangeMax bound the values this tuner prefers for its
	// control. They may be narrower than the hardware range.
	RangeMin int32
	RangeMax int32

	// NegativeEffect means increasing the control decreases the property.
	NegativeEffect bool

	// EncourageLimits hard-clamps tuned values into the range. When false a
	// value outside the range migrates toward the nearest bound instead of
	// jumping.
	EncourageLimits bool
}

// Target is a preferred band for a property, on the 0..255 frame scale.
type Target struct {
	Min float64
	Max float64
}

// Midpoint is the value the delta law steers toward.
func (t Target) Midpoint() float64 {
	return t.Min + (t.Max-t.Min)/2
}

// Contains reports whether v lies inside the band.
func (t Target) Contains(v float64) bool {
	return v >= t.Min && v <= t.Max
}
