package tuning

import "fmt"

type tableKey struct {
	property Property
	tod      TimeOfDay
}

// State holds the long-lived tuning tables: registered tuners, target bands,
// and the per-(property, time-of-day) rotation cursors that make successive
// cycles try different candidate controls. It is owned by the caller and
// mutated only through its methods; it is not safe for concurrent use.
type State struct {
	tuners  map[tableKey][]Tuner
	cursors map[tableKey]int
	targets map[tableKey]Target
}

// NewState returns an empty tuning state.
func NewState() *State {
	return &State{
		tuners:  make(map[tableKey][]Tuner),
		cursors: make(map[tableKey]int),
		targets: make(map[tableKey]Target),
	}
}

// AddTuner registers a tuning rule for the given time-of-day bucket. An
// inverted or zero-width range is a configuration error, not a sign
// convention to guess at.
func (s *State) AddTuner(tod TimeOfDay, t Tuner) error {
	if t.RangeMin >= t.RangeMax {
		return fmt.Errorf("%w: tuner for %s control %#x has range %d..%d",
			ErrConfiguration, t.Property, t.ControlID, t.RangeMin, t.RangeMax)
	}
	key := tableKey{property: t.Property, tod: tod}
	s.tuners[key] = append(s.tuners[key], t)
	return nil
}

// SetTarget sets the preferred band for a property. A negative bound for the
// night bucket disables the night target so day values are reused all day;
// for the day bucket it is a configuration error.
func (s *State) SetTarget(property Property, tod TimeOfDay, min, max float64) error {
	key := tableKey{property: property, tod: tod}
	if min < 0 || max < 0 {
		if tod == Night {
			delete(s.targets, key)
			return nil
		}
		return fmt.Errorf("%w: negative day target %f..%f for %s",
			ErrConfiguration, min, max, property)
	}
	if min > max {
		return fmt.Errorf("%w: inverted target %f..%f for %s",
			ErrConfiguration, min, max, property)
	}
	s.targets[key] = Target{Min: min, Max: max}
	return nil
}

// target resolves the active band for a property, falling back to the day
// band when the night one is disabled.
func (s *State) target(property Property, tod TimeOfDay) (Target, bool) {
	if t, ok := s.targets[tableKey{property: property, tod: tod}]; ok {
		return t, true
	}
	if tod == Night {
		t, ok := s.targets[tableKey{property: property, tod: Day}]
		return t, ok
	}
	return Target{}, false
}

// tunersFor returns the candidate list for a property and bucket.
func (s *State) tunersFor(property Property, tod TimeOfDay) []Tuner {
	return s.tuners[tableKey{property: property, tod: tod}]
}

// cursor returns the rotation position for a property and bucket.
func (s *State) cursor(property Property, tod TimeOfDay) int {
	return s.cursors[tableKey{property: property, tod: tod}]
}

// setCursor stores the rotation position for a property and bucket.
func (s *State) setCursor(property Property, tod TimeOfDay, i int) {
	s.cursors[tableKey{property: property, tod: tod}] = i
}

// ResetCursors rewinds every rotation cursor to its first candidate.
func (s *State) ResetCursors() {
	for k := range s.cursors {
		delete(s.cursors, k)
	}
}

// widestBounds returns the lowest low bound and highest high bound across
// every tuner in the bucket that references controlID, regardless of
// property. Used by encourage-limits tuners whose control was pushed outside
// their own range by a tuner for another property.
func (s *State) widestBounds(controlID uint32, tod TimeOfDay, lo, hi int32) (int32, int32) {
	for key, list := range s.tuners {
		if key.tod != tod {
			continue
		}
		for _, t := range list {
			if t.ControlID != controlID {
				continue
			}
			if t.RangeMin < lo {
				lo = t.RangeMin
			}
			if t.RangeMax > hi {
				hi = t.RangeMax
			}
		}
	}
	return lo, hi
}
