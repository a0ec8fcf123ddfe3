package tuning

import (
	"github.com/stillcap/stillcap/v4l2"
)

// mockControls simulates the control side of a device: descriptors and
// current values, with per-control error injection.
type mockControls struct {
	descs    map[uint32]v4l2.ControlDescriptor
	values   map[uint32]int32
	queryErr map[uint32]error
	getErr   map[uint32]error
}

func newMockControls() *mockControls {
	return &mockControls{
		descs:    make(map[uint32]v4l2.ControlDescriptor),
		values:   make(map[uint32]int32),
		queryErr: make(map[uint32]error),
		getErr:   make(map[uint32]error),
	}
}

func (m *mockControls) add(id uint32, name string, min, max, value int32) {
	m.descs[id] = v4l2.ControlDescriptor{
		ID:      id,
		Name:    name,
		Type:    v4l2.ControlTypeInteger,
		Minimum: min,
		Maximum: max,
		Step:    1,
	}
	m.values[id] = value
}

func (m *mockControls) QueryControl(id uint32) (v4l2.ControlDescriptor, error) {
	if err := m.queryErr[id]; err != nil {
		return v4l2.ControlDescriptor{}, err
	}
	desc, ok := m.descs[id]
	if !ok {
		return v4l2.ControlDescriptor{}, v4l2.ErrDeviceIO
	}
	return desc, nil
}

func (m *mockControls) GetControl(id uint32) (int32, error) {
	if err := m.getErr[id]; err != nil {
		return 0, err
	}
	value, ok := m.values[id]
	if !ok {
		return 0, v4l2.ErrDeviceIO
	}
	return value, nil
}
