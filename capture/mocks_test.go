package capture

import (
	"fmt"
	"time"

	"github.com/stillcap/stillcap/v4l2"
)

// mockDevice simulates the streaming side of a capture node. Every dequeue
// cycles through the granted buffer indices and reports the configured
// payload length; failure fields inject errors at specific points.
type mockDevice struct {
	path    string
	granted uint32
	payload []byte

	requestErr   error
	queryErr     map[uint32]error
	mapErr       map[uint32]error
	queueErr     map[uint32]error
	streamOnErr  error
	streamOffErr error
	dequeueErr   error
	waitErr      error
	waitReady    *int

	mapped    int
	unmapped  int
	releases  int
	queues    int
	dequeues  int
	nextIndex uint32
	sequence  uint32
	streaming bool
	events    []string
	setCalls  []v4l2.ControlSetting
}

func newMockDevice(granted uint32, payload []byte) *mockDevice {
	return &mockDevice{
		path:    "/dev/mock0",
		granted: granted,
		payload: payload,
	}
}

func (m *mockDevice) record(format string, args ...interface{}) {
	m.events = append(m.events, fmt.Sprintf(format, args...))
}

func (m *mockDevice) Path() string { return m.path }

func (m *mockDevice) RequestBuffers(count uint32) (uint32, error) {
	if count == 0 {
		m.releases++
		m.record("release")
		return 0, nil
	}
	if m.requestErr != nil {
		return 0, m.requestErr
	}
	if count < m.granted {
		return count, nil
	}
	return m.granted, nil
}

func (m *mockDevice) QueryBuffer(index uint32) (v4l2.BufferInfo, error) {
	if err := m.queryErr[index]; err != nil {
		return v4l2.BufferInfo{}, err
	}
	return v4l2.BufferInfo{Index: index, Offset: index * 4096, Length: uint32(len(m.payload))}, nil
}

func (m *mockDevice) MapBuffer(info v4l2.BufferInfo) ([]byte, error) {
	if err := m.mapErr[info.Index]; err != nil {
		return nil, err
	}
	m.mapped++
	return m.payload, nil
}

func (m *mockDevice) UnmapBuffer(data []byte) error {
	m.unmapped++
	return nil
}

func (m *mockDevice) QueueBuffer(index uint32) error {
	if err := m.queueErr[index]; err != nil {
		return err
	}
	m.queues++
	m.record("queue:%d", index)
	return nil
}

func (m *mockDevice) DequeueBuffer() (v4l2.QueuedBuffer, error) {
	if m.dequeueErr != nil {
		return v4l2.QueuedBuffer{}, m.dequeueErr
	}
	index := m.nextIndex
	m.nextIndex = (m.nextIndex + 1) % m.granted
	m.sequence++
	m.dequeues++
	m.record("dequeue:%d", index)
	return v4l2.QueuedBuffer{
		Index:     index,
		BytesUsed: uint32(len(m.payload)),
		Sequence:  m.sequence,
	}, nil
}

func (m *mockDevice) StreamOn() error {
	if m.streamOnErr != nil {
		return m.streamOnErr
	}
	m.streaming = true
	m.record("streamon")
	return nil
}

func (m *mockDevice) StreamOff() error {
	if m.streamOffErr != nil {
		return m.streamOffErr
	}
	m.streaming = false
	m.record("streamoff")
	return nil
}

func (m *mockDevice) WaitFrame(timeout time.Duration) (int, error) {
	if m.waitErr != nil {
		return 0, m.waitErr
	}
	if m.waitReady != nil {
		return *m.waitReady, nil
	}
	return 1, nil
}

func (m *mockDevice) SetControl(setting v4l2.ControlSetting) error {
	m.setCalls = append(m.setCalls, setting)
	m.record("set:%#x", setting.ID)
	return nil
}

// requeues counts queue calls made after the initial ring was filled.
func (m *mockDevice) requeues() int {
	if m.queues < int(m.granted) {
		return 0
	}
	return m.queues - int(m.granted)
}
