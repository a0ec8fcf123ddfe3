package capture

import (
	"time"

	"github.com/stillcap/stillcap/v4l2"
)

// Device is the subset of the device surface the pipeline drives. It is
// satisfied by *v4l2.Device; tests substitute a mock.
type Device interface {
	// Path identifies the device node for logging.
	Path() string

	// RequestBuffers allocates count memory-mapped buffers, returning the
	// granted count. Zero releases every allocation.
	RequestBuffers(count uint32) (uint32, error)

	// QueryBuffer reports the placement of the slot at index.
	QueryBuffer(index uint32) (v4l2.BufferInfo, error)

	// MapBuffer maps the slot described by info into process memory.
	MapBuffer(info v4l2.BufferInfo) ([]byte, error)

	// UnmapBuffer releases a mapping produced by MapBuffer.
	UnmapBuffer(data []byte) error

	// QueueBuffer hands the slot at index to the driver for filling.
	QueueBuffer(index uint32) error

	// DequeueBuffer removes the next filled buffer from the outgoing queue.
	DequeueBuffer() (v4l2.QueuedBuffer, error)

	// StreamOn starts streaming.
	StreamOn() error

	// StreamOff stops streaming.
	StreamOff() error

	// WaitFrame blocks until a buffer is ready or the timeout elapses,
	// returning the number of ready descriptors (zero on timeout).
	WaitFrame(timeout time.Duration) (int, error)

	// SetControl writes one hardware control value.
	SetControl(setting v4l2.ControlSetting) error
}
