package capture

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ErrBufferSetup indicates buffer mapping or queueing failed partway through
// setup. The partially built set has already been unmapped when this is
// returned; the device should be treated as broken.
var ErrBufferSetup = errors.New("buffer setup failed")

// frameBuffer is one mapped hardware buffer slot.
type frameBuffer struct {
	index uint32
	data  []byte
}

// bufferSet owns the mapped buffer ring for one capture cycle. Close and
// Release are idempotent so teardown can run unconditionally on every exit
// path.
type bufferSet struct {
	dev      Device
	buffers  []frameBuffer
	granted  uint32
	released bool
}

// setupBuffers requests count buffers from the device, maps each granted
// slot, and queues it for capture. On any per-buffer failure the buffers
// mapped so far are closed and the hardware allocation is released; no
// partial set is left behind.
func setupBuffers(dev Device, count uint32) (*bufferSet, error) {
	granted, err := dev.RequestBuffers(count)
	if err != nil {
		return nil, err
	}
	if granted == 0 {
		return nil, fmt.Errorf("%w: device granted zero buffers for request of %d", ErrBufferSetup, count)
	}
	if granted < count {
		logrus.WithFields(logrus.Fields{
			"function":  "setupBuffers",
			"device":    dev.Path(),
			"requested": count,
			"granted":   granted,
		}).Warn("device granted fewer buffers than requested")
	}

	set := &bufferSet{dev: dev, granted: granted}
	for i := uint32(0); i < granted; i++ {
		info, err := dev.QueryBuffer(i)
		if err != nil {
			set.close()
			set.release()
			return nil, fmt.Errorf("%w: query slot %d: %v", ErrBufferSetup, i, err)
		}
		data, err := dev.MapBuffer(info)
		if err != nil {
			set.close()
			set.release()
			return nil, fmt.Errorf("%w: map slot %d: %v", ErrBufferSetup, i, err)
		}
		set.buffers = append(set.buffers, frameBuffer{index: i, data: data})
		if err := dev.QueueBuffer(i); err != nil {
			set.close()
			set.release()
			return nil, fmt.Errorf("%w: queue slot %d: %v", ErrBufferSetup, i, err)
		}
	}
	return set, nil
}

// data returns the mapped bytes for the slot at index, or nil when the index
// is outside the set.
func (s *bufferSet) data(index uint32) []byte {
	for _, b := range s.buffers {
		if b.index == index {
			return b.data
		}
	}
	return nil
}

// close unmaps every buffer in the set. Safe to call twice and on an empty
// set; unmap failures are logged and do not stop the remaining unmaps.
func (s *bufferSet) close() {
	for _, b := range s.buffers {
		if err := s.dev.UnmapBuffer(b.data); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "bufferSet.close",
				"device":   s.dev.Path(),
				"index":    b.index,
				"error":    err,
			}).Warn("failed to unmap buffer")
		}
	}
	s.buffers = nil
}

// release returns the hardware allocation to the driver with a zero-count
// buffer request. Safe to call twice.
func (s *bufferSet) release() error {
	if s.released {
		return nil
	}
	s.released = true
	if _, err := s.dev.RequestBuffers(0); err != nil {
		return err
	}
	return nil
}
