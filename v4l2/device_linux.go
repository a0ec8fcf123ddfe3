//go:build linux

package v4l2

import (
	"bytes"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Device is an open V4L2 capture node. It is not safe for concurrent use:
// the streaming session model is single-flight by design and the caller is
// expected to uphold exclusive ownership.
type Device struct {
	fd   int
	path string
	open bool
}

// Open opens the capture node at path in non-blocking mode. The device is
// expected to already be configured (format, resolution) by the caller.
func Open(path string) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrDeviceIO, path, err)
	}
	return &Device{fd: fd, path: path, open: true}, nil
}

// Path returns the device node path this device was opened from.
func (d *Device) Path() string { return d.path }

// Close closes the underlying file descriptor. Safe to call twice.
func (d *Device) Close() error {
	if !d.open {
		return nil
	}
	d.open = false
	if err := unix.Close(d.fd); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrDeviceIO, d.path, err)
	}
	return nil
}

func (d *Device) guard() error {
	if !d.open {
		return ErrDeviceClosed
	}
	return nil
}

// RequestBuffers asks the driver for count memory-mapped capture buffers and
// returns the granted count, which may be lower. A count of zero releases
// every previously allocated buffer and is the teardown mechanism.
func (d *Device) RequestBuffers(count uint32) (uint32, error) {
	if err := d.guard(); err != nil {
		return 0, err
	}
	req := requestBuffers{
		Count:  count,
		Type:   bufTypeVideoCapture,
		Memory: memoryMMap,
	}
	if err := ioctl(d.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("%w: REQBUFS count %d: %v", ErrDeviceIO, count, err)
	}
	return req.Count, nil
}

// QueryBuffer reports the placement of the buffer slot at index.
func (d *Device) QueryBuffer(index uint32) (BufferInfo, error) {
	if err := d.guard(); err != nil {
		return BufferInfo{}, err
	}
	buf := buffer{
		Index:  index,
		Type:   bufTypeVideoCapture,
		Memory: memoryMMap,
	}
	if err := ioctl(d.fd, vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
		return BufferInfo{}, fmt.Errorf("%w: QUERYBUF index %d: %v", ErrDeviceIO, index, err)
	}
	return BufferInfo{Index: index, Offset: buf.Offset, Length: buf.Length}, nil
}

// MapBuffer memory-maps the buffer slot described by info as a shared
// read-write region.
func (d *Device) MapBuffer(info BufferInfo) ([]byte, error) {
	if err := d.guard(); err != nil {
		return nil, err
	}
	data, err := unix.Mmap(d.fd, int64(info.Offset), int(info.Length),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap buffer %d: %v", ErrDeviceIO, info.Index, err)
	}
	return data, nil
}

// UnmapBuffer releases a mapping produced by MapBuffer.
func (d *Device) UnmapBuffer(data []byte) error {
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("%w: munmap: %v", ErrDeviceIO, err)
	}
	return nil
}

// QueueBuffer enqueues the buffer slot at index for the driver to fill.
func (d *Device) QueueBuffer(index uint32) error {
	if err := d.guard(); err != nil {
		return err
	}
	buf := buffer{
		Index:  index,
		Type:   bufTypeVideoCapture,
		Memory: memoryMMap,
	}
	if err := ioctl(d.fd, vidiocQBuf, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("%w: QBUF index %d: %v", ErrDeviceIO, index, err)
	}
	return nil
}

// DequeueBuffer removes the next filled buffer from the outgoing queue.
// Callers should wait for readiness first; with the node in non-blocking
// mode an empty queue surfaces as EAGAIN wrapped in ErrDeviceIO.
func (d *Device) DequeueBuffer() (QueuedBuffer, error) {
	if err := d.guard(); err != nil {
		return QueuedBuffer{}, err
	}
	buf := buffer{
		Type:   bufTypeVideoCapture,
		Memory: memoryMMap,
	}
	if err := ioctl(d.fd, vidiocDQBuf, unsafe.Pointer(&buf)); err != nil {
		return QueuedBuffer{}, fmt.Errorf("%w: DQBUF: %v", ErrDeviceIO, err)
	}
	return QueuedBuffer{Index: buf.Index, BytesUsed: buf.Bytesused, Sequence: buf.Sequence}, nil
}

// StreamOn starts streaming on the capture buffer type.
func (d *Device) StreamOn() error {
	if err := d.guard(); err != nil {
		return err
	}
	bufType := int32(bufTypeVideoCapture)
	if err := ioctl(d.fd, vidiocStreamOn, unsafe.Pointer(&bufType)); err != nil {
		return fmt.Errorf("%w: STREAMON: %v", ErrDeviceIO, err)
	}
	return nil
}

// StreamOff stops streaming. Empirically this is the slowest single call in
// a capture cycle; callers may run it on a teardown worker as long as the
// same device never has two overlapping sessions.
func (d *Device) StreamOff() error {
	if err := d.guard(); err != nil {
		return err
	}
	bufType := int32(bufTypeVideoCapture)
	if err := ioctl(d.fd, vidiocStreamOff, unsafe.Pointer(&bufType)); err != nil {
		return fmt.Errorf("%w: STREAMOFF: %v", ErrDeviceIO, err)
	}
	return nil
}

// WaitFrame blocks until at least one buffer is ready to dequeue or the
// timeout elapses. It returns the number of descriptors reported ready:
// zero means timeout. More than one ready descriptor is possible in theory
// and left to the caller to log.
func (d *Device) WaitFrame(timeout time.Duration) (int, error) {
	if err := d.guard(); err != nil {
		return 0, err
	}
	for {
		// select mutates both the set and the timeval, so rebuild per attempt.
		var readSet unix.FdSet
		readSet.Set(d.fd)
		tv := unix.NsecToTimeval(timeout.Nanoseconds())
		n, err := unix.Select(d.fd+1, &readSet, nil, nil, &tv)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("%w: select: %v", ErrDeviceIO, err)
		}
		return n, nil
	}
}

// QueryControl reads the immutable descriptor for one control ID.
// Disabled-flagged controls are rejected with ErrControlDisabled.
func (d *Device) QueryControl(id uint32) (ControlDescriptor, error) {
	if err := d.guard(); err != nil {
		return ControlDescriptor{}, err
	}
	qc := queryctrl{ID: id}
	if err := ioctl(d.fd, vidiocQueryctrl, unsafe.Pointer(&qc)); err != nil {
		return ControlDescriptor{}, fmt.Errorf("%w: QUERYCTRL id %#x: %v", ErrDeviceIO, id, err)
	}
	if qc.Flags&ctrlFlagDisabled != 0 {
		return ControlDescriptor{}, fmt.Errorf("%w: id %#x", ErrControlDisabled, id)
	}
	name := qc.Name[:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return ControlDescriptor{
		ID:           id,
		Name:         string(name),
		Type:         ControlType(qc.Type),
		Minimum:      qc.Minimum,
		Maximum:      qc.Maximum,
		Step:         qc.Step,
		DefaultValue: qc.DefaultValue,
	}, nil
}

// GetControl reads the current value of an integer-representable control.
func (d *Device) GetControl(id uint32) (int32, error) {
	if err := d.guard(); err != nil {
		return 0, err
	}
	ctrl := control{ID: id}
	if err := ioctl(d.fd, vidiocGCtrl, unsafe.Pointer(&ctrl)); err != nil {
		return 0, fmt.Errorf("%w: G_CTRL id %#x: %v", ErrDeviceIO, id, err)
	}
	return ctrl.Value, nil
}

// SetControl writes one control setting. Types without a 32-bit wire form
// are rejected before touching the device.
func (d *Device) SetControl(setting ControlSetting) error {
	if err := d.guard(); err != nil {
		return err
	}
	value, err := setting.Value.Wire()
	if err != nil {
		return fmt.Errorf("%w: id %#x", err, setting.ID)
	}
	ctrl := control{ID: setting.ID, Value: value}
	if err := ioctl(d.fd, vidiocSCtrl, unsafe.Pointer(&ctrl)); err != nil {
		return fmt.Errorf("%w: S_CTRL id %#x = %d: %v", ErrDeviceIO, setting.ID, value, err)
	}
	return nil
}
