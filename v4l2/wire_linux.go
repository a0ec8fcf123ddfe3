//go:build linux

package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	bufTypeVideoCapture = 1
	memoryMMap          = 1
)

const ctrlFlagDisabled = 0x0001

type requestBuffers struct {
	Count    uint32
	Type     uint32
	Memory   uint32
	Reserved [2]uint32
}

type timecode struct {
	Type     uint32
	Flags    uint32
	Frames   uint8
	Seconds  uint8
	Minutes  uint8
	Hours    uint8
	Userbits [4]uint8
}

type buffer struct {
	Index     uint32
	Type      uint32
	Bytesused uint32
	Flags     uint32
	Field     uint32
	Timestamp unix.Timeval
	Timecode  timecode
	Sequence  uint32
	Memory    uint32
	Offset    uint32
	_         uint32 // union padding
	Length    uint32
	Reserved2 uint32
	Reserved  uint32
}

type control struct {
	ID    uint32
	Value int32
}

type queryctrl struct {
	ID           uint32
	Type         uint32
	Name         [32]byte
	Minimum      int32
	Maximum      int32
	Step         int32
	DefaultValue int32
	Flags        uint32
	Reserved     [2]uint32
}

const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

func iow(typ, nr, size uintptr) uintptr {
	return ioc(iocWrite, typ, nr, size)
}

func iowr(typ, nr, size uintptr) uintptr {
	return ioc(iocRead|iocWrite, typ, nr, size)
}

var (
	vidiocReqbufs   = iowr('V', 8, unsafe.Sizeof(requestBuffers{}))
	vidiocQuerybuf  = iowr('V', 9, unsafe.Sizeof(buffer{}))
	vidiocQBuf      = iowr('V', 15, unsafe.Sizeof(buffer{}))
	vidiocDQBuf     = iowr('V', 17, unsafe.Sizeof(buffer{}))
	vidiocStreamOn  = iow('V', 18, unsafe.Sizeof(int32(0)))
	vidiocStreamOff = iow('V', 19, unsafe.Sizeof(int32(0)))
	vidiocGCtrl     = iowr('V', 27, unsafe.Sizeof(control{}))
	vidiocSCtrl     = iowr('V', 28, unsafe.Sizeof(control{}))
	vidiocQueryctrl = iowr('V', 36, unsafe.Sizeof(queryctrl{}))
)

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
