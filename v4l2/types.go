package v4l2

import "errors"

// ErrDeviceIO indicates an ioctl against the device failed. The device should
// be treated as broken: closed and reopened before the next capture attempt.
var ErrDeviceIO = errors.New("device I/O error")

// ErrDeviceClosed indicates an operation was attempted on a closed device.
var ErrDeviceClosed = errors.New("device is closed")

// ErrControlDisabled indicates a queried control carries the disabled flag
// and must not be read or written.
var ErrControlDisabled = errors.New("control is disabled")

// ErrUnsupportedControl indicates a control whose type the engine cannot
// carry on the wire (string and control-class entries, or unknown tags).
var ErrUnsupportedControl = errors.New("unsupported control type")

// BufferInfo describes the placement of one hardware buffer slot as reported
// by QUERYBUF. Offset is the mmap offset into the device node, Length the
// byte size of the slot.
type BufferInfo struct {
	Index  uint32
	Offset uint32
	Length uint32
}

// QueuedBuffer identifies a filled buffer returned by DQBUF. BytesUsed is the
// payload size the driver wrote into the slot.
type QueuedBuffer struct {
	Index     uint32
	BytesUsed uint32
	Sequence  uint32
}

// ControlType is the runtime type tag a device reports for each of its
// hardware controls.
type ControlType uint32

const (
	// ControlTypeInteger is a plain integer control (the only tunable kind).
	ControlTypeInteger ControlType = 1
	// ControlTypeBoolean is an on/off control.
	ControlTypeBoolean ControlType = 2
	// ControlTypeMenu selects one of an enumerated set of options.
	ControlTypeMenu ControlType = 3
	// ControlTypeButton triggers an action; it has no persistent value.
	ControlTypeButton ControlType = 4
	// ControlTypeInteger64 is a 64-bit integer control.
	ControlTypeInteger64 ControlType = 5
	// ControlTypeClass marks the start of a control class, not a real control.
	ControlTypeClass ControlType = 6
	// ControlTypeString carries a string payload.
	ControlTypeString ControlType = 7
)

// String returns the V4L2 name for the control type tag.
func (t ControlType) String() string {
	switch t {
	case ControlTypeInteger:
		return "integer"
	case ControlTypeBoolean:
		return "boolean"
	case ControlTypeMenu:
		return "menu"
	case ControlTypeButton:
		return "button"
	case ControlTypeInteger64:
		return "integer64"
	case ControlTypeClass:
		return "class"
	case ControlTypeString:
		return "string"
	}
	return "unknown"
}

// ControlDescriptor is the immutable description of one hardware control as
// read from the device with QUERYCTRL.
type ControlDescriptor struct {
	ID           uint32
	Name         string
	Type         ControlType
	Minimum      int32
	Maximum      int32
	Step         int32
	DefaultValue int32
}

// ControlValue is a closed tagged variant over the control type space.
// Unsupported types are representable so the boundary can reject them
// explicitly instead of falling through undefined.
type ControlValue struct {
	Type    ControlType
	Integer int32
	Int64   int64
	Boolean bool
	Menu    uint32
}

// Integer returns an integer-typed control value.
func Integer(v int32) ControlValue {
	return ControlValue{Type: ControlTypeInteger, Integer: v}
}

// Boolean returns a boolean-typed control value.
func Boolean(v bool) ControlValue {
	return ControlValue{Type: ControlTypeBoolean, Boolean: v}
}

// Menu returns a menu-typed control value selecting the given option index.
func Menu(index uint32) ControlValue {
	return ControlValue{Type: ControlTypeMenu, Menu: index}
}

// Wire converts the value to the 32-bit representation S_CTRL carries.
// String, class and unknown tags have no wire form and are rejected.
func (v ControlValue) Wire() (int32, error) {
	switch v.Type {
	case ControlTypeInteger:
		return v.Integer, nil
	case ControlTypeBoolean:
		if v.Boolean {
			return 1, nil
		}
		return 0, nil
	case ControlTypeMenu:
		return int32(v.Menu), nil
	case ControlTypeButton:
		// Writing any value presses the button.
		return 0, nil
	}
	return 0, ErrUnsupportedControl
}

// Tunable reports whether the value's type participates in closed-loop
// tuning. Only plain integer controls do.
func (v ControlValue) Tunable() bool {
	return v.Type == ControlTypeInteger
}

// ControlSetting is one pending control write: applied as part of an atomic
// batch immediately before streaming begins. A batch holds at most one
// setting per control ID.
type ControlSetting struct {
	ID    uint32
	Value ControlValue
}
