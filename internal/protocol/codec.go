package protocol

import "encoding/binary"

// FrameSize is the fixed width of every frame in either direction.
const FrameSize = 16

// Frame is one wire unit: byte 0 the command, bytes 1-14 the payload,
// byte 15 the checksum.
type Frame [FrameSize]byte

// Checksum returns the 8-bit wraparound sum of every byte but the last.
func (f *Frame) Checksum() byte {
	var s byte
	for _, b := range f[:FrameSize-1] {
		s += b
	}
	return s
}

// Parse validates the command byte and checksum and returns the command
// together with the 14-byte payload window.
func (f *Frame) Parse() (Command, []byte, error) {
	cmd, ok := commandFromByte(f[0])
	if !ok {
		return 0, nil, &InvalidCommandError{Code: f[0]}
	}
	if got, want := f[FrameSize-1], f.Checksum(); got != want {
		return 0, nil, &ChecksumError{Command: cmd, Received: got, Calculated: want}
	}
	return cmd, f[1 : FrameSize-1], nil
}

// Encode builds a host-side command frame. Commands use at most the
// first two payload bytes and the rest stays zero, so the checksum is
// the sum of the three leading bytes.
func Encode(cmd Command, arg0, arg1 byte) Frame {
	var f Frame
	f[0] = byte(cmd)
	f[1] = arg0
	f[2] = arg1
	f[FrameSize-1] = byte(cmd) + arg0 + arg1
	return f
}

// EncodeUint16 builds a settings frame carrying v little-endian.
func EncodeUint16(cmd Command, v uint16) Frame {
	return Encode(cmd, byte(v), byte(v>>8))
}

// EncodeInt16 builds a settings frame carrying v little-endian.
func EncodeInt16(cmd Command, v int16) Frame {
	return EncodeUint16(cmd, uint16(v))
}

// EncodeAction builds a settings frame carrying the (selector, key)
// pair for a.
func EncodeAction(cmd Command, a ActionMode) Frame {
	sel, key := a.wire()
	return Encode(cmd, sel, key)
}

// EncodeReport builds a device-side frame carrying up to 14 payload
// bytes, the direction real hardware emits. The simulator and tests use
// it to produce report traffic.
func EncodeReport(cmd Command, payload []byte) Frame {
	var f Frame
	f[0] = byte(cmd)
	copy(f[1:FrameSize-1], payload)
	f[FrameSize-1] = f.Checksum()
	return f
}

// Decode validates f and interprets its payload as a Report.
func Decode(f *Frame) (Report, error) {
	cmd, payload, err := f.Parse()
	if err != nil {
		return nil, err
	}
	return interpret(cmd, payload)
}

// interpret dispatches on the command to produce a typed report from
// the payload window. Multi-byte fields are little-endian.
func interpret(cmd Command, p []byte) (Report, error) {
	switch cmd {
	case ReportRaw:
		return RawReport{
			Timestamp:  binary.LittleEndian.Uint64(p[0:8]),
			Brightness: binary.LittleEndian.Uint16(p[8:10]),
			Trigger:    p[10] == 1,
		}, nil
	case ReportSummary:
		return SummaryReport{
			Delay:     binary.LittleEndian.Uint64(p[0:8]),
			Threshold: binary.LittleEndian.Uint16(p[8:10]),
		}, nil
	case SetPollRate, GetPollRate:
		return PollRateReport(binary.LittleEndian.Uint16(p[0:2])), nil
	case SetReportMode, GetReportMode:
		m, ok := reportModeFromByte(p[0])
		if !ok {
			return nil, &InvalidSettingError{Command: cmd, Payload: [2]byte{p[0], p[1]}}
		}
		return ModeReport(m), nil
	case SetThreshold, GetThreshold:
		return ThresholdReport(int16(binary.LittleEndian.Uint16(p[0:2]))), nil
	case SetAction, GetAction:
		switch ActionKind(p[0]) {
		case ActionMouse:
			b, ok := mouseButtonFromByte(p[1])
			if !ok {
				return nil, &InvalidEnumError{Enum: "mouse button", Value: p[1]}
			}
			return ActionReport(MouseAction(b)), nil
		case ActionKeyboard:
			k, ok := keyboardKeyFromByte(p[1])
			if !ok {
				return nil, &InvalidEnumError{Enum: "keyboard key", Value: p[1]}
			}
			return ActionReport(KeyboardAction(k)), nil
		default:
			return nil, &InvalidSettingError{Command: cmd, Payload: [2]byte{p[0], p[1]}}
		}
	case ManualTrigger:
		return TriggerReport{}, nil
	default:
		return nil, &InvalidCommandError{Code: byte(cmd)}
	}
}
