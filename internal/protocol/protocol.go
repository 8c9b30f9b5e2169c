// Package protocol implements the FakeLDAT 16-byte wire protocol: the
// closed command set, the frame codec with its wraparound checksum, and
// the interpreter turning verified frames into typed reports.
package protocol

import (
	"fmt"
	"strings"
)

// Command is a wire command or report code carried in frame byte 0.
type Command byte

const (
	SetPollRate   Command = 0x01
	SetReportMode Command = 0x02
	SetThreshold  Command = 0x03
	SetAction     Command = 0x04
	ManualTrigger Command = 0x1F
	GetPollRate   Command = 0x21
	GetReportMode Command = 0x22
	GetThreshold  Command = 0x23
	GetAction     Command = 0x24
	ReportRaw     Command = 0x41
	ReportSummary Command = 0x42
)

// commandFromByte validates a wire code. The command set is closed;
// anything else means protocol desync or a firmware mismatch.
func commandFromByte(b byte) (Command, bool) {
	switch c := Command(b); c {
	case SetPollRate, SetReportMode, SetThreshold, SetAction,
		ManualTrigger,
		GetPollRate, GetReportMode, GetThreshold, GetAction,
		ReportRaw, ReportSummary:
		return c, true
	}
	return 0, false
}

func (c Command) String() string {
	switch c {
	case SetPollRate:
		return "set_pollrate"
	case SetReportMode:
		return "set_mode"
	case SetThreshold:
		return "set_threshold"
	case SetAction:
		return "set_action"
	case ManualTrigger:
		return "trigger"
	case GetPollRate:
		return "get_pollrate"
	case GetReportMode:
		return "get_mode"
	case GetThreshold:
		return "get_threshold"
	case GetAction:
		return "get_action"
	case ReportRaw:
		return "report_raw"
	case ReportSummary:
		return "report_summary"
	}
	return fmt.Sprintf("command_0x%02X", byte(c))
}

// ReportMode selects which asynchronous report kind the device streams.
type ReportMode byte

const (
	ModeRaw      ReportMode = 0
	ModeSummary  ReportMode = 1
	ModeCombined ReportMode = 2
)

func reportModeFromByte(b byte) (ReportMode, bool) {
	switch m := ReportMode(b); m {
	case ModeRaw, ModeSummary, ModeCombined:
		return m, true
	}
	return 0, false
}

func (m ReportMode) String() string {
	switch m {
	case ModeRaw:
		return "raw"
	case ModeSummary:
		return "summary"
	case ModeCombined:
		return "combined"
	}
	return fmt.Sprintf("mode_0x%02X", byte(m))
}

// ParseReportMode converts a CLI or control-line word to a ReportMode.
func ParseReportMode(s string) (ReportMode, error) {
	switch strings.ToLower(s) {
	case "raw":
		return ModeRaw, nil
	case "summary":
		return ModeSummary, nil
	case "combined":
		return ModeCombined, nil
	}
	return 0, fmt.Errorf("unknown report mode %q (use raw|summary|combined)", s)
}

// MouseButton is the button the device presses on a trigger. Values
// match the firmware's HID button mask bits.
type MouseButton byte

const (
	MouseLeft   MouseButton = 1
	MouseRight  MouseButton = 2
	MouseMiddle MouseButton = 4
)

func mouseButtonFromByte(b byte) (MouseButton, bool) {
	switch m := MouseButton(b); m {
	case MouseLeft, MouseRight, MouseMiddle:
		return m, true
	}
	return 0, false
}

func (m MouseButton) String() string {
	switch m {
	case MouseLeft:
		return "left"
	case MouseRight:
		return "right"
	case MouseMiddle:
		return "middle"
	}
	return fmt.Sprintf("button_0x%02X", byte(m))
}

// ParseMouseButton converts a CLI word to a MouseButton.
func ParseMouseButton(s string) (MouseButton, error) {
	switch strings.ToLower(s) {
	case "left":
		return MouseLeft, nil
	case "right":
		return MouseRight, nil
	case "middle":
		return MouseMiddle, nil
	}
	return 0, fmt.Errorf("unknown mouse button %q (use left|right|middle)", s)
}

// KeyboardKey is the key the device presses on a trigger, restricted to
// lowercase ASCII letters by the firmware.
type KeyboardKey byte

func keyboardKeyFromByte(b byte) (KeyboardKey, bool) {
	if b >= 'a' && b <= 'z' {
		return KeyboardKey(b), true
	}
	return 0, false
}

func (k KeyboardKey) String() string { return string(rune(k)) }

// ParseKeyboardKey converts a single-letter CLI word to a KeyboardKey.
func ParseKeyboardKey(s string) (KeyboardKey, error) {
	if len(s) == 1 {
		if k, ok := keyboardKeyFromByte(s[0]); ok {
			return k, nil
		}
	}
	return 0, fmt.Errorf("invalid keyboard key %q (use a single letter a-z)", s)
}

// ActionKind is the wire selector for the two action families.
type ActionKind byte

const (
	ActionMouse    ActionKind = 0
	ActionKeyboard ActionKind = 1
)

// ActionMode is the input event the device fires when triggered: either
// a mouse button or a keyboard key, never both.
type ActionMode struct {
	kind   ActionKind
	Button MouseButton // valid when kind == ActionMouse
	Key    KeyboardKey // valid when kind == ActionKeyboard
}

// MouseAction builds the mouse variant.
func MouseAction(b MouseButton) ActionMode {
	return ActionMode{kind: ActionMouse, Button: b}
}

// KeyboardAction builds the keyboard variant.
func KeyboardAction(k KeyboardKey) ActionMode {
	return ActionMode{kind: ActionKeyboard, Key: k}
}

// wire returns the (selector, key) byte pair sent in a settings frame.
func (a ActionMode) wire() (byte, byte) {
	if a.Kind == ActionKeyboard {
		return byte(ActionKeyboard), byte(a.Key)
	}
	return byte(ActionMouse), byte(a.Button)
}

func (a ActionMode) String() string {
	if a.Kind == ActionKeyboard {
		return "keyboard " + a.Key.String()
	}
	return "mouse " + a.Button.String()
}

// ParseAction converts a (family, value) word pair, e.g. ("mouse",
// "left") or ("keyboard", "q"), to an ActionMode.
func ParseAction(kind, arg string) (ActionMode, error) {
	switch strings.ToLower(kind) {
	case "mouse":
		b, err := ParseMouseButton(arg)
		if err != nil {
			return ActionMode{}, err
		}
		return MouseAction(b), nil
	case "keyboard":
		k, err := ParseKeyboardKey(arg)
		if err != nil {
			return ActionMode{}, err
		}
		return KeyboardAction(k), nil
	}
	return ActionMode{}, fmt.Errorf("unknown action kind %q (use mouse|keyboard)", kind)
}
