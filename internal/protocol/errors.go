package protocol

import "fmt"

// ChecksumError reports a frame whose trailing byte does not match the
// wraparound sum of the bytes before it. The command byte itself was
// recognized, so the stream is merely corrupt, not foreign: callers
// recover by flushing pending input and carrying on.
type ChecksumError struct {
	Command    Command
	Received   byte
	Calculated byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("wrong checksum for %s: received 0x%02X, calculated 0x%02X",
		e.Command, e.Received, e.Calculated)
}

// InvalidCommandError reports an unknown wire code in frame byte 0,
// which indicates desync or a firmware the host does not speak.
type InvalidCommandError struct {
	Code byte
}

func (e *InvalidCommandError) Error() string {
	return fmt.Sprintf("invalid command 0x%02X", e.Code)
}

// InvalidSettingError reports a known settings command carrying an
// unrecognized enum payload.
type InvalidSettingError struct {
	Command Command
	Payload [2]byte
}

func (e *InvalidSettingError) Error() string {
	return fmt.Sprintf("invalid setting % X for %s", e.Payload[:], e.Command)
}

// InvalidEnumError reports a payload byte outside the value set of the
// enum named by Enum.
type InvalidEnumError struct {
	Enum  string
	Value byte
}

func (e *InvalidEnumError) Error() string {
	return fmt.Sprintf("no %s with value 0x%02X", e.Enum, e.Value)
}
