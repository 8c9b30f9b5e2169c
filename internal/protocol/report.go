package protocol

import (
	"fmt"
	"strconv"
)

// Report is one decoded device event. It is a sealed sum type: exactly
// one concrete variant exists per report-producing command, and
// consumers dispatch with a type switch.
//
// Kind returns a stable lowercase name used for metrics labels, feed
// comment lines and CLI output. String returns the canonical text form:
// for Raw and Summary the comma-separated row the original tooling
// parses, for settings the plain value.
type Report interface {
	isReport()
	Kind() string
	fmt.Stringer
}

// RawReport is one sensor sample: device timestamp in microseconds,
// light sensor reading and the state of the trigger input.
type RawReport struct {
	Timestamp  uint64
	Brightness uint16
	Trigger    bool
}

func (RawReport) isReport()    {}
func (RawReport) Kind() string { return "raw" }

func (r RawReport) String() string {
	t := byte('0')
	if r.Trigger {
		t = '1'
	}
	return strconv.FormatUint(r.Timestamp, 10) + "," +
		strconv.FormatUint(uint64(r.Brightness), 10) + "," + string(t)
}

// SummaryReport is one device-measured latency result: the delay between
// trigger and threshold crossing, and the threshold that was crossed.
type SummaryReport struct {
	Delay     uint64
	Threshold uint16
}

func (SummaryReport) isReport()    {}
func (SummaryReport) Kind() string { return "summary" }

func (r SummaryReport) String() string {
	return strconv.FormatUint(r.Delay, 10) + "," +
		strconv.FormatUint(uint64(r.Threshold), 10)
}

// PollRateReport echoes the sampling rate setting in Hz.
type PollRateReport uint16

func (PollRateReport) isReport()        {}
func (PollRateReport) Kind() string     { return "pollrate" }
func (r PollRateReport) String() string { return strconv.FormatUint(uint64(r), 10) }

// ModeReport echoes the report mode setting.
type ModeReport ReportMode

func (ModeReport) isReport()        {}
func (ModeReport) Kind() string     { return "mode" }
func (r ModeReport) String() string { return ReportMode(r).String() }

// ThresholdReport echoes the brightness threshold setting.
type ThresholdReport int16

func (ThresholdReport) isReport()        {}
func (ThresholdReport) Kind() string     { return "threshold" }
func (r ThresholdReport) String() string { return strconv.FormatInt(int64(r), 10) }

// ActionReport echoes the trigger action setting.
type ActionReport ActionMode

func (ActionReport) isReport()        {}
func (ActionReport) Kind() string     { return "action" }
func (r ActionReport) String() string { return ActionMode(r).String() }

// TriggerReport acknowledges a manual trigger command.
type TriggerReport struct{}

func (TriggerReport) isReport()      {}
func (TriggerReport) Kind() string   { return "trigger" }
func (TriggerReport) String() string { return "ok" }
