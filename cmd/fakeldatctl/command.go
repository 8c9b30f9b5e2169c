package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/fakeldat/go-fakeldat/internal/device"
	"github.com/fakeldat/go-fakeldat/internal/protocol"
)

// deviceOp is one parsed command from the shared grammar, ready to run
// against a session. The device acknowledges each of these with a
// report on a later poll; echo names the report kind that answer
// carries.
type deviceOp struct {
	text string // canonical form, for logs
	echo string
	run  func(*device.Session) error
}

// parseDeviceCommand parses the command grammar shared by CLI arguments
// and feed control lines:
//
//	get pollrate|mode|threshold|action
//	set pollrate <hz>
//	set mode raw|summary|combined
//	set threshold <level>
//	set action mouse left|right|middle
//	set action keyboard <a-z>
//	trigger
func parseDeviceCommand(args []string) (deviceOp, error) {
	if len(args) == 0 {
		return deviceOp{}, errors.New("empty command")
	}
	switch args[0] {
	case "get":
		if len(args) != 2 {
			return deviceOp{}, errors.New("usage: get pollrate|mode|threshold|action")
		}
		switch args[1] {
		case "pollrate":
			return deviceOp{text: "get pollrate", echo: "pollrate", run: (*device.Session).RequestPollRate}, nil
		case "mode":
			return deviceOp{text: "get mode", echo: "mode", run: (*device.Session).RequestReportMode}, nil
		case "threshold":
			return deviceOp{text: "get threshold", echo: "threshold", run: (*device.Session).RequestThreshold}, nil
		case "action":
			return deviceOp{text: "get action", echo: "action", run: (*device.Session).RequestAction}, nil
		}
		return deviceOp{}, fmt.Errorf("unknown setting %q", args[1])
	case "set":
		return parseSet(args[1:])
	case "trigger":
		if len(args) != 1 {
			return deviceOp{}, errors.New("trigger takes no arguments")
		}
		return deviceOp{text: "trigger", echo: "trigger", run: (*device.Session).Trigger}, nil
	}
	return deviceOp{}, fmt.Errorf("unknown command %q", args[0])
}

func parseSet(args []string) (deviceOp, error) {
	if len(args) < 2 {
		return deviceOp{}, errors.New("usage: set pollrate|mode|threshold|action <value>")
	}
	switch args[0] {
	case "pollrate":
		if len(args) != 2 {
			return deviceOp{}, errors.New("usage: set pollrate <hz>")
		}
		n, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil || n == 0 {
			// The firmware drops a zero rate without an answer; reject it
			// here instead of waiting out the echo timeout.
			return deviceOp{}, fmt.Errorf("pollrate wants 1-65535 Hz, got %q", args[1])
		}
		hz := uint16(n)
		return deviceOp{
			text: "set pollrate " + args[1],
			echo: "pollrate",
			run:  func(s *device.Session) error { return s.SetPollRate(hz) },
		}, nil
	case "mode":
		if len(args) != 2 {
			return deviceOp{}, errors.New("usage: set mode raw|summary|combined")
		}
		m, err := protocol.ParseReportMode(args[1])
		if err != nil {
			return deviceOp{}, err
		}
		return deviceOp{
			text: "set mode " + m.String(),
			echo: "mode",
			run:  func(s *device.Session) error { return s.SetReportMode(m) },
		}, nil
	case "threshold":
		if len(args) != 2 {
			return deviceOp{}, errors.New("usage: set threshold <level>")
		}
		n, err := strconv.ParseInt(args[1], 10, 16)
		if err != nil {
			return deviceOp{}, fmt.Errorf("threshold wants a signed 16-bit level, got %q", args[1])
		}
		v := int16(n)
		return deviceOp{
			text: "set threshold " + args[1],
			echo: "threshold",
			run:  func(s *device.Session) error { return s.SetThreshold(v) },
		}, nil
	case "action":
		if len(args) != 3 {
			return deviceOp{}, errors.New("usage: set action mouse left|right|middle, or set action keyboard <a-z>")
		}
		a, err := protocol.ParseAction(args[1], args[2])
		if err != nil {
			return deviceOp{}, err
		}
		return deviceOp{
			text: "set action " + a.String(),
			echo: "action",
			run:  func(s *device.Session) error { return s.SetAction(a) },
		}, nil
	}
	return deviceOp{}, fmt.Errorf("unknown setting %q", args[0])
}
