package main

import (
	"fmt"
	"io"
	"os"
)

// Helper implementations live in dedicated files: version.go, config.go,
// command.go, logger.go, hub_init.go, metrics_logger.go, backend.go,
// mdns.go, plus one file per subcommand.

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage(os.Stderr)
		return 2
	}
	switch args[0] {
	case "get", "set", "trigger":
		return runOneShot(args[0], args[1:])
	case "stream":
		return runStream(args[1:])
	case "analyze":
		return runAnalyze(args[1:])
	case "ports":
		return runPorts()
	case "discover":
		return runDiscover(args[1:])
	case "version", "--version", "-version":
		fmt.Printf("fakeldatctl %s (commit %s, built %s)\n", version, commit, date)
		return 0
	case "help", "--help", "-h":
		usage(os.Stdout)
		return 0
	}
	fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
	usage(os.Stderr)
	return 2
}

func usage(w io.Writer) {
	fmt.Fprint(w, `fakeldatctl drives a FakeLDAT latency tester over USB serial.

Usage:

  fakeldatctl <command> [flags] [args]

Commands:

  get pollrate|mode|threshold|action    read one device setting
  set pollrate <hz>                     set the sampling rate
  set mode raw|summary|combined         select the report stream
  set threshold <level>                 set the brightness trigger level
  set action mouse left|right|middle    trigger fires a mouse click
  set action keyboard <a-z>             trigger fires a key press
  trigger                               fire the configured action now
  stream                                poll continuously: CSV capture, TCP feed, metrics
  analyze [file]                        derive latency from raw CSV rows (stdin by default)
  ports                                 list serial ports
  discover                              browse for feed listeners on the LAN
  version                               print build information

Flags go before positional arguments; run 'fakeldatctl <command> -h' to list them.
`)
}
