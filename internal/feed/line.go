package feed

import "github.com/fakeldat/go-fakeldat/internal/protocol"

// lineFor renders a report as one feed line. Measurement reports are
// bare CSV rows so plotting clients can consume them directly; settings
// echoes and trigger acks travel as comment lines.
func lineFor(r protocol.Report) string {
	switch r.(type) {
	case protocol.RawReport, protocol.SummaryReport:
		return r.String()
	default:
		return "# " + r.Kind() + " " + r.String()
	}
}
