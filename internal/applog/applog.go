// Package applog configures the structured logger every node writes to.
// Adopted from the dependency set carried by doismellburning-samoyed (see
// SPEC_FULL.md §1) since the teacher repo's own log.Printf calls carry no
// structured fields — an installation with several concurrent nodes
// benefits from knowing which node logged a line.
package applog

import (
	"os"

	"github.com/charmbracelet/log"
)

// Logger is the process-wide base logger. Nodes derive their own child
// logger with For(name).
var Logger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	TimeFormat:      "15:04:05.000",
})

// For returns a child logger tagged with the given node name, e.g.
// applog.For("recorder").Info("stream started").
func For(node string) *log.Logger {
	return Logger.With("node", node)
}
