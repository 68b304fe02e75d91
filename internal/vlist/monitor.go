package vlist

import (
	"time"

	"fatture/internal/log"
)

// Monitor observes a list's lifecycle and render cost. Implementations must
// be safe for concurrent use; one monitor is usually shared by every list.
type Monitor interface {
	// Mounted is called after the first render following Mount.
	Mounted(name string, took time.Duration)
	// Rendered is called for every later render; updates counts them.
	Rendered(name string, updates int, took time.Duration)
	// Unmounted is called once per Unmount of a mounted list.
	Unmounted(name string, updates int)
}

type nopMonitor struct{}

func (nopMonitor) Mounted(string, time.Duration)       {}
func (nopMonitor) Rendered(string, int, time.Duration) {}
func (nopMonitor) Unmounted(string, int)               {}

// LogMonitor reports list lifecycle events at debug level.
type LogMonitor struct {
	logger *log.Logger
}

// NewLogMonitor creates a monitor writing through logger.
func NewLogMonitor(logger *log.Logger) *LogMonitor {
	if logger == nil {
		logger = log.Discard()
	}
	return &LogMonitor{logger: logger.WithComponent(log.ComponentVList)}
}

func (m *LogMonitor) Mounted(name string, took time.Duration) {
	m.logger.Debug("List mounted",
		log.FieldList, name,
		log.FieldOperation, log.OpMount,
		log.FieldDuration, took.Milliseconds())
}

func (m *LogMonitor) Rendered(name string, updates int, took time.Duration) {
	m.logger.Debug("List updated",
		log.FieldList, name,
		log.FieldOperation, log.OpRender,
		log.FieldUpdates, updates,
		log.FieldDuration, took.Milliseconds())
}

func (m *LogMonitor) Unmounted(name string, updates int) {
	m.logger.Debug("List unmounted",
		log.FieldList, name,
		log.FieldOperation, log.OpUnmount,
		log.FieldUpdates, updates)
}
