package log

// MultiLogger fans each capture event out to several loggers, e.g. an
// .rtlog FileLogger for later analysis alongside a SlogAdapter for live
// console output.
type MultiLogger struct {
	targets []Logger
}

// NewMultiLogger creates a MultiLogger over the given targets.
func NewMultiLogger(targets ...Logger) *MultiLogger {
	return &MultiLogger{targets: targets}
}

// Log forwards the event to every target in order.
func (m *MultiLogger) Log(event Event) {
	for _, target := range m.targets {
		target.Log(event)
	}
}

var _ Logger = (*MultiLogger)(nil)
