package lifecycle

import "log/slog"

// SlogSink writes transition events to structured logs, one line per
// transition. Error transitions log at Warn so they surface in default
// filters.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Emit(ev Event) {
	attrs := []any{
		"doc_id", ev.DocumentID,
		"from", string(ev.From),
		"to", string(ev.To),
		"at", ev.At,
	}
	for k, v := range ev.Metrics {
		attrs = append(attrs, k, v)
	}
	if ev.Cause != "" {
		attrs = append(attrs, "cause", string(ev.Cause))
		s.logger.Warn("lifecycle.transition", attrs...)
		return
	}
	s.logger.Info("lifecycle.transition", attrs...)
}

// MultiSink fans one event out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}
