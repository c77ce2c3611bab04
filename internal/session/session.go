package session

// Package session holds the ingested flight-telemetry bundle the rest of
// the service reads. A bundle is immutable once stored: analytics and the
// metric library only ever read it, and re-ingesting a flight replaces the
// whole bundle under the same id.

// Record is a single downsampled telemetry sample: a timestamp plus the
// numeric fields present at that instant.
type Record struct {
	TMs    int64              `json:"t_ms"`
	Fields map[string]float64 `json:"fields"`
}

// StreamDescriptor summarizes one telemetry stream in the session index.
type StreamDescriptor struct {
	Name    string   `json:"name"`
	Count   int      `json:"count"`
	FirstMs int64    `json:"firstMs"`
	LastMs  int64    `json:"lastMs"`
	Fields  []string `json:"fields"`
}

// Event is a discrete flight event (mode change, failsafe, error, ...)
// extracted at ingest time, ordered ascending by timestamp.
type Event struct {
	TMs      int64  `json:"t_ms"`
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Stream   string `json:"stream,omitempty"`
}

// Gap marks a hole in a stream's raw coverage.
type Gap struct {
	StartMs    int64 `json:"startMs"`
	DurationMs int64 `json:"durationMs"`
}

// Session is the per-flight bundle: metadata, stream index, 1 Hz
// downsample, ordered event list, and per-stream gap lists.
type Session struct {
	SessionID     string                      `json:"sessionId"`
	Meta          map[string]interface{}      `json:"meta"`
	Index         map[string]StreamDescriptor `json:"index"`
	Downsample1Hz map[string][]Record         `json:"downsample1Hz"`
	Events        []Event                     `json:"events"`
	Gaps          map[string][]Gap            `json:"gaps,omitempty"`
}

// Stream returns the downsampled records for a named stream, nil if the
// stream is unknown.
func (s *Session) Stream(name string) []Record {
	if s == nil || s.Downsample1Hz == nil {
		return nil
	}
	return s.Downsample1Hz[name]
}

// HasStream reports whether the session index knows the named stream.
func (s *Session) HasStream(name string) bool {
	if s == nil {
		return false
	}
	if _, ok := s.Index[name]; ok {
		return true
	}
	_, ok := s.Downsample1Hz[name]
	return ok
}
